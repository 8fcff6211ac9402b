package cli

import (
	"flag"
	"fmt"
)

// Run dispatches a subcommand the way cmd/orchestrator-cli's main
// parses os.Args: the first argument names the subcommand, the rest
// are its flags. Returns an error for the caller to report and exit
// non-zero on.
func Run(client *Client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: orchestrator-cli <health|respond|search> [flags]")
	}

	switch args[0] {
	case "health":
		return runHealth(client)
	case "respond":
		return runRespond(client, args[1:])
	case "search":
		return runSearch(client, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runHealth(client *Client) error {
	health, err := client.Health()
	if err != nil {
		fmt.Printf("%s connection failed: %v\n", red("✗"), err)
		return err
	}
	if !health.Reachable {
		fmt.Printf("%s orchestrator unreachable\n", red("✗"))
		return fmt.Errorf("health check failed")
	}
	fmt.Printf("%s orchestrator is reachable\n", green("✓"))
	return nil
}

func runRespond(client *Client, args []string) error {
	fs := flag.NewFlagSet("respond", flag.ContinueOnError)
	model := fs.String("model", "gpt-4o", "model to use")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: orchestrator-cli respond [-model NAME] \"<input>\"")
	}

	fmt.Printf("Sending to %s...\n\n", cyan(*model))
	result, err := client.CreateResponse(ResponseRequest{Model: *model, Input: fs.Arg(0)})
	if err != nil {
		return err
	}

	PrintResponseResult(result)
	return nil
}

func runSearch(client *Client, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	store := fs.String("store", "default", "vector store id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: orchestrator-cli search [-store ID] \"<query>\"")
	}

	results, err := client.Search(*store, fs.Arg(0))
	if err != nil {
		return err
	}

	PrintSearchResults(results)
	return nil
}
