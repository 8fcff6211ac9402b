package main

import (
	"fmt"
	"os"

	"github.com/openresponses/orchestrator/internal/cli"
)

func main() {
	url := os.Getenv("ORCHESTRATOR_URL")
	if url == "" {
		url = "http://localhost:8080"
	}
	token := os.Getenv("ORCHESTRATOR_ADMIN_TOKEN")

	client := cli.NewClient(url, token)

	if err := cli.Run(client, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
