package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func FormatTokens(tokens int) string {
	if tokens >= 1000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1000)
	}
	return fmt.Sprintf("%d", tokens)
}

func TruncateString(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func PrintResponseResult(r *ResponseResult) {
	fmt.Printf("%s %s\n", bold("ID:"), r.ID)
	fmt.Printf("%s %s\n", bold("Model:"), r.Model)
	if len(r.Choices) > 0 {
		fmt.Printf("%s %s\n", bold("Finish reason:"), r.Choices[0].FinishReason)
	}
	fmt.Printf("%s %s in / %s out\n", bold("Tokens:"),
		FormatTokens(r.Usage.PromptTokens), FormatTokens(r.Usage.CompletionTokens))
	fmt.Println()
	fmt.Printf("%s\n", bold("Response:"))
	if len(r.Choices) > 0 {
		fmt.Println(r.Choices[0].Message.Content)
	}
}

func PrintSearchResults(results []SearchResult) {
	if len(results) == 0 {
		fmt.Println(yellow("No results."))
		return
	}

	for i, r := range results {
		fmt.Printf("%s %s  %s %.4f  %s %s\n",
			bold(fmt.Sprintf("[%d]", i+1)),
			cyan(r.Filename),
			bold("score:"), r.Score,
			bold("chunk:"), r.ChunkID)
		for _, part := range r.Content {
			fmt.Printf("    %s\n", TruncateString(part.Text, 160))
		}
	}
}
