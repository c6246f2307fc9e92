// Package main provides the aittctl command-line tool.
//
// Usage:
//
//	aittctl [flags] <command> [args]
//
// Commands:
//
//	config     - Manage broker contexts
//	connect    - Test connecting to a broker and report status transitions
//	pub        - Publish one message to a topic
//	sub        - Subscribe to a topic and print deliveries until interrupted
//	discover   - Watch discovery presence records for a protocol tag
//
// Configuration is stored in ~/.aitt/aittctl/ and supports multiple
// contexts, similar to kubectl's context management.
package main

import (
	"fmt"
	"os"

	"github.com/nnstreamer/aitt-go/cmd/aittctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
