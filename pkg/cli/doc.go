// Package cli provides common CLI utilities for aitt-go command-line tools.
//
// This package includes:
//   - Configuration management (contexts, profiles)
//   - Output formatting (JSON, YAML, raw; table is not rendered)
//   - Request file loading (YAML/JSON)
//
// Configuration is stored in ~/.aitt/<app>/ directory, supporting
// multiple contexts similar to kubectl.
//
// Example usage:
//
//	// Initialize config for your app
//	cfg, err := cli.LoadConfig("aittctl")
//
//	// Get current context
//	ctx, err := cfg.GetCurrentContext()
//
//	// Output result
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    File:   outputPath,
//	})
package cli
