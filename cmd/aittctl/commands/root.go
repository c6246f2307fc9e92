package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nnstreamer/aitt-go/pkg/cli"
)

const appName = "aittctl"

var (
	// Global flags
	cfgFile     string
	contextName string
	verbose     bool

	// Global configuration
	globalConfig *cli.Config
)

var rootCmd = &cobra.Command{
	Use:   "aittctl",
	Short: "Command-line client for AITT broker-mediated and direct transports",
	Long: `aittctl - a command line client for AITT pub/sub messaging.

Configuration is stored in ~/.aitt/aittctl/ and supports multiple
contexts, similar to kubectl's context management.

Examples:
  # Set up a new context
  aittctl config add-context home --host 127.0.0.1 --port 1883

  # Use a context to run commands
  aittctl -c home sub room/chat
  aittctl -c home pub room/chat --payload "hello"

  # Watch discovered peers advertising a TCP transport
  aittctl -c home discover tcp`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "", "", "config file (default is ~/.aitt/aittctl/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(pubCmd)
	rootCmd.AddCommand(subCmd)
	rootCmd.AddCommand(discoverCmd)
}

// configLoadErr stores the error from cli.LoadConfigWithPath for
// deferred reporting via getConfig, matching the teacher's
// init-time-load/deferred-error pattern.
var configLoadErr error

func initConfig() {
	cfg, err := cli.LoadConfigWithPath(appName, cfgFile)
	if err != nil {
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// getConfig returns the global configuration. If initConfig recorded a
// load error, that error is returned; if no configuration has been loaded
// yet, it is loaded here.
func getConfig() (*cli.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := cli.LoadConfigWithPath(appName, cfgFile)
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// getContext resolves the context to use for this invocation: the -c
// flag if given, else the config's current context.
func getContext() (*cli.Context, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	ctx, err := cfg.ResolveContext(contextName)
	if err != nil {
		if contextName == "" {
			return nil, fmt.Errorf("no context specified; use -c or set one with 'aittctl config use-context'")
		}
		return nil, err
	}
	return ctx, nil
}

func printVerbose(format string, args ...any) {
	cli.PrintVerbose(verbose, format, args...)
}
