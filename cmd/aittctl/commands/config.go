package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nnstreamer/aitt-go/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage broker contexts",
	Long: `Manage aittctl configuration and contexts.

Contexts hold the broker host/port and peer identity used to connect,
similar to kubectl's context management.

Configuration is stored in ~/.aitt/aittctl/config.yaml`,
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add a new context",
	Long: `Add a new context with the specified name.

Example:
  aittctl config add-context home --host 127.0.0.1 --port 1883 --peer-id my-laptop`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		host, err := cmd.Flags().GetString("host")
		if err != nil {
			return fmt.Errorf("failed to read 'host' flag: %w", err)
		}
		if host == "" {
			return fmt.Errorf("--host is required")
		}

		port, err := cmd.Flags().GetInt("port")
		if err != nil {
			return fmt.Errorf("failed to read 'port' flag: %w", err)
		}

		peerID, err := cmd.Flags().GetString("peer-id")
		if err != nil {
			return fmt.Errorf("failed to read 'peer-id' flag: %w", err)
		}

		username, err := cmd.Flags().GetString("username")
		if err != nil {
			return fmt.Errorf("failed to read 'username' flag: %w", err)
		}

		password, err := cmd.Flags().GetString("password")
		if err != nil {
			return fmt.Errorf("failed to read 'password' flag: %w", err)
		}

		clearSession, err := cmd.Flags().GetBool("clear-session")
		if err != nil {
			return fmt.Errorf("failed to read 'clear-session' flag: %w", err)
		}

		ctx := &cli.Context{
			Host:         host,
			Port:         port,
			PeerID:       peerID,
			Username:     username,
			Password:     password,
			ClearSession: clearSession,
		}

		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}

		cli.PrintSuccess("Context %q added successfully", name)
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteContext(name); err != nil {
			return err
		}

		cli.PrintSuccess("Context %q deleted", name)
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseContext(name); err != nil {
			return err
		}

		cli.PrintSuccess("Switched to context %q", name)
		return nil
	},
}

var configGetContextCmd = &cobra.Command{
	Use:   "get-context",
	Short: "Display the current context",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}

		if cfg.CurrentContext == "" {
			fmt.Println("No current context set")
			return nil
		}

		fmt.Println(cfg.CurrentContext)
		return nil
	},
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"get-contexts"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}

		if len(cfg.Contexts) == 0 {
			fmt.Println("No contexts configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tHOST\tPORT\tPEER ID")

		for name, ctx := range cfg.Contexts {
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", current, name, ctx.Host, ctx.Port, ctx.PeerID)
		}

		w.Flush()
		return nil
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Config file: %s\n", cfg.Path())
		fmt.Printf("Current context: %s\n", cfg.CurrentContext)
		fmt.Printf("Contexts: %d\n", len(cfg.Contexts))

		if len(cfg.Contexts) > 0 {
			fmt.Println("\nContext details:")
			for name, ctx := range cfg.Contexts {
				fmt.Printf("\n  %s:\n", name)
				fmt.Printf("    Host: %s\n", ctx.Host)
				fmt.Printf("    Port: %d\n", ctx.Port)
				if ctx.PeerID != "" {
					fmt.Printf("    Peer ID: %s\n", ctx.PeerID)
				}
				if ctx.Username != "" {
					fmt.Printf("    Username: %s\n", ctx.Username)
				}
				if ctx.Password != "" {
					fmt.Printf("    Password: %s\n", cli.MaskSecret(ctx.Password))
				}
				if ctx.ClearSession {
					fmt.Printf("    Clear session: true\n")
				}
			}
		}

		return nil
	},
}

func init() {
	configAddContextCmd.Flags().String("host", "", "Broker host (required)")
	configAddContextCmd.Flags().Int("port", 1883, "Broker port")
	configAddContextCmd.Flags().String("peer-id", "", "Peer id to identify this client (default: generated per invocation)")
	configAddContextCmd.Flags().String("username", "", "Bus Client username")
	configAddContextCmd.Flags().String("password", "", "Bus Client password")
	configAddContextCmd.Flags().Bool("clear-session", false, "Wipe retained presence from a prior session on connect")

	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configGetContextCmd)
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configViewCmd)
}
