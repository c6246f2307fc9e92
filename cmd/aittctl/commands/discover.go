package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nnstreamer/aitt-go/pkg/cli"
)

var discoverStyle = lipgloss.NewStyle().Foreground(cli.DefaultTheme.Primary).Bold(true)

var discoverCmd = &cobra.Command{
	Use:   "discover <tag>",
	Short: "Watch discovery presence records carrying the given protocol tag",
	Long: `Watch connects to the broker, starts Discovery, and prints every
presence record carrying the given tag (e.g. "tcp", "tcp_secure",
"udp_srtp") until interrupted with Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag := args[0]

		brokerCtx, err := getContext()
		if err != nil {
			return err
		}

		a, err := newFacade(brokerCtx)
		if err != nil {
			return err
		}

		sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.Connect(sigCtx, brokerCtx.Host, brokerCtx.Port, brokerCtx.Username, brokerCtx.Password); err != nil {
			return err
		}

		watchID := a.WatchDiscovery(tag, func(senderID, status string, blob []byte) {
			line := discoverStyle.Render(fmt.Sprintf("[%s]", status)) + fmt.Sprintf(" %s tag=%s", senderID, tag)
			if len(blob) > 0 {
				line += fmt.Sprintf(" blob=%d bytes", len(blob))
			}
			fmt.Println(line)
		})

		cli.PrintSuccess("watching discovery tag %q (Ctrl+C to stop)", tag)
		<-sigCtx.Done()

		a.UnwatchDiscovery(watchID)
		return a.Disconnect(context.Background())
	},
}
