package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nnstreamer/aitt-go/pkg/bus"
	"github.com/nnstreamer/aitt-go/pkg/cli"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to the context's broker and report connection state transitions",
	Long: `Connect dials the context's broker, starts Discovery, and prints
every connection state transition until interrupted with Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		brokerCtx, err := getContext()
		if err != nil {
			return err
		}

		a, err := newFacade(brokerCtx)
		if err != nil {
			return err
		}

		a.SetConnectionCallback(func(state bus.ConnectionState) {
			cli.PrintInfo("connection state: %s", state)
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.Connect(ctx, brokerCtx.Host, brokerCtx.Port, brokerCtx.Username, brokerCtx.Password); err != nil {
			return err
		}
		cli.PrintSuccess("connected to %s:%d", brokerCtx.Host, brokerCtx.Port)

		<-ctx.Done()

		cli.PrintInfo("disconnecting...")
		return a.Disconnect(context.Background())
	},
}
