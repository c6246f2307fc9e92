package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nnstreamer/aitt-go/pkg/aitt"
	"github.com/nnstreamer/aitt-go/pkg/cli"
)

var subCmd = &cobra.Command{
	Use:   "sub <topic>",
	Short: "Subscribe to a topic and print deliveries until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := args[0]

		protocolFlag, err := cmd.Flags().GetString("protocol")
		if err != nil {
			return fmt.Errorf("failed to read 'protocol' flag: %w", err)
		}

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

		handle, err := a.Subscribe(sigCtx, topic, func(topic string, payload []byte, retain bool) {
			fmt.Printf("[%s] retain=%v %s\n", topic, retain, string(payload))
		}, protocolFromFlag(protocolFlag), aitt.AtMostOnce)
		if err != nil {
			a.Disconnect(context.Background())
			return err
		}

		cli.PrintSuccess("subscribed to %q, waiting for messages (Ctrl+C to stop)", topic)
		<-sigCtx.Done()

		teardownCtx := context.Background()
		a.Unsubscribe(teardownCtx, handle)
		return a.Disconnect(teardownCtx)
	},
}

func init() {
	subCmd.Flags().String("protocol", "bus", "protocol: bus, tcp, tcp_secure, udp_srtp")
}
