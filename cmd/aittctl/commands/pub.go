package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nnstreamer/aitt-go/pkg/aitt"
	"github.com/nnstreamer/aitt-go/pkg/cli"
)

var pubCmd = &cobra.Command{
	Use:   "pub <topic>",
	Short: "Publish one message to a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := args[0]

		payload, err := cmd.Flags().GetString("payload")
		if err != nil {
			return fmt.Errorf("failed to read 'payload' flag: %w", err)
		}
		inputFile, err := cmd.Flags().GetString("file")
		if err != nil {
			return fmt.Errorf("failed to read 'file' flag: %w", err)
		}
		if inputFile != "" {
			data, err := os.ReadFile(inputFile)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", inputFile, err)
			}
			payload = string(data)
		}

		protocolFlag, err := cmd.Flags().GetString("protocol")
		if err != nil {
			return fmt.Errorf("failed to read 'protocol' flag: %w", err)
		}
		retain, err := cmd.Flags().GetBool("retain")
		if err != nil {
			return fmt.Errorf("failed to read 'retain' flag: %w", err)
		}

		brokerCtx, err := getContext()
		if err != nil {
			return err
		}

		a, err := newFacade(brokerCtx)
		if err != nil {
			return err
		}

		ctx := context.Background()
		if err := a.Connect(ctx, brokerCtx.Host, brokerCtx.Port, brokerCtx.Username, brokerCtx.Password); err != nil {
			return err
		}
		defer a.Disconnect(ctx)

		printVerbose("publishing %d bytes to %q", len(payload), topic)
		if err := a.Publish(ctx, topic, []byte(payload), protocolFromFlag(protocolFlag), aitt.AtMostOnce, retain); err != nil {
			return err
		}

		cli.PrintSuccess("published to %q", topic)
		return nil
	},
}

func init() {
	pubCmd.Flags().String("payload", "", "message payload")
	pubCmd.Flags().String("file", "", "read payload from this file instead of --payload")
	pubCmd.Flags().String("protocol", "bus", "protocol: bus, tcp, tcp_secure, udp_srtp")
	pubCmd.Flags().Bool("retain", false, "set the retain flag")
}
