// Package cli wires the notifyd commands: the notifier HTTP process, the
// headless queue worker, the purchase service and the queue declarer.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the notifyd command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "notifyd",
		Short: "Purchase notification backend",
		Long: "notifyd runs the purchase service, the notification consumer and the\n" +
			"channel endpoints (email, SMS, voice) of the purchase notification backend.",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")

	root.AddCommand(
		newNotifierCommand(),
		newWorkerCommand(),
		newPurchaseCommand(),
		newStandaloneCommand(),
		newDeclareQueueCommand(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
