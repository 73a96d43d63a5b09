package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newStandaloneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "standalone",
		Short: "Run the purchase service and the notifier in one process",
		Long: "standalone shares one broker connection between the purchase service and\n" +
			"the notifier. With BROKER=memory and PURCHASE_STORE=memory it needs no\n" +
			"external infrastructure besides the channel providers.",
		RunE: runStandalone,
	}
}

func runStandalone(cmd *cobra.Command, _ []string) error {
	rt, stop, err := setup(cmd)
	if err != nil {
		return err
	}
	defer stop()

	broker, err := openBroker(rt.ctx, rt.cfg, rt.logger)
	if err != nil {
		rt.logger.Error("broker unavailable", zap.Error(err))
		return err
	}
	defer broker.Close()

	notifierRouter, pool, err := startNotifier(rt, broker)
	if err != nil {
		return err
	}
	defer stopPool(rt, pool)

	purchaseRouter, closeDB, err := startPurchase(rt, broker, true)
	if err != nil {
		return err
	}
	defer closeDB()

	return serve(rt.ctx, rt.cfg, rt.logger,
		newHTTPServer(rt.cfg.HTTPPort, notifierRouter, rt.cfg),
		newHTTPServer(rt.cfg.PurchaseHTTPPort, purchaseRouter, rt.cfg),
	)
}
