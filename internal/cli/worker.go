package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the notification consumer without the HTTP endpoints",
		Long: "worker subscribes to the notification queue and dispatches every event\n" +
			"to the email or SMS sender until it receives SIGINT or SIGTERM.",
		RunE: runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
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

	n, err := buildNotifier(rt.ctx, rt.cfg, rt.logger, rt.metrics)
	if err != nil {
		return err
	}
	pool := buildPool(rt.cfg, broker, n, rt.logger, rt.metrics)
	if err := pool.Start(rt.ctx); err != nil {
		return err
	}

	<-rt.ctx.Done()
	rt.logger.Info("shutdown signal received")
	stopPool(rt, pool)
	return nil
}
