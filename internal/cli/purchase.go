package cli

import (
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/api"
	"github.com/notifyhub/purchase-notify/internal/queue"
	"github.com/notifyhub/purchase-notify/internal/worker"
)

func newPurchaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purchase",
		Short: "Serve the purchase service",
		RunE:  runPurchase,
	}
	cmd.Flags().String("port", "", "HTTP port (overrides PURCHASE_HTTP_PORT)")
	cmd.Flags().Bool("migrate", true, "apply database migrations before serving")
	return cmd
}

func runPurchase(cmd *cobra.Command, _ []string) error {
	rt, stop, err := setup(cmd)
	if err != nil {
		return err
	}
	defer stop()
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		rt.cfg.PurchaseHTTPPort = port
	}
	migrate, _ := cmd.Flags().GetBool("migrate")

	var pub queue.Publisher
	if rt.cfg.PublishNotifications {
		broker, err := openBroker(rt.ctx, rt.cfg, rt.logger)
		if err != nil {
			rt.logger.Error("broker unavailable", zap.Error(err))
			return err
		}
		defer broker.Close()
		pub = broker
	}

	router, closeDB, err := startPurchase(rt, pub, migrate)
	if err != nil {
		return err
	}
	defer closeDB()

	return serve(rt.ctx, rt.cfg, rt.logger, newHTTPServer(rt.cfg.PurchaseHTTPPort, router, rt.cfg))
}

// startPurchase builds the purchase service and its router and starts the
// outbox relay in the background; the relay stops with rt.ctx.
func startPurchase(rt *runtime, pub queue.Publisher, migrate bool) (http.Handler, func(), error) {
	svc, closeDB, err := buildPurchaseService(rt.ctx, rt.cfg, pub, migrate, rt.logger, rt.metrics)
	if err != nil {
		return nil, nil, err
	}

	if pub != nil && rt.cfg.PublishNotifications {
		relay := worker.NewOutboxWorker(svc, rt.cfg.RelayInterval, rt.cfg.RelayMinAge,
			rt.cfg.RelayBatchSize, rt.logger.Named("outbox"))
		go relay.Run(rt.ctx)
	}

	return api.NewPurchaseRouter(svc, rt.reg, rt.cfg.AllowedOrigins, rt.logger), closeDB, nil
}
