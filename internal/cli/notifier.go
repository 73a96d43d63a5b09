package cli

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/api"
	"github.com/notifyhub/purchase-notify/internal/api/handler"
	"github.com/notifyhub/purchase-notify/internal/queue"
	"github.com/notifyhub/purchase-notify/internal/worker"
)

func newNotifierCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifier",
		Short: "Serve the channel endpoints and run the notification consumer",
		RunE:  runNotifier,
	}
	cmd.Flags().String("port", "", "HTTP port (overrides HTTP_PORT)")
	return cmd
}

func runNotifier(cmd *cobra.Command, _ []string) error {
	rt, stop, err := setup(cmd)
	if err != nil {
		return err
	}
	defer stop()
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		rt.cfg.HTTPPort = port
	}

	broker, err := openBroker(rt.ctx, rt.cfg, rt.logger)
	if err != nil {
		rt.logger.Error("broker unavailable", zap.Error(err))
		return err
	}
	defer broker.Close()

	router, pool, err := startNotifier(rt, broker)
	if err != nil {
		return err
	}
	defer stopPool(rt, pool)

	return serve(rt.ctx, rt.cfg, rt.logger, newHTTPServer(rt.cfg.HTTPPort, router, rt.cfg))
}

// startNotifier builds the notifier, its consumer pool and its router, and
// starts the pool when CONSUMER_AUTOSTART is set.
func startNotifier(rt *runtime, broker queue.Broker) (http.Handler, *worker.Pool, error) {
	n, err := buildNotifier(rt.ctx, rt.cfg, rt.logger, rt.metrics)
	if err != nil {
		return nil, nil, err
	}
	pool := buildPool(rt.cfg, broker, n, rt.logger, rt.metrics)

	depth := depthOf(broker)
	if depth != nil {
		rt.metrics.TrackQueueDepth(rt.cfg.QueueName, depth)
	}

	deps := api.NotifierDeps{
		Notifier: n,
		Consumer: handler.NewConsumerHandler(rt.ctx, pool, rt.logger),
		Metrics:  handler.NewMetricsHandler(pool, depth),
	}
	src, err := buildForm(rt.ctx, rt.cfg, rt.logger)
	if err != nil {
		return nil, nil, err
	}
	if src != nil {
		deps.Form = handler.NewFormHandler(src, rt.logger)
	}

	if rt.cfg.ConsumerAutostart {
		if err := pool.Start(rt.ctx); err != nil {
			return nil, nil, err
		}
	}
	return api.NewNotifierRouter(deps, rt.reg, rt.cfg.AllowedOrigins, rt.logger), pool, nil
}

// stopPool drains in-flight deliveries for up to SHUTDOWN_GRACE, then
// cancels whatever is still running.
func stopPool(rt *runtime, pool *worker.Pool) {
	ctx, cancel := graceContext(rt.ctx, rt.cfg.ShutdownGrace)
	defer cancel()

	err := pool.Stop(ctx)
	switch {
	case err == nil, errors.Is(err, worker.ErrNotRunning):
	default:
		rt.logger.Warn("consumer did not drain in time", zap.Error(err))
	}
	pool.Wait()

	s := pool.Status().Stats
	rt.logger.Info("notification consumer totals",
		zap.Int64("acked", s.Acked),
		zap.Int64("requeued", s.Requeued),
		zap.Int64("dead_lettered", s.DeadLettered),
	)
}
