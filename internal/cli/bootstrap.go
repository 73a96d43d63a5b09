package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/config"
	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/metrics"
	"github.com/notifyhub/purchase-notify/internal/queue"
	"github.com/notifyhub/purchase-notify/internal/secrets"
)

// runtime is what every command starts from: resolved configuration, a
// logger, a metrics registry and a context cancelled on SIGINT/SIGTERM.
type runtime struct {
	ctx     context.Context
	cfg     *config.Config
	logger  *zap.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
}

// setup loads configuration, builds the logger and overlays secrets. The
// returned stop function releases the signal handler and flushes the logger.
func setup(cmd *cobra.Command) (*runtime, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	stop := func() {
		cancel()
		_ = logger.Sync()
	}

	src, err := secrets.New(ctx, cfg.SecretBackend, cfg.AWSRegion, logger)
	if err != nil {
		stop()
		return nil, nil, err
	}
	if err := cfg.ResolveSecrets(ctx, src); err != nil {
		stop()
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	return &runtime{
		ctx:     ctx,
		cfg:     cfg,
		logger:  logger,
		reg:     reg,
		metrics: metrics.New(reg),
	}, stop, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL: %v", domain.ErrConfiguration, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func awsConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
}

// openBroker connects to the configured broker and declares the
// notification queue and its dead-letter queue.
func openBroker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (queue.Broker, error) {
	if err := cfg.RequireBroker(); err != nil {
		return nil, err
	}

	var broker queue.Broker
	switch cfg.Broker {
	case "memory":
		logger.Warn("using the in-process memory broker; messages do not survive a restart")
		broker = queue.NewMemoryBroker(0, logger)
	default:
		pb, err := queue.NewPulsarBroker(queue.PulsarConfig{
			URL:              cfg.BrokerURL,
			AdminURL:         cfg.BrokerAdminURL,
			OperationTimeout: cfg.BrokerOpTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		broker = pb
	}

	declareCtx, cancel := context.WithTimeout(ctx, cfg.BrokerOpTimeout)
	defer cancel()
	if err := queue.DeclareAll(declareCtx, broker, queueSpecs(cfg)...); err != nil {
		_ = broker.Close()
		return nil, err
	}
	return broker, nil
}

func queueSpecs(cfg *config.Config) []queue.Spec {
	return []queue.Spec{
		{Name: cfg.QueueName, Durable: cfg.QueueDurable, Partitions: cfg.QueuePartitions},
		{Name: cfg.DeadLetterQueue, Durable: true},
	}
}

// depthOf returns the broker's depth reporter, or nil when it has none.
func depthOf(broker queue.Broker) func(string) (int, error) {
	if d, ok := broker.(interface{ Depth(string) (int, error) }); ok {
		return d.Depth
	}
	return nil
}

func newHTTPServer(port string, h http.Handler, cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// serve runs the servers until ctx is cancelled or one of them fails, then
// shuts all of them down within cfg.ShutdownTimeout.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, servers ...*http.Server) error {
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			logger.Info("server starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	// Stop accepting new HTTP requests.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	return serveErr
}

// graceContext bounds the consumer drain on shutdown.
func graceContext(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), grace)
}
