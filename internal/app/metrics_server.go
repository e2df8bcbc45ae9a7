package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fxnlabs/compute-node/internal/config"
	"github.com/fxnlabs/compute-node/internal/metrics"
)

// MetricsPath is where collectors are exposed.
const MetricsPath = "/metrics"

// MetricsHandler serves the default registry with per-endpoint response
// counting.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(MetricsPath, metrics.Middleware(promhttp.Handler(), MetricsPath))
	return mux
}

// RegisterMetricsServer serves MetricsHandler on metrics.listenAddress
// between start and stop. Nothing is started when the address is empty.
func RegisterMetricsServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) {
	addr := cfg.Metrics.ListenAddress
	if addr == "" {
		return
	}
	log = log.Named("metrics")
	srv := &http.Server{Handler: MetricsHandler(), ReadHeaderTimeout: 5 * time.Second}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			log.Info("Serving metrics", zap.String("address", ln.Addr().String()), zap.String("path", MetricsPath))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
