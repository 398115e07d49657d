package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	ctrl "sigs.k8s.io/controller-runtime"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/authzkit/kuberbac/internal/config"
	"github.com/authzkit/kuberbac/internal/system"
	authorizationwebhook "github.com/authzkit/kuberbac/internal/webhook/authorization"
	"github.com/authzkit/kuberbac/pkg/authorizer"
	"github.com/authzkit/kuberbac/pkg/metrics"
	"github.com/authzkit/kuberbac/pkg/tracing"
)

const shutdownGrace = 10 * time.Second

var (
	serveAddr            string
	serveMetricsAddr     string
	serveTLSCert         string
	serveTLSKey          string
	serveRateLimit       float64
	serveRateBurst       int
	serveTracingEnabled  bool
	serveTracingEndpoint string
	serveSamplingRate    float64
	serveInsecure        bool
)

// serveCmd runs the SubjectAccessReview webhook server over the loaded store.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the RBAC evaluator as a SubjectAccessReview webhook",
	Long: `Serve the decision logic as an authorization.k8s.io/v1 webhook. The
store is loaded once at startup; POST a SubjectAccessReview to /authorize
to get a decision. Prometheus metrics are exposed on a separate listener.

Example:
  kuberbac serve -f manifests/ --addr :8443 --tls-cert tls.crt --tls-key tls.key`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyServeFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx := ctrl.SetupSignalHandler()

		store, _, err := loadStore(ctx, cfg)
		if err != nil {
			return err
		}
		metrics.SetStoreObjects(store.Counts())

		provider, err := tracing.Setup(ctx, cfg.Tracing.Exporter(), system.Version)
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				setupLog.Error(err, "failed to shut down tracing")
			}
		}()

		var limiter *rate.Limiter
		if cfg.Server.RateLimit > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
		}

		handler := &authorizationwebhook.Authorizer{
			Evaluator: authorizer.NewEvaluator(store, ctrl.Log.WithName("Authorizer")),
			Log:       ctrl.Log.WithName("Authorizer"),
			Tracer:    provider.Tracer(),
			Limiter:   limiter,
		}

		mux := http.NewServeMux()
		mux.Handle("/authorize", handler)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(crmetrics.Registry, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		setupLog.Info("starting webhook server",
			"addr", cfg.Server.Addr,
			"metricsAddr", cfg.Server.MetricsAddr,
			"tls", cfg.Server.TLSCert != "",
			"rateLimit", cfg.Server.RateLimit,
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			if cfg.Server.TLSCert != "" {
				err = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
			} else {
				err = server.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			err := metricsServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			setupLog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			err := server.Shutdown(shutdownCtx)
			if merr := metricsServer.Shutdown(shutdownCtx); err == nil {
				err = merr
			}
			return err
		})
		return g.Wait()
	},
}

// applyServeFlags copies explicitly set flags over the file config.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr = serveAddr
	}
	if flags.Changed("metrics-addr") {
		cfg.Server.MetricsAddr = serveMetricsAddr
	}
	if flags.Changed("tls-cert") {
		cfg.Server.TLSCert = serveTLSCert
	}
	if flags.Changed("tls-key") {
		cfg.Server.TLSKey = serveTLSKey
	}
	if flags.Changed("rate-limit") {
		cfg.Server.RateLimit = serveRateLimit
	}
	if flags.Changed("rate-burst") {
		cfg.Server.RateBurst = serveRateBurst
	}
	if flags.Changed("tracing-enabled") {
		cfg.Tracing.Enabled = serveTracingEnabled
	}
	if flags.Changed("tracing-endpoint") {
		cfg.Tracing.Endpoint = serveTracingEndpoint
	}
	if flags.Changed("tracing-sampling-rate") {
		cfg.Tracing.SamplingRate = serveSamplingRate
	}
	if flags.Changed("tracing-insecure") {
		cfg.Tracing.Insecure = serveInsecure
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", config.DefaultAddr, "webhook listen address")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", config.DefaultMetricsAddr, "metrics listen address")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "TLS key file")
	serveCmd.Flags().Float64Var(&serveRateLimit, "rate-limit", config.DefaultRateLimit, "sustained requests per second, 0 disables")
	serveCmd.Flags().IntVar(&serveRateBurst, "rate-burst", config.DefaultRateBurst, "burst on top of the rate limit")
	serveCmd.Flags().BoolVar(&serveTracingEnabled, "tracing-enabled", false, "enable OTLP trace export")
	serveCmd.Flags().StringVar(&serveTracingEndpoint, "tracing-endpoint", "", "OTLP collector endpoint")
	serveCmd.Flags().Float64Var(&serveSamplingRate, "tracing-sampling-rate", 1.0, "trace sampling ratio (0.0 to 1.0)")
	serveCmd.Flags().BoolVar(&serveInsecure, "tracing-insecure", false, "disable TLS for the OTLP exporter")
}
