package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/jobline"
	"github.com/arloliu/jobline/internal/httpgen"
	"github.com/arloliu/jobline/internal/metrics"
)

func newWorkerCmd(flags *globalFlags) *cobra.Command {
	var (
		generatorURL string
		metricsAddr  string
		reconcile    bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume job requests and run them",
		Long: "Runs the durable consumer, the orchestrator and the per-owner concurrency gate. " +
			"Jobs are computed by POSTing their payload to --generator-url. Prometheus metrics are " +
			"served on --metrics-addr.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("reconcile") {
				cfg.Topology.ReconcileOnStart = reconcile
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			gen, err := httpgen.New(generatorURL, httpgen.WithClient(&http.Client{
				Timeout: cfg.Jobs.Orchestrator.ComputeTimeout + 5*time.Second,
			}))
			if err != nil {
				return err
			}

			return runWorker(cmd.Context(), cfg, logger, gen)
		},
	}

	cmd.Flags().StringVar(&generatorURL, "generator-url", "", "HTTP endpoint that computes job results (required)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics (empty disables)")
	cmd.Flags().BoolVar(&reconcile, "reconcile", true, "reconcile the topology before consuming")
	_ = cmd.MarkFlagRequired("generator-url")

	return cmd
}

func runWorker(ctx context.Context, cfg jobline.Config, logger jobline.Logger, gen jobline.Generator) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheus(reg, "jobline")

	nc, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	p, err := jobline.NewPipeline(ctx, cfg, nc, gen,
		jobline.WithLogger(logger),
		jobline.WithMetrics(collector),
	)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			if !nc.IsConnected() {
				http.Error(w, "nats disconnected", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		})
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}

			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down worker")
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		return p.Stop(stopCtx)
	})

	return g.Wait()
}
