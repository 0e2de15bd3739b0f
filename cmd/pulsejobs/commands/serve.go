package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/logger"
	"github.com/teranos/pulsejobs/pulse/async"
	"github.com/teranos/pulsejobs/pulse/orchestrator"
)

// ServeCmd runs the Pulse daemon
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: logger.Pulse + " Run the Pulse daemon",
	Long: logger.Pulse + ` Run the Pulse daemon in the foreground.

The daemon will:
- Reconcile jobs interrupted by a crashed daemon and re-arm pending ones,
  on startup and every pulse.reconcile_interval_seconds
- Deliver wake-ups from the configured dispatch backend to a worker pool
- Execute jobs, retry failures with backoff, and re-arm recurring jobs
- Expose Prometheus metrics when server.metrics_addr is set
- Run until interrupted (Ctrl+C), finishing in-flight attempts before exit`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().Int("workers", 0, "Number of concurrent executions (default: pulse.workers)")
	ServeCmd.Flags().String("db", "", "Database path (default: database.path)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Pulse.Workers = workers
	}
	dbPath, _ := cmd.Flags().GetString("db")

	database, err := openDatabase(cfg, dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.ComponentLogger("pulse")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := orchestrator.NewMetrics(registry)

	rt, err := newRuntime(cfg, database, true, log, orchestrator.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolCfg := async.DefaultWorkerPoolConfig()
	poolCfg.Workers = cfg.Pulse.Workers
	poolCfg.MaxPerSecond = cfg.Pulse.MaxExecutionsPerSecond
	pool := async.NewWorkerPool(context.Background(), poolCfg, rt.orch.ExecuteJob, log)

	// ✿ Opening: repair crash leftovers before any wake-up is delivered
	report, err := rt.orch.Reconcile(ctx)
	if err != nil {
		log.Warnw("Reconcile incomplete", logger.FieldError, err)
	}

	pool.Start()
	if err := rt.substrate.Start(func(jobID string) {
		if !pool.Submit(jobID) {
			log.Debugw("Wake-up dropped during shutdown", logger.FieldJobID, jobID)
		}
	}); err != nil {
		pool.Stop()
		return errors.Wrapf(err, "failed to start %s dispatch backend", cfg.Dispatch.Backend)
	}

	if interval := time.Duration(cfg.Pulse.ReconcileIntervalSeconds) * time.Second; interval > 0 {
		go reconcileEvery(ctx, rt.orch, interval, log)
	}

	var srv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("Metrics server failed", logger.FieldError, err)
			}
		}()
	}

	pterm.Success.Printf("%s Pulse daemon started\n", logger.Pulse)
	pterm.Printf("  Workers: %d\n", pool.Workers())
	pterm.Printf("  Dispatch backend: %s\n", cfg.Dispatch.Backend)
	pterm.Printf("  Recovered: %d, still running: %d, re-armed: %d\n", report.Recovered, report.Live, report.Rearmed)
	if srv != nil {
		pterm.Printf("  Metrics: http://%s/metrics\n", cfg.Server.MetricsAddr)
	}
	pterm.Info.Printf("%s Press Ctrl+C for graceful shutdown\n", logger.Pulse)

	<-ctx.Done()
	pterm.Info.Printf("\n%s Initiating graceful shutdown...\n", logger.PulseClose)

	// Stop in reverse order of startup
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	rt.substrate.Stop()
	pool.Stop()

	pterm.Success.Printf("%s Pulse daemon stopped\n", logger.Pulse)
	return nil
}

// reconcileEvery repeats reconcile so attempts abandoned by a crashed peer are
// recovered once their lease runs out
func reconcileEvery(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := orch.Reconcile(ctx); err != nil && ctx.Err() == nil {
				log.Warnw("Periodic reconcile incomplete", logger.FieldError, err)
			}
		}
	}
}
