package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/apployd/engine/internal/config"
	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/internal/secrets"
	"github.com/apployd/engine/pkg/clock"
	"github.com/apployd/engine/pkg/coordination"
	"github.com/apployd/engine/pkg/dns"
	"github.com/apployd/engine/pkg/events"
	"github.com/apployd/engine/pkg/exec"
	"github.com/apployd/engine/pkg/ingress"
	"github.com/apployd/engine/pkg/pipeline"
	"github.com/apployd/engine/pkg/recovery"
	"github.com/apployd/engine/pkg/runtime"
	"github.com/apployd/engine/pkg/stats"
	"github.com/apployd/engine/pkg/storage"
	"github.com/apployd/engine/pkg/tls"
	"github.com/apployd/engine/pkg/worker"
)

// workerCmd runs components L-O: the deployment-queue consumer, the
// container-action consumer, the usage-stats collector and the active
// container recovery loop, plus a metrics/wake-path HTTP server.
// Grounded on the teacher's cmd/warren/main.go workerCmd, replacing its
// gRPC node-join flow with this process's direct store/queue wiring.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the engine worker process (deployment pipeline, recovery, stats)",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.WithComponent("cmd.worker")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	coordinator, err := coordination.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}

	rt, err := runtime.New(cfg.ContainerdSocketPath)
	if err != nil {
		return err
	}

	var dnsAdapter dns.Adapter = dns.NoopAdapter{}
	if cfg.DNSConfigured() {
		dnsAdapter = dns.NewCloudflareAdapter(cfg.CloudflareAPIToken, cfg.CloudflareZoneID)
	}

	router := ingress.NewRouter(cfg.NginxSitesPath, exec.New())

	secretBox, err := secrets.NewFromPassphrase(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	tlsManager, err := tls.NewManager(cfg.ACMEEmail, cfg.ACMEDirectoryURL, cfg.ACMEChallengeRoot, cfg.ACMEAccountKeyPath, secretBox, store)
	if err != nil {
		return err
	}

	publisher := events.NewPublisher(coordinator)

	p := pipeline.New(store, rt, router, tlsManager, dnsAdapter, publisher, cfg)
	proc := worker.New(store, coordinator, rt, p, publisher, cfg.EngineRegion)

	collector := stats.New(store, rt, clock.Real, cfg.PlatformContainerPrefix)
	recoveryLoop := recovery.New(store, rt, clock.Real)

	var wg sync.WaitGroup
	proc.Start(ctx)
	wg.Add(2)
	go func() { defer wg.Done(); collector.Run(ctx) }()
	go func() { defer wg.Done(); recoveryLoop.Run(ctx) }()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.EngineMetricsPort),
		Handler: worker.NewHTTPHandler(store, coordinator, cfg.EdgeWakeToken),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics/wake server stopped")
		}
	}()

	logger.Info().Int("metrics_port", cfg.EngineMetricsPort).Str("region", cfg.EngineRegion).Msg("engine worker started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	proc.Wait()
	wg.Wait()
	return nil
}
