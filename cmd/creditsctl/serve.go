package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	midtransgo "github.com/midtrans/midtrans-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xraph/credits"
	"github.com/xraph/credits/api"
	"github.com/xraph/credits/assets"
	s3assets "github.com/xraph/credits/assets/s3"
	audithook "github.com/xraph/credits/audit_hook"
	"github.com/xraph/credits/auth/local"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/billing/midtrans"
	"github.com/xraph/credits/generation"
	"github.com/xraph/credits/identity"
	"github.com/xraph/credits/lock"
	redislock "github.com/xraph/credits/lock/redis"
	"github.com/xraph/credits/observability"
	"github.com/xraph/credits/purchase"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the credits HTTP API",
	Long: `Serve the credits HTTP API for the local installation.
Accounts and ledgers are held in memory; the installation identity is read
from identity_path. Purchases are verified with Midtrans when
midtrans_server_key is set, otherwise against the built-in packs.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// defaultPacks are sold when no billing backend is configured.
var defaultPacks = []purchase.Pack{
	{ProductID: "credits_10", Title: "10 credits", Credits: 10, Price: types.MustPrice("4.99", "usd")},
	{ProductID: "credits_50", Title: "50 credits", Credits: 50, Price: types.MustPrice("19.99", "usd")},
	{ProductID: "credits_120", Title: "120 credits", Credits: 120, Price: types.MustPrice("39.99", "usd")},
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.AuthSecret == "" {
		return errors.New("auth_secret is required (CREDITS_AUTH_SECRET)")
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []credits.Option{
		credits.WithLogger(logger),
		credits.WithRemoteTimeout(cfg.RemoteTimeout),
		credits.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		credits.WithPlugin(audithook.New(slogRecorder(logger), audithook.WithLogger(logger))),
	}

	var catalog *assets.Catalog
	if cfg.S3Bucket != "" {
		objects, err := s3assets.New(ctx, s3assets.Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return err
		}
		catalog = assets.NewCatalog(objects, assets.DefaultURLTTL)
		opts = append(opts, credits.WithObjectStore(objects))
	}

	ids := identity.NewStore(identity.NewFileBackend(cfg.IdentityPath))
	provider := local.New(cfg.AuthSecret)
	r := credits.New(memory.New(), ids, provider, opts...)
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	defer func() {
		if err := r.Stop(); err != nil {
			logger.Error("stop reconciler", "error", err)
		}
	}()

	locks, closeLocks := buildLocker(cfg)
	defer closeLocks()
	v := credits.NewVerifier(r, buildBilling(cfg), locks)

	serverOpts := []api.Option{
		api.WithLogger(logger),
		api.WithMetrics(reg),
		api.WithTokenValidator(provider),
	}
	if cfg.GenerationURL != "" {
		client := generation.New(cfg.GenerationURL, generation.WithAuthToken(cfg.GenerationToken))
		serverOpts = append(serverOpts, api.WithGenerator(
			credits.NewGenerator(r, client, credits.WithGenerationCost(cfg.GenerationCost)),
		))
	}
	if catalog != nil {
		serverOpts = append(serverOpts, api.WithCatalog(catalog))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(r, v, serverOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("credits api listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildBilling(cfg Config) billing.Verifier {
	if cfg.MidtransServerKey == "" {
		return billing.NewStatic(defaultPacks...)
	}
	env := midtransgo.Sandbox
	if cfg.MidtransEnv == "production" {
		env = midtransgo.Production
	}
	return midtrans.New(cfg.MidtransServerKey, env, defaultPacks)
}

func buildLocker(cfg Config) (lock.Locker, func()) {
	if cfg.RedisAddr == "" {
		return lock.NewMemory(), func() {}
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	return redislock.New(client, "credits:lock:"), func() { _ = client.Close() }
}

// slogRecorder writes audit events to the structured log.
func slogRecorder(logger *slog.Logger) audithook.RecorderFunc {
	return func(_ context.Context, ev *audithook.AuditEvent) error {
		logger.Info("audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"outcome", ev.Outcome,
			"severity", ev.Severity,
		)
		return nil
	}
}
