package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sendrotor/sendrotor/internal/account"
	"github.com/sendrotor/sendrotor/internal/api"
	"github.com/sendrotor/sendrotor/internal/cache"
	"github.com/sendrotor/sendrotor/internal/pipeline"
	"github.com/sendrotor/sendrotor/internal/plan"
	"github.com/sendrotor/sendrotor/internal/queue"
	"github.com/sendrotor/sendrotor/internal/ratelimit"
	"github.com/sendrotor/sendrotor/internal/secrets"
	"github.com/sendrotor/sendrotor/internal/sender"
	"github.com/sendrotor/sendrotor/internal/validator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the delivery pipeline and management API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	logger := slog.Default().With("component", "serve")

	box, err := buildBox(logger)
	if err != nil {
		return err
	}

	cacheStore, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cacheStore.Close()

	plans, err := plan.NewRegistry(cfg.PlanLimits())
	if err != nil {
		return fmt.Errorf("plan registry: %w", err)
	}

	var dlq queue.DeadLetterStore
	if cfg.Queue.DeadLetter.Driver != "" {
		sqlStore, err := queue.NewSQLDeadLetterStore(cfg.Queue.DeadLetter)
		if err != nil {
			return fmt.Errorf("dead letter store: %w", err)
		}
		defer sqlStore.Close()
		dlq = sqlStore
	} else {
		dlq = queue.NewMemoryDeadLetterStore()
	}

	engine := queue.NewEngine(plans, dlq, cfg.Queue.Engine)
	accounts := account.NewStore(cfg.Accounts)

	buckets, err := buildBucketStore()
	if err != nil {
		return err
	}
	limiter := ratelimit.NewLimiter(plans, buckets)

	checker := validator.New(cfg.Validator, cacheStore)
	smtpSender := sender.New(cfg.Sender, box)

	pipe, err := pipeline.New(cfg.Pipeline, engine, accounts, limiter, plans, smtpSender, checker, nil)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.NewServer(cfg.API, engine, accounts, checker, box, smtpSender)
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("api server start: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sendrotor started",
		"workers", cfg.Pipeline.Workers,
		"api_enabled", cfg.API.Enabled)

	runErr := pipe.Run(ctx)

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("api server shutdown failed", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("pipeline: %w", runErr)
	}

	logger.Info("sendrotor stopped")
	return nil
}

// buildBox resolves the credential encryption key. Accounts live in process
// memory, so when no key is configured an ephemeral one still works; sealed
// credentials just do not survive a restart.
func buildBox(logger *slog.Logger) (*secrets.Box, error) {
	key, err := cfg.EncryptionKey()
	if err != nil {
		logger.Warn("no credential encryption key configured, generating an ephemeral one")
		key, err = secrets.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
	}

	box, err := secrets.NewBox(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return box, nil
}

func buildBucketStore() (ratelimit.BucketStore, error) {
	if cfg.RateLimit.Backend == "redis" {
		store, err := ratelimit.NewRedisStore(cfg.RateLimit.Addr, cfg.RateLimit.Password, cfg.RateLimit.Database)
		if err != nil {
			return nil, fmt.Errorf("rate limit store: %w", err)
		}
		return store, nil
	}
	return ratelimit.NewMemoryStore(), nil
}
