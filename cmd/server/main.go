package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-rewards/internal/carbon"
	"github.com/example/ride-rewards/internal/claims"
	"github.com/example/ride-rewards/internal/config"
	httpapi "github.com/example/ride-rewards/internal/http"
	"github.com/example/ride-rewards/internal/issuance"
	"github.com/example/ride-rewards/internal/logging"
	"github.com/example/ride-rewards/internal/notify"
	"github.com/example/ride-rewards/internal/offsets"
	"github.com/example/ride-rewards/internal/rewards"
	"github.com/example/ride-rewards/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger, logCloser := logging.NewFileLogger(cfg.LogLevel, cfg.LogFile)
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	// claim cursors always live in the same backend as the replay set
	var (
		store   storage.Store
		replay  rewards.ReplayGuard
		cursors claims.CursorStore
	)
	switch {
	case cfg.PGDSN != "":
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return err
		}
		if cfg.RunMigrations {
			if err := migrate(ctx, pg, cfg.MigrationsDir, logger); err != nil {
				_ = pg.Close()
				return err
			}
		}
		store, replay, cursors = pg, pg.ReplaySet(), pg.Cursors()
		logger.Info("using postgres store")
	case cfg.LevelDBPath != "":
		ldb, err := storage.NewLevelDBStore(cfg.LevelDBPath)
		if err != nil {
			return err
		}
		store, replay, cursors = ldb, ldb.ReplaySet(), ldb.Cursors()
		logger.Info("using leveldb store", "path", cfg.LevelDBPath)
	default:
		store = storage.NewMemoryStore()
		logger.Warn("using in-memory store; state is lost on restart")
	}
	defer store.Close()

	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			return err
		}
		replay = storage.NewRedisReplaySet(rc, cfg.ReplayKeyPrefix, cfg.ReplayRetention)
		cursors = claims.NewRedisCursors(rc, cfg.ClaimCursorKey)
		logger.Info("using redis replay set", "addr", cfg.RedisAddr, "retention", cfg.ReplayRetention)
	}

	var issuer rewards.Issuer
	if len(cfg.KafkaBrokers) > 0 {
		ki := issuance.NewKafkaIssuer(cfg.KafkaBrokers, cfg.IssuanceTopic)
		defer ki.Close()
		issuer = ki
		logger.Info("issuing through kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.IssuanceTopic)
	} else {
		issuer = issuance.NewBank()
		logger.Warn("no KAFKA_BROKERS; issuing into in-memory bank")
	}

	ledger := rewards.NewLedger(replay, issuer, store)
	oracle := carbon.NewOracle(store, cfg.MaxRegions)
	if err := restoreOrBootstrap(ctx, store, ledger, oracle, cfg.BootstrapFile, logger); err != nil {
		return err
	}

	wsreg := notify.NewWSRegistry()
	var notifier notify.Notifier = wsreg
	if cfg.WebhookURL != "" {
		notifier = notify.NewMulti(logger, wsreg, notify.NewWebhook(cfg.WebhookURL, cfg.WebhookKey))
	}

	var holds offsets.PaymentHolds
	if cfg.StripeAPIKey != "" {
		holds = offsets.NewStripeClient(cfg.StripeAPIKey)
	}

	api := httpapi.NewServer(httpapi.Options{
		Ledger:    ledger,
		Oracle:    oracle,
		Claims:    claims.NewService(ledger, cursors),
		Offsets:   offsets.NewService(oracle, holds, cfg.OffsetCurrency, cfg.OffsetMinimumCharge),
		WSReg:     wsreg,
		Notifier:  notifier,
		Logger:    logger,
		RateLimit: httpapi.RateLimit{RequestsPerMinute: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst},
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-rewards listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrate(ctx context.Context, pg *storage.PostgresStore, dir string, logger *slog.Logger) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx, string(b)); err != nil {
			return err
		}
		logger.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
