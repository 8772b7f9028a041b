package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/slotwatch/internal/api"
	"github.com/SirClappington/slotwatch/internal/config"
	"github.com/SirClappington/slotwatch/internal/intake"
	"github.com/SirClappington/slotwatch/internal/lease"
	"github.com/SirClappington/slotwatch/internal/logging"
	"github.com/SirClappington/slotwatch/internal/queue"
	"github.com/SirClappington/slotwatch/internal/report"
	"github.com/SirClappington/slotwatch/internal/storage"
	"github.com/SirClappington/slotwatch/internal/vault"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.API, logger *zap.Logger) (err error) {
	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	v, err := vault.New(cfg.MasterKey)
	if err != nil {
		return err
	}

	var rdb *r.Client
	if cfg.Redis.Addr != "" {
		if rdb, err = queue.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, rdb.Close()) }()
	}
	sig := queue.New(rdb)

	svc := intake.NewService(store, v, sig, logger.Named("intake"))
	if n, err := svc.SealLegacySecrets(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.Info("sealed plaintext passwords", zap.Int("clients", n))
	}

	leases := lease.New(store,
		lease.WithDuration(cfg.LeaseDuration),
		lease.WithWaiter(sig),
		lease.WithLogger(logger.Named("lease")),
	)
	srv := api.New(api.Deps{
		Store:     store,
		Leases:    leases,
		Intake:    svc,
		Reports:   report.New(store, sig, logger.Named("report")),
		Token:     cfg.WorkerToken,
		ClaimWait: cfg.ClaimWait,
		Logger:    logger.Named("http"),
	})
	// WriteTimeout leaves room for a claim long-polling up to ClaimWait.
	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.ClaimWait + 30*time.Second,
	}

	if cfg.ScanSchedule != "" {
		p := intake.NewProducer(svc, cfg.ScanSchedule, store, cfg.LockKey, logger.Named("producer"))
		if err := p.Start(ctx); err != nil {
			return err
		}
		defer p.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.Addr), zap.String("driver", cfg.DB.Driver))
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		logger.Info("api shutting down")
		return hs.Shutdown(sctx)
	})
	return g.Wait()
}
