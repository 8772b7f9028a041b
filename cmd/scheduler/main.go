package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SirClappington/slotwatch/internal/config"
	"github.com/SirClappington/slotwatch/internal/intake"
	"github.com/SirClappington/slotwatch/internal/logging"
	"github.com/SirClappington/slotwatch/internal/queue"
	"github.com/SirClappington/slotwatch/internal/storage"
	"github.com/SirClappington/slotwatch/internal/vault"
)

func main() {
	cfg, err := config.LoadScheduler()
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
		logger.Fatal("scheduler exited", zap.Error(err))
	}
}

// run enqueues scans for monitored clients on cfg.ScanSchedule. Several
// schedulers may run against one Postgres ledger; only the holder of the
// advisory lock enqueues on a given tick.
func run(ctx context.Context, cfg config.Scheduler, logger *zap.Logger) (err error) {
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

	svc := intake.NewService(store, v, queue.New(rdb), logger.Named("intake"))
	p := intake.NewProducer(svc, cfg.ScanSchedule, store, cfg.LockKey, logger.Named("producer"))
	if err := p.Start(ctx); err != nil {
		return err
	}
	logger.Info("scheduler running", zap.String("schedule", cfg.ScanSchedule), zap.Int64("lock_key", cfg.LockKey))
	<-ctx.Done()
	p.Stop()
	return nil
}
