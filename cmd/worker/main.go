package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/SirClappington/slotwatch/internal/automation"
	"github.com/SirClappington/slotwatch/internal/config"
	"github.com/SirClappington/slotwatch/internal/logging"
	"github.com/SirClappington/slotwatch/internal/session"
	"github.com/SirClappington/slotwatch/internal/worker"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	once := pflag.Bool("once", false, "claim and run at most one job, then exit")
	pflag.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "idle poll interval")
	pflag.StringVar(&cfg.ProfilePath, "profile", cfg.ProfilePath, "YAML portal profile")
	pflag.StringVar(&cfg.ID, "id", cfg.ID, "worker identity sent to the producer")
	pflag.Float64Var(&cfg.RequestsPerSecond, "rps", cfg.RequestsPerSecond, "portal request rate limit")
	pflag.Parse()

	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if cfg.ID == "" {
		host, _ := os.Hostname()
		cfg.ID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, logger.With(zap.String("worker_id", cfg.ID))); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Worker, once bool, logger *zap.Logger) error {
	profile := automation.DefaultProfile()
	if cfg.ProfilePath != "" {
		var err error
		if profile, err = automation.LoadProfile(cfg.ProfilePath); err != nil {
			return err
		}
	}

	client := worker.NewClient(cfg.APIURL, cfg.Token, cfg.ID, nil)
	runner := automation.NewRunner(
		session.Factory(
			session.WithRequestsPerSecond(cfg.RequestsPerSecond),
			session.WithLogger(logger.Named("session")),
		),
		automation.WithProfile(profile),
		automation.WithProbeTimeout(cfg.ProbeTimeout),
		automation.WithHeartbeat(worker.Heartbeat(client, logger)),
		automation.WithLogger(logger.Named("automation")),
	)
	loop := worker.NewLoop(client, runner,
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithMaxBackoff(cfg.MaxBackoff),
		worker.WithLogger(logger),
	)

	if once {
		worked, err := loop.RunOnce(ctx)
		if err == nil && !worked {
			logger.Info("no job available")
		}
		return err
	}
	logger.Info("worker polling", zap.String("api", cfg.APIURL), zap.Duration("poll", cfg.PollInterval))
	return loop.Run(ctx)
}
