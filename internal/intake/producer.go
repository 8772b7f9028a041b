package intake

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Locker elects one producer among several processes.
type Locker interface {
	WithLeaderLock(ctx context.Context, key int64, fn func(context.Context) error) (bool, error)
}

// Producer enqueues due scans on a cron schedule.
type Producer struct {
	cron     *cron.Cron
	svc      *Service
	schedule string
	lock     Locker
	lockKey  int64
	logger   *zap.Logger
}

func NewProducer(svc *Service, schedule string, lock Locker, lockKey int64, logger *zap.Logger) *Producer {
	cl := cron.PrintfLogger(zap.NewStdLog(logger))
	return &Producer{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		svc:      svc,
		schedule: schedule,
		lock:     lock,
		lockKey:  lockKey,
		logger:   logger,
	}
}

// Start registers the schedule, starts cron and runs one pass right away.
func (p *Producer) Start(ctx context.Context) error {
	if _, err := p.cron.AddFunc(p.schedule, func() { p.RunOnce(ctx) }); err != nil {
		return err
	}
	p.cron.Start()
	p.logger.Info("producer started", zap.String("schedule", p.schedule))
	go p.RunOnce(ctx)
	return nil
}

// Stop stops the schedule and waits for a running pass to finish.
func (p *Producer) Stop() {
	<-p.cron.Stop().Done()
	p.logger.Info("producer stopped")
}

// RunOnce enqueues due scans if this process holds the leader lock.
func (p *Producer) RunOnce(ctx context.Context) int {
	var n int
	run := func(ctx context.Context) error {
		var err error
		n, err = p.svc.EnqueueDue(ctx)
		return err
	}
	var (
		leader = true
		err    error
	)
	if p.lock != nil {
		leader, err = p.lock.WithLeaderLock(ctx, p.lockKey, run)
	} else {
		err = run(ctx)
	}
	switch {
	case err != nil:
		p.logger.Error("producer pass failed", zap.Error(err))
	case !leader:
		p.logger.Debug("not leader, skipping producer pass")
	default:
		p.logger.Info("producer pass complete", zap.Int("enqueued", n))
	}
	return n
}
