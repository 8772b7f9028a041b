// Package worker is the poll loop: claim a job from the producer, run the
// scan pipeline on it and report the outcome.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/slotwatch/internal/automation"
	"github.com/SirClappington/slotwatch/internal/domain"
)

type API interface {
	Claim(ctx context.Context) (*domain.ClaimedJob, error)
	Complete(ctx context.Context, id string, status domain.Status, result domain.ScanResult) error
	Extend(ctx context.Context, id string) error
}

type Runner interface {
	Run(ctx context.Context, p domain.Payload) automation.Outcome
}

const (
	DefaultPollInterval = 15 * time.Second
	DefaultMaxBackoff   = 60 * time.Second
)

type Loop struct {
	api        API
	runner     Runner
	poll       time.Duration
	maxBackoff time.Duration
	logger     *zap.Logger
	sleep      func(context.Context, time.Duration) error
}

type Option func(*Loop)

func WithPollInterval(d time.Duration) Option { return func(l *Loop) { l.poll = d } }
func WithMaxBackoff(d time.Duration) Option   { return func(l *Loop) { l.maxBackoff = d } }
func WithLogger(lg *zap.Logger) Option        { return func(l *Loop) { l.logger = lg } }

func NewLoop(api API, runner Runner, opts ...Option) *Loop {
	l := &Loop{
		api:        api,
		runner:     runner,
		poll:       DefaultPollInterval,
		maxBackoff: DefaultMaxBackoff,
		logger:     zap.NewNop(),
		sleep:      sleep,
	}
	for _, o := range opts {
		o(l)
	}
	if l.maxBackoff < l.poll {
		l.maxBackoff = l.poll
	}
	return l
}

// Run polls until ctx is done. An idle producer is polled every interval; a
// producer that cannot be reached is retried with a doubling delay capped at
// the max backoff. Finishing a job claims the next one right away.
func (l *Loop) Run(ctx context.Context) error {
	backoff := l.poll
	for {
		worked, err := l.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := l.poll
		switch {
		case err != nil:
			backoff = min(backoff*2, l.maxBackoff)
			wait = backoff
			l.logger.Warn("producer unreachable", zap.Error(err), zap.Duration("retry_in", wait))
		case worked:
			backoff, wait = l.poll, 0
		default:
			backoff = l.poll
		}
		if err := l.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// RunOnce claims and processes at most one job. worked is false when there
// was nothing to claim. The error is a transport failure only: scan problems
// are reported to the producer as results.
func (l *Loop) RunOnce(ctx context.Context) (worked bool, err error) {
	job, err := l.api.Claim(ctx)
	if err != nil || job == nil {
		return false, err
	}
	log := l.logger.With(zap.String("job_id", job.ID), zap.String("client_id", job.ClientID))
	log.Info("job claimed", zap.String("kind", string(job.Kind)))

	status, result := l.process(withJob(ctx, job.ID), job)
	if err := l.api.Complete(ctx, job.ID, status, result); err != nil {
		return true, err
	}
	log.Info("job reported", zap.String("status", string(status)), zap.String("summary", result.Summary))
	return true, nil
}

func (l *Loop) process(ctx context.Context, job *domain.ClaimedJob) (status domain.Status, result domain.ScanResult) {
	defer func() {
		if v := recover(); v != nil {
			l.logger.Error("job panicked", zap.String("job_id", job.ID), zap.Any("panic", v))
			status = domain.Errored
			result = domain.ScanResult{Summary: fmt.Sprintf("Worker error: %v", v)}
		}
	}()
	if job.Kind != domain.VisaCheck {
		return domain.Done, domain.ScanResult{Summary: "Unknown job kind: " + string(job.Kind)}
	}
	out := l.runner.Run(ctx, job.Payload)
	return out.JobStatus(), out.Result()
}

type jobKey struct{}

func withJob(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobKey{}, id)
}

// Heartbeat returns a callback that renews the lease of the job being
// processed under ctx. Failures are logged; the scan carries on either way.
func Heartbeat(api API, logger *zap.Logger) func(context.Context) {
	return func(ctx context.Context) {
		id, _ := ctx.Value(jobKey{}).(string)
		if id == "" {
			return
		}
		if err := api.Extend(ctx, id); err != nil {
			logger.Warn("lease extension failed", zap.String("job_id", id), zap.Error(err))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
