// Package lease hands ledger jobs to workers one owner at a time.
//
// A lease is not stored separately: a job is leased while it is in_progress
// with a lease expiry in the future. Claiming first re-queues every job whose
// lease has lapsed, so no background sweeper is needed. Workers are not
// identified; a job whose worker died is simply claimed again by whoever
// asks next.
package lease

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/slotwatch/internal/domain"
	"github.com/SirClappington/slotwatch/internal/storage"
)

const DefaultDuration = 5 * time.Minute

type Ledger interface {
	ClaimNext(ctx context.Context, now, leaseUntil time.Time) (storage.Claim, error)
	ReclaimExpired(ctx context.Context, now time.Time) (int64, error)
	ExtendLease(ctx context.Context, id string, until time.Time) (bool, error)
}

// Waiter blocks until new work may be available or block elapses.
type Waiter interface {
	Wait(ctx context.Context, block time.Duration) (string, error)
}

type Manager struct {
	ledger   Ledger
	wake     Waiter
	duration time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Manager)

func WithDuration(d time.Duration) Option   { return func(m *Manager) { m.duration = d } }
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }
func WithWaiter(w Waiter) Option            { return func(m *Manager) { m.wake = w } }
func WithLogger(l *zap.Logger) Option       { return func(m *Manager) { m.logger = l } }

func New(ledger Ledger, opts ...Option) *Manager {
	m := &Manager{ledger: ledger, duration: DefaultDuration, now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	if m.duration <= 0 {
		m.duration = DefaultDuration
	}
	return m
}

func (m *Manager) Duration() time.Duration { return m.duration }

// ReclaimExpired re-queues lapsed leases without claiming anything.
func (m *Manager) ReclaimExpired(ctx context.Context) (int64, error) {
	n, err := m.ledger.ReclaimExpired(ctx, m.now())
	if n > 0 {
		m.logger.Info("reclaimed expired leases", zap.Int64("count", n))
	}
	return n, err
}

// ClaimNext returns the oldest claimable job, or nil when there is none.
// A nil job is the normal idle answer, not an error.
func (m *Manager) ClaimNext(ctx context.Context) (*domain.Job, error) {
	now := m.now()
	c, err := m.ledger.ClaimNext(ctx, now, now.Add(m.duration))
	if err != nil {
		return nil, err
	}
	if c.Reclaimed > 0 {
		m.logger.Info("reclaimed expired leases", zap.Int64("count", c.Reclaimed))
	}
	if c.Job != nil {
		fields := []zap.Field{zap.String("job_id", c.Job.ID), zap.String("client_id", c.Job.ClientID)}
		if c.Job.StartedAt != nil && c.Job.StartedAt.Before(now) {
			fields = append(fields, zap.Time("first_started_at", *c.Job.StartedAt))
		}
		m.logger.Debug("job claimed", fields...)
	}
	return c.Job, nil
}

// ClaimNextWait is ClaimNext that, when idle, waits up to wait for a wake-up
// hint and tries again.
func (m *Manager) ClaimNextWait(ctx context.Context, wait time.Duration) (*domain.Job, error) {
	deadline := time.Now().Add(wait)
	for {
		job, err := m.ClaimNext(ctx)
		if job != nil || err != nil {
			return job, err
		}
		remaining := time.Until(deadline)
		if m.wake == nil || remaining <= 0 {
			return nil, nil
		}
		hint, err := m.wake.Wait(ctx, remaining)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			m.logger.Warn("wake-up wait failed", zap.Error(err))
			return nil, nil
		}
		if hint == "" {
			return m.ClaimNext(ctx)
		}
	}
}

// Extend renews the lease of an in-progress job. ok is false when the job is
// not in progress.
func (m *Manager) Extend(ctx context.Context, id string) (until time.Time, ok bool, err error) {
	until = m.now().Add(m.duration)
	ok, err = m.ledger.ExtendLease(ctx, id, until)
	return until, ok, err
}
