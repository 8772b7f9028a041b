// Package report folds worker results back into the ledger and onto the
// owning client's visible status.
package report

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/slotwatch/internal/domain"
	"github.com/SirClappington/slotwatch/internal/queue"
	"github.com/SirClappington/slotwatch/internal/storage"
)

type Store interface {
	GetJob(ctx context.Context, id string) (domain.Job, error)
	RecordTerminal(ctx context.Context, id string, status domain.Status, result domain.ScanResult) (domain.Status, error)
	UpdateClientStatus(ctx context.Context, id, summary string, at time.Time) error
}

type Publisher interface {
	PublishCompleted(ctx context.Context, ev queue.Completed) error
}

type Reporter struct {
	store  Store
	events Publisher
	now    func() time.Time
	logger *zap.Logger
}

func New(store Store, events Publisher, logger *zap.Logger) *Reporter {
	return &Reporter{store: store, events: events, now: time.Now, logger: logger}
}

// SetClock replaces the time source for last-check timestamps.
func (r *Reporter) SetClock(now func() time.Time) { r.now = now }

// Report marks the job terminal and mirrors the summary onto its client. A
// missing client is logged, not returned: the job write is what matters.
func (r *Reporter) Report(ctx context.Context, jobID string, status domain.Status, result domain.ScanResult) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	prev, err := r.store.RecordTerminal(ctx, jobID, status, result)
	if err != nil {
		return err
	}
	log := r.logger.With(zap.String("job_id", jobID), zap.String("client_id", job.ClientID), zap.String("status", string(status)))
	if !domain.CanTransition(prev, status) {
		// a reclaimed job finished by its first owner, or a repeated report
		log.Warn("terminal result overwrote job state", zap.String("previous", string(prev)))
	}

	err = r.store.UpdateClientStatus(ctx, job.ClientID, result.Summary, r.now())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Warn("client gone, status not mirrored")
	case err != nil:
		log.Error("mirroring client status failed", zap.Error(err))
	}

	if r.events != nil {
		ev := queue.Completed{JobID: jobID, ClientID: job.ClientID, Status: string(status), Summary: result.Summary}
		if err := r.events.PublishCompleted(ctx, ev); err != nil {
			log.Warn("publish completion failed", zap.Error(err))
		}
	}
	log.Info("job reported", zap.String("summary", result.Summary))
	return nil
}
