package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/SirClappington/slotwatch/internal/domain"
)

// Claim is the outcome of one claim transaction. Job is nil when nothing was
// claimable.
type Claim struct {
	Job       *domain.Job
	Reclaimed int64
}

const reclaimSQL = `update jobs
	   set status = ?, lease_expires_at = null
	 where status = ?
	   and lease_expires_at is not null
	   and lease_expires_at < ?`

// ReclaimExpired re-queues in-progress jobs whose lease ended before now.
// started_at and created_at are kept, so reclaimed work sorts ahead of newer jobs.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx, reclaimSQL, string(domain.Queued), string(domain.InProgress), millis(now))
	if err != nil {
		return 0, errors.Wrap(err, "storage: reclaim expired")
	}
	return res.RowsAffected()
}

// ClaimNext reclaims expired leases and then moves the oldest queued job to
// in_progress with a lease ending at leaseUntil, all in one transaction.
// Postgres skips rows other claimers hold locked; SQLite runs on a single
// connection, which serializes claimers.
func (s *Store) ClaimNext(ctx context.Context, now, leaseUntil time.Time) (Claim, error) {
	var c Claim
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return c, errors.Wrap(err, "storage: begin claim")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.dialect.rebind(reclaimSQL),
		string(domain.Queued), string(domain.InProgress), millis(now))
	if err != nil {
		return c, errors.Wrap(err, "storage: reclaim expired")
	}
	if c.Reclaimed, err = res.RowsAffected(); err != nil {
		return c, errors.Wrap(err, "storage: reclaim rows")
	}

	pick := `select id from jobs where status = ? order by created_at, id limit 1`
	if s.dialect == Postgres {
		pick += ` for update skip locked`
	}
	var id string
	err = tx.QueryRowContext(ctx, s.dialect.rebind(pick), string(domain.Queued)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return c, errors.Wrap(tx.Commit(), "storage: commit claim")
	}
	if err != nil {
		return c, errors.Wrap(err, "storage: pick job")
	}

	res, err = tx.ExecContext(ctx, s.dialect.rebind(
		`update jobs
		    set status = ?, started_at = coalesce(started_at, ?), lease_expires_at = ?
		  where id = ? and status = ?`),
		string(domain.InProgress), millis(now), millis(leaseUntil), id, string(domain.Queued))
	if err != nil {
		return c, errors.Wrap(err, "storage: lease job")
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		// lost the row to a concurrent claimer
		return c, errors.Wrap(tx.Commit(), "storage: commit claim")
	}

	j, err := scanJob(tx.QueryRowContext(ctx, s.dialect.rebind(`select `+jobColumns+` from jobs where id = ?`), id))
	if err != nil {
		return c, errors.Wrap(err, "storage: load claimed job")
	}
	if err := tx.Commit(); err != nil {
		return c, errors.Wrap(err, "storage: commit claim")
	}
	c.Job = &j
	return c, nil
}

// ExtendLease pushes the lease of an in-progress job out to until.
func (s *Store) ExtendLease(ctx context.Context, id string, until time.Time) (bool, error) {
	res, err := s.exec(ctx,
		`update jobs set lease_expires_at = ? where id = ? and status = ?`,
		millis(until), id, string(domain.InProgress))
	if err != nil {
		return false, errors.Wrap(err, "storage: extend lease")
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
