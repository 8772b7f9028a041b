package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/SirClappington/slotwatch/internal/domain"
)

const jobColumns = `id, client_id, kind, payload, status, result, created_at, started_at, finished_at, lease_expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		j                           domain.Job
		kind, status, payload       string
		result                      sql.NullString
		created                     int64
		started, finished, leaseEnd sql.NullInt64
	)
	if err := row.Scan(&j.ID, &j.ClientID, &kind, &payload, &status, &result, &created, &started, &finished, &leaseEnd); err != nil {
		return j, err
	}
	j.Kind = domain.Kind(kind)
	j.Status = domain.Status(status)
	j.Payload = []byte(payload)
	j.CreatedAt = fromMillis(created)
	j.StartedAt = fromNullMillis(started)
	j.FinishedAt = fromNullMillis(finished)
	j.LeaseExpiresAt = fromNullMillis(leaseEnd)
	if result.Valid && result.String != "" {
		var r domain.ScanResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return j, errors.Wrapf(err, "storage: decode result of job %s", j.ID)
		}
		j.Result = &r
	}
	return j, nil
}

// Enqueue inserts a queued job. The payload is stored as given and never
// modified afterwards. Duplicate jobs for one client are allowed.
func (s *Store) Enqueue(ctx context.Context, clientID string, kind domain.Kind, payload []byte) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.exec(ctx,
		`insert into jobs (id, client_id, kind, payload, status, created_at) values (?, ?, ?, ?, ?, ?)`,
		id, clientID, string(kind), string(payload), string(domain.Queued), millis(s.now()))
	if err != nil {
		return "", errors.Wrap(err, "storage: enqueue")
	}
	return id, nil
}

// RecordTerminal stores a terminal status and result, stamps finished_at and
// clears the lease. A repeated call overwrites the earlier result. It returns
// the status the job had before the write.
func (s *Store) RecordTerminal(ctx context.Context, id string, status domain.Status, result domain.ScanResult) (domain.Status, error) {
	if !status.Terminal() {
		return "", errors.Errorf("storage: %q is not a terminal status", status)
	}
	body, err := json.Marshal(result)
	if err != nil {
		return "", errors.Wrap(err, "storage: encode result")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "storage: begin")
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, s.dialect.rebind(`select status from jobs where id = ?`), id).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "storage: load job status")
	}
	_, err = tx.ExecContext(ctx, s.dialect.rebind(
		`update jobs set status = ?, result = ?, finished_at = ?, lease_expires_at = null where id = ?`),
		string(status), string(body), millis(s.now()), id)
	if err != nil {
		return "", errors.Wrap(err, "storage: record terminal")
	}
	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "storage: commit")
	}
	return domain.Status(prev), nil
}

func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, error) {
	j, err := scanJob(s.queryRow(ctx, `select `+jobColumns+` from jobs where id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return j, ErrNotFound
	}
	return j, errors.Wrap(err, "storage: get job")
}

// ListJobsByClient returns the client's jobs, newest first.
func (s *Store) ListJobsByClient(ctx context.Context, clientID string) ([]domain.Job, error) {
	rows, err := s.query(ctx, `select `+jobColumns+` from jobs where client_id = ? order by created_at desc, id desc`, clientID)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list jobs")
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "storage: scan job")
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// HasOpenJob reports whether the client has a queued or in-progress job.
func (s *Store) HasOpenJob(ctx context.Context, clientID string) (bool, error) {
	var n int
	err := s.queryRow(ctx,
		`select count(*) from jobs where client_id = ? and status in (?, ?)`,
		clientID, string(domain.Queued), string(domain.InProgress)).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "storage: count open jobs")
	}
	return n > 0, nil
}
