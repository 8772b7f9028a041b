package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/SirClappington/slotwatch/internal/domain"
)

const clientColumns = `id, full_name, contact_channel, contact_handle, timezone, portal_url, username, password,
	target_cities, target_months, auto_book, notes, monitoring_enabled, last_check_at, last_result, created_at, updated_at`

func scanClient(row rowScanner) (domain.Client, error) {
	var (
		c                 domain.Client
		autoBook, monitor bool
		lastCheck         sql.NullInt64
		created, updated  int64
	)
	err := row.Scan(&c.ID, &c.FullName, &c.ContactChannel, &c.ContactHandle, &c.Timezone, &c.PortalURL,
		&c.Username, &c.Password, &c.TargetCities, &c.TargetMonths, &autoBook, &c.Notes, &monitor,
		&lastCheck, &c.LastResult, &created, &updated)
	if err != nil {
		return c, err
	}
	c.AutoBook = autoBook
	c.MonitoringEnabled = monitor
	c.LastCheckAt = fromNullMillis(lastCheck)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

// CreateClient inserts c, assigning its ID and timestamps. c.Password must
// already be sealed.
func (s *Store) CreateClient(ctx context.Context, c *domain.Client) error {
	now := s.now().UTC()
	c.ID = uuid.NewString()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.exec(ctx, `insert into clients (`+clientColumns+`)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FullName, c.ContactChannel, c.ContactHandle, c.Timezone, c.PortalURL, c.Username, c.Password,
		c.TargetCities, c.TargetMonths, boolInt(c.AutoBook), c.Notes, boolInt(c.MonitoringEnabled),
		nullMillis(c.LastCheckAt), c.LastResult, millis(now), millis(now))
	return errors.Wrap(err, "storage: create client")
}

func (s *Store) GetClient(ctx context.Context, id string) (domain.Client, error) {
	c, err := scanClient(s.queryRow(ctx, `select `+clientColumns+` from clients where id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, errors.Wrap(err, "storage: get client")
}

// ListClients returns every client, newest first.
func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	return s.listClients(ctx, `select `+clientColumns+` from clients order by created_at desc, id`)
}

// ListMonitoredClients returns clients with monitoring enabled, oldest first.
func (s *Store) ListMonitoredClients(ctx context.Context) ([]domain.Client, error) {
	return s.listClients(ctx, `select `+clientColumns+` from clients where monitoring_enabled = 1 order by created_at, id`)
}

func (s *Store) listClients(ctx context.Context, q string, args ...any) ([]domain.Client, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list clients")
	}
	defer rows.Close()

	out := make([]domain.Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, errors.Wrap(err, "storage: scan client")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetMonitoring(ctx context.Context, id string, enabled bool) error {
	return s.updateClient(ctx, `update clients set monitoring_enabled = ?, updated_at = ? where id = ?`,
		boolInt(enabled), millis(s.now()), id)
}

// UpdateClientStatus mirrors a scan summary onto the client.
func (s *Store) UpdateClientStatus(ctx context.Context, id, summary string, at time.Time) error {
	return s.updateClient(ctx, `update clients set last_result = ?, last_check_at = ?, updated_at = ? where id = ?`,
		summary, millis(at), millis(s.now()), id)
}

func (s *Store) UpdateClientPassword(ctx context.Context, id, sealed string) error {
	return s.updateClient(ctx, `update clients set password = ?, updated_at = ? where id = ?`,
		sealed, millis(s.now()), id)
}

func (s *Store) updateClient(ctx context.Context, q string, args ...any) error {
	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "storage: update client")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "storage: update client")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
