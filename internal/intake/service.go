// Package intake turns stored client profiles into queued scan jobs.
package intake

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/slotwatch/internal/domain"
	"github.com/SirClappington/slotwatch/internal/matcher"
	"github.com/SirClappington/slotwatch/internal/vault"
)

var ErrMonitoringDisabled = errors.New("intake: monitoring is disabled for this client")

// ValidationError names the first client field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return "intake: " + e.Field + " " + e.Reason }

type Store interface {
	CreateClient(ctx context.Context, c *domain.Client) error
	GetClient(ctx context.Context, id string) (domain.Client, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
	ListMonitoredClients(ctx context.Context) ([]domain.Client, error)
	UpdateClientPassword(ctx context.Context, id, sealed string) error
	Enqueue(ctx context.Context, clientID string, kind domain.Kind, payload []byte) (string, error)
	HasOpenJob(ctx context.Context, clientID string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, jobID string) error
}

type Service struct {
	store  Store
	vault  *vault.Vault
	notify Notifier
	logger *zap.Logger
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) error { return nil }

func NewService(store Store, v *vault.Vault, n Notifier, logger *zap.Logger) *Service {
	if n == nil {
		n = nopNotifier{}
	}
	return &Service{store: store, vault: v, notify: n, logger: logger}
}

// Register validates c, seals password into it and stores it.
func (s *Service) Register(ctx context.Context, c *domain.Client, password string) error {
	c.FullName = strings.TrimSpace(c.FullName)
	c.Username = strings.TrimSpace(c.Username)
	c.PortalURL = strings.TrimSpace(c.PortalURL)
	switch {
	case c.FullName == "":
		return &ValidationError{Field: "full_name", Reason: "is required"}
	case c.PortalURL == "":
		return &ValidationError{Field: "portal_url", Reason: "is required"}
	case c.Username == "":
		return &ValidationError{Field: "username", Reason: "is required"}
	case password == "":
		return &ValidationError{Field: "password", Reason: "is required"}
	}
	if u, err := url.Parse(c.PortalURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "portal_url", Reason: "must be an absolute http(s) URL"}
	}
	sealed, err := s.vault.Encrypt(password)
	if err != nil {
		return err
	}
	c.Password = sealed
	return s.store.CreateClient(ctx, c)
}

// Snapshot builds the job payload for c with its password decrypted and its
// targets parsed. Months are normalized so Spanish input matches English
// calendar headers.
func (s *Service) Snapshot(c domain.Client) (domain.Payload, error) {
	password, err := s.vault.Decrypt(c.Password)
	if err != nil {
		return domain.Payload{}, errors.Wrapf(err, "intake: open password of client %s", c.ID)
	}
	return domain.Payload{
		ClientID:  c.ID,
		FullName:  c.FullName,
		PortalURL: c.PortalURL,
		Username:  c.Username,
		Password:  password,
		Locations: matcher.ParseList(c.TargetCities),
		Months:    matcher.NormalizeMonths(matcher.ParseList(c.TargetMonths)),
		AutoBook:  c.AutoBook,
	}, nil
}

// EnqueueScan queues a scan for one client on operator request.
func (s *Service) EnqueueScan(ctx context.Context, clientID string) (string, error) {
	c, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if !c.MonitoringEnabled {
		return "", ErrMonitoringDisabled
	}
	return s.enqueue(ctx, c)
}

// EnqueueDue queues a scan for every monitored client that has no queued or
// in-progress job. Failures for one client do not stop the others.
func (s *Service) EnqueueDue(ctx context.Context) (int, error) {
	clients, err := s.store.ListMonitoredClients(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range clients {
		open, err := s.store.HasOpenJob(ctx, c.ID)
		if err != nil {
			s.logger.Warn("open job check failed", zap.String("client_id", c.ID), zap.Error(err))
			continue
		}
		if open {
			continue
		}
		if _, err := s.enqueue(ctx, c); err != nil {
			s.logger.Warn("enqueue failed", zap.String("client_id", c.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) enqueue(ctx context.Context, c domain.Client) (string, error) {
	p, err := s.Snapshot(c)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "intake: encode payload")
	}
	sealed, err := s.vault.Encrypt(string(body))
	if err != nil {
		return "", err
	}
	id, err := s.store.Enqueue(ctx, c.ID, domain.VisaCheck, []byte(sealed))
	if err != nil {
		return "", err
	}
	if err := s.notify.Notify(ctx, id); err != nil {
		s.logger.Warn("wake-up notify failed", zap.String("job_id", id), zap.Error(err))
	}
	s.logger.Info("scan enqueued", zap.String("job_id", id), zap.String("client_id", c.ID))
	return id, nil
}

// OpenPayload decrypts a job's sealed payload.
func (s *Service) OpenPayload(sealed []byte) (domain.Payload, error) {
	var p domain.Payload
	plain, err := s.vault.Decrypt(string(sealed))
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(plain), &p); err != nil {
		return p, errors.Wrap(err, "intake: decode payload")
	}
	return p, nil
}

// SealLegacySecrets encrypts in place any client password stored before the
// vault existed. Already-sealed values are left alone.
func (s *Service) SealLegacySecrets(ctx context.Context) (int, error) {
	clients, err := s.store.ListClients(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range clients {
		if c.Password == "" || vault.IsSealed(c.Password) {
			continue
		}
		sealed, err := s.vault.Encrypt(c.Password)
		if err != nil {
			return n, err
		}
		if err := s.store.UpdateClientPassword(ctx, c.ID, sealed); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
