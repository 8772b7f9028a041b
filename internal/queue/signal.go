package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

const (
	readyKey         = "scan:ready"
	readyCap         = 1000
	CompletedChannel = "scan.completed"
)

// Connect dials addr and verifies it answers PING.
func Connect(ctx context.Context, addr, password string) (*r.Client, error) {
	rdb := r.NewClient(&r.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return rdb, nil
}

// Signal carries hints between the ledger's producers and claimers. The
// ledger stays authoritative: a lost or duplicated hint only changes how soon
// a claim is retried. A nil *Signal is a valid no-op.
type Signal struct{ rdb *r.Client }

func New(rdb *r.Client) *Signal {
	if rdb == nil {
		return nil
	}
	return &Signal{rdb}
}

// Notify records that jobID became claimable.
func (s *Signal) Notify(ctx context.Context, jobID string) error {
	if s == nil {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, readyKey, jobID)
	pipe.LTrim(ctx, readyKey, 0, readyCap-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Wait blocks up to block for a hint. It returns "" on timeout.
func (s *Signal) Wait(ctx context.Context, block time.Duration) (string, error) {
	if s == nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(block):
			return "", nil
		}
	}
	res, err := s.rdb.BRPop(ctx, block, readyKey).Result()
	if errors.Is(err, r.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(res) == 2 {
		return res[1], nil
	}
	return "", nil
}

// Completed is published once per reported job.
type Completed struct {
	JobID    string `json:"job_id"`
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
	Summary  string `json:"summary"`
}

func (s *Signal) PublishCompleted(ctx context.Context, ev Completed) error {
	if s == nil {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, CompletedChannel, body).Err()
}
