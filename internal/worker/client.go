package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/SirClappington/slotwatch/internal/domain"
)

// StatusError is a non-2xx answer from the producer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("worker: producer answered %d: %s", e.Code, e.Message)
}

// Client talks to the producer's worker transport.
type Client struct {
	base  string
	token string
	id    string
	hc    *http.Client
}

// NewClient returns a client for the producer at base. workerID is sent with
// every request for the producer's logs and may be empty.
func NewClient(base, token, workerID string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), token: token, id: workerID, hc: hc}
}

// Claim returns the next job, or nil when the producer has none.
func (c *Client) Claim(ctx context.Context) (*domain.ClaimedJob, error) {
	var out struct {
		OK  bool               `json:"ok"`
		Job *domain.ClaimedJob `json:"job"`
	}
	if err := c.post(ctx, "/api/worker/claim", struct{}{}, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, errors.New("worker: claim not ok")
	}
	return out.Job, nil
}

func (c *Client) Complete(ctx context.Context, id string, status domain.Status, result domain.ScanResult) error {
	body := struct {
		Status string            `json:"status"`
		Result domain.ScanResult `json:"result"`
	}{string(status), result}
	return c.post(ctx, "/api/worker/jobs/"+id+"/complete", body, nil)
}

func (c *Client) Extend(ctx context.Context, id string) error {
	return c.post(ctx, "/api/worker/jobs/"+id+"/extend", struct{}{}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "worker: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(buf))
	if err != nil {
		return errors.Wrap(err, "worker: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.id != "" {
		req.Header.Set("X-Worker-ID", c.id)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "worker: POST %s", path)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "worker: read response")
	}
	if res.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Code: res.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "worker: decode %s response", path)
}
