package domain

import "time"

type Status string

const (
	Queued     Status = "queued"
	InProgress Status = "in_progress"
	Done       Status = "done"
	Errored    Status = "error"
)

type Kind string

// VisaCheck is the only job kind the worker knows how to run.
const VisaCheck Kind = "visa_check"

// lifecycle lists every allowed (from -> to) pair. in_progress -> queued is
// the lease-expiry reclaim and is never requested by a worker.
var lifecycle = map[Status][]Status{
	Queued:     {InProgress},
	InProgress: {Done, Errored, Queued},
}

// ParseStatus accepts only the statuses a completion report may carry.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case Done, Errored:
		return st, true
	}
	return "", false
}

func (s Status) Terminal() bool { return s == Done || s == Errored }

// CanTransition reports whether from -> to follows the job lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range lifecycle[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Job struct {
	ID             string      `json:"id"`
	ClientID       string      `json:"client_id"`
	Kind           Kind        `json:"kind"`
	Payload        []byte      `json:"-"`
	Status         Status      `json:"status"`
	Result         *ScanResult `json:"result,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`
}

// Payload is the immutable snapshot a job carries to the worker. It is sealed
// at rest and only travels in plaintext inside a claim response.
type Payload struct {
	ClientID  string   `json:"client_id"`
	FullName  string   `json:"full_name"`
	PortalURL string   `json:"portal_url"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	Locations []string `json:"locations"`
	Months    []string `json:"months"`
	AutoBook  bool     `json:"auto_book"`
}

// ClaimedJob is the wire shape of a successful claim.
type ClaimedJob struct {
	ID             string     `json:"id"`
	ClientID       string     `json:"client_id"`
	Kind           Kind       `json:"kind"`
	Payload        Payload    `json:"payload"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}
