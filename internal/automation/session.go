package automation

import "context"

// Probe is the answer to one bounded look at the remote page. Absent covers
// both "no such element" and "not ready before the probe timed out"; neither
// is an error for the pipeline.
type Probe uint8

const (
	ProbeAbsent Probe = iota
	ProbeOK
	ProbeFailed
)

func (p Probe) String() string {
	switch p {
	case ProbeOK:
		return "ok"
	case ProbeFailed:
		return "failed"
	}
	return "absent"
}

// Target describes elements on the page: a CSS selector, optionally narrowed
// to elements whose visible text contains Text (case-insensitive).
type Target struct {
	Selector string `yaml:"selector"`
	Text     string `yaml:"text,omitempty"`
}

func (t Target) Empty() bool { return t.Selector == "" }

// Session is an interactive remote page. Element methods act on the first
// visible match of the target. Click, Press and SelectOption may load a new
// page.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitSettled(ctx context.Context) error
	CurrentURL() string
	Title() string

	Visible(ctx context.Context, t Target) Probe
	Count(ctx context.Context, t Target) (int, Probe)
	Texts(ctx context.Context, t Target, limit int) ([]string, Probe)
	Click(ctx context.Context, t Target) Probe
	Fill(ctx context.Context, t Target, value string) Probe
	Check(ctx context.Context, t Target) Probe
	SelectOption(ctx context.Context, t Target, label string) Probe
	Press(ctx context.Context, t Target, key string) Probe

	Close() error
}

// SessionFactory opens a fresh session for one job.
type SessionFactory func(ctx context.Context) (Session, error)
