// Package automation drives a remote portal session through sign-in,
// calendar navigation and availability scanning, and classifies every
// attempt into a terminal Outcome.
package automation

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/slotwatch/internal/domain"
)

const (
	DefaultProbeTimeout      = 5 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
)

type Runner struct {
	open         SessionFactory
	profile      Profile
	probeTimeout time.Duration
	navTimeout   time.Duration
	heartbeat    func(context.Context)
	logger       *zap.Logger
}

type Option func(*Runner)

func WithProfile(p Profile) Option                  { return func(r *Runner) { r.profile = p } }
func WithProbeTimeout(d time.Duration) Option       { return func(r *Runner) { r.probeTimeout = d } }
func WithNavigationTimeout(d time.Duration) Option  { return func(r *Runner) { r.navTimeout = d } }
func WithHeartbeat(fn func(context.Context)) Option { return func(r *Runner) { r.heartbeat = fn } }
func WithLogger(l *zap.Logger) Option               { return func(r *Runner) { r.logger = l } }

func NewRunner(open SessionFactory, opts ...Option) *Runner {
	r := &Runner{
		open:         open,
		profile:      DefaultProfile(),
		probeTimeout: DefaultProbeTimeout,
		navTimeout:   DefaultNavigationTimeout,
		logger:       zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// step runs one stage. It returns the next stage, or a terminal outcome, or
// an error that the runner turns into an automation-error outcome.
type step func(a *attempt, ctx context.Context) (Stage, *Outcome, error)

var pipeline = map[Stage]step{
	StagePrecheck:  (*attempt).precheck,
	StageSignIn:    (*attempt).reachSignIn,
	StageLogin:     (*attempt).authenticate,
	StageCalendar:  (*attempt).reachCalendar,
	StageScan:      (*attempt).scanAvailability,
	StageAggregate: (*attempt).aggregate,
}

// Stages that check for challenge and lockout pages before and after running.
var guarded = map[Stage]bool{
	StageSignIn:   true,
	StageLogin:    true,
	StageCalendar: true,
	StageScan:     true,
}

// Run executes the pipeline for one payload. It never returns an error:
// faults and panics become a BlockedAutomationError outcome carrying the
// stage they happened in.
func (r *Runner) Run(ctx context.Context, p domain.Payload) (out Outcome) {
	a := &attempt{r: r, p: p, stage: StagePrecheck, details: map[string]any{}}
	log := r.logger.With(zap.String("client_id", p.ClientID))
	defer func() {
		if v := recover(); v != nil {
			out = a.fault(errors.Errorf("panic: %v", v))
		}
		if a.sess != nil {
			if err := a.sess.Close(); err != nil {
				log.Warn("close session", zap.Error(err))
			}
		}
		log.Info("scan finished",
			zap.String("class", string(out.Class)),
			zap.String("stage", string(out.Stage)),
			zap.Int("findings", len(out.Findings)))
	}()
	return a.run(ctx)
}

type attempt struct {
	r           *Runner
	p           domain.Payload
	sess        Session
	stage       Stage
	details     map[string]any
	findings    []domain.Finding
	probeErrors int
}

func (a *attempt) run(ctx context.Context) Outcome {
	stage := StagePrecheck
	for {
		a.stage = stage
		if err := ctx.Err(); err != nil {
			return a.fault(err)
		}
		fn, ok := pipeline[stage]
		if !ok {
			return a.fault(errors.Errorf("no such stage %q", stage))
		}
		if guarded[stage] {
			if out := a.guard(ctx); out != nil {
				return a.finish(*out)
			}
		}
		a.r.logger.Debug("stage", zap.String("stage", string(stage)))

		next, out, err := fn(a, ctx)
		if err != nil {
			return a.fault(err)
		}
		if out != nil {
			return a.finish(*out)
		}
		if guarded[stage] {
			if out := a.guard(ctx); out != nil {
				return a.finish(*out)
			}
		}
		stage = next
	}
}

func (a *attempt) finish(o Outcome) Outcome {
	o.Stage = a.stage
	if o.Details == nil {
		o.Details = map[string]any{}
	}
	for k, v := range a.details {
		if _, ok := o.Details[k]; !ok {
			o.Details[k] = v
		}
	}
	if d := a.diagnostics(); d != nil {
		o.Details["diagnostics"] = d
	}
	return o
}

func (a *attempt) fault(err error) Outcome {
	a.r.logger.Warn("scan fault", zap.String("stage", string(a.stage)), zap.Error(err))
	return a.finish(Outcome{
		Class:   BlockedAutomationError,
		Summary: "blocked: automation error: " + err.Error(),
		Details: map[string]any{"error": err.Error()},
	})
}

// diagnostics reports where the session was left. A session that panics
// while being asked yields nothing.
func (a *attempt) diagnostics() (d map[string]any) {
	if a.sess == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			d = nil
		}
	}()
	d = map[string]any{"url": a.sess.CurrentURL(), "title": a.sess.Title()}
	if a.probeErrors > 0 {
		d["probe_errors"] = a.probeErrors
	}
	return d
}

func (a *attempt) guard(ctx context.Context) *Outcome {
	m := a.r.profile.Markers
	if hit, ok := a.marker(ctx, m.Challenge); ok {
		return &Outcome{Class: BlockedChallenge, Summary: "blocked: challenge detected", Details: map[string]any{"marker": hit}}
	}
	if hit, ok := a.marker(ctx, m.Lockout); ok {
		return &Outcome{Class: BlockedLockout, Summary: "blocked: account locked", Details: map[string]any{"marker": hit}}
	}
	return nil
}

// afterAction waits for the page to settle and re-runs the guard.
func (a *attempt) afterAction(ctx context.Context) *Outcome {
	a.settle(ctx)
	return a.guard(ctx)
}

func (a *attempt) probe(ctx context.Context, fn func(context.Context) Probe) Probe {
	pctx, cancel := context.WithTimeout(ctx, a.r.probeTimeout)
	defer cancel()
	p := fn(pctx)
	if p == ProbeFailed {
		a.probeErrors++
	}
	return p
}

func (a *attempt) visible(ctx context.Context, t Target) bool {
	if t.Empty() {
		return false
	}
	return a.probe(ctx, func(c context.Context) Probe { return a.sess.Visible(c, t) }) == ProbeOK
}

func (a *attempt) count(ctx context.Context, t Target) int {
	if t.Empty() {
		return 0
	}
	var n int
	a.probe(ctx, func(c context.Context) Probe {
		var p Probe
		n, p = a.sess.Count(c, t)
		return p
	})
	return n
}

func (a *attempt) texts(ctx context.Context, t Target, limit int) []string {
	if t.Empty() {
		return nil
	}
	var out []string
	p := a.probe(ctx, func(c context.Context) Probe {
		var p Probe
		out, p = a.sess.Texts(c, t, limit)
		return p
	})
	if p != ProbeOK {
		return nil
	}
	return out
}

// act runs an action that may load a new page. Presence is checked under the
// short lookup timeout; the action itself gets the navigation timeout.
func (a *attempt) act(ctx context.Context, t Target, fn func(context.Context) Probe) Probe {
	if !a.visible(ctx, t) {
		return ProbeAbsent
	}
	actx, cancel := context.WithTimeout(ctx, a.r.navTimeout)
	defer cancel()
	p := fn(actx)
	if p == ProbeFailed {
		a.probeErrors++
	}
	return p
}

func (a *attempt) click(ctx context.Context, t Target) Probe {
	return a.act(ctx, t, func(c context.Context) Probe { return a.sess.Click(c, t) })
}

// clickFirst clicks the first of ts that is present.
func (a *attempt) clickFirst(ctx context.Context, ts []Target) bool {
	for _, t := range ts {
		if a.click(ctx, t) == ProbeOK {
			return true
		}
	}
	return false
}

func (a *attempt) fill(ctx context.Context, t Target, v string) bool {
	if t.Empty() {
		return false
	}
	return a.probe(ctx, func(c context.Context) Probe { return a.sess.Fill(c, t, v) }) == ProbeOK
}

func (a *attempt) check(ctx context.Context, t Target) bool {
	if t.Empty() {
		return false
	}
	return a.probe(ctx, func(c context.Context) Probe { return a.sess.Check(c, t) }) == ProbeOK
}

func (a *attempt) selectOption(ctx context.Context, t Target, label string) Probe {
	if label == "" {
		return ProbeAbsent
	}
	return a.act(ctx, t, func(c context.Context) Probe { return a.sess.SelectOption(c, t, label) })
}

func (a *attempt) press(ctx context.Context, t Target, key string) Probe {
	return a.act(ctx, t, func(c context.Context) Probe { return a.sess.Press(c, t, key) })
}

// marker returns the first text marker visible anywhere on the page.
func (a *attempt) marker(ctx context.Context, markers []string) (string, bool) {
	for _, m := range markers {
		if a.visible(ctx, Target{Selector: "body", Text: m}) {
			return m, true
		}
	}
	return "", false
}

func (a *attempt) authenticated(ctx context.Context) bool {
	_, ok := a.marker(ctx, a.r.profile.Markers.Authenticated)
	return ok
}

func (a *attempt) settle(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, a.r.navTimeout)
	defer cancel()
	if err := a.sess.WaitSettled(sctx); err != nil {
		a.probeErrors++
	}
}

func (a *attempt) navigate(ctx context.Context, url string) error {
	nctx, cancel := context.WithTimeout(ctx, a.r.navTimeout)
	defer cancel()
	if err := a.sess.Navigate(nctx, url); err != nil {
		return err
	}
	a.settle(ctx)
	return nil
}
