package automation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type fakeMonth struct {
	label string
	days  []string
}

// fakeSession is a scripted portal. Targets are visible when shown; "body"
// targets match against body text. Every page load shows the calendar of
// home; a facility choice takes effect on select, or on the facility submit
// click when facilitySubmit is set.
type fakeSession struct {
	sel            Selectors
	url            string
	title          string
	body           string
	present        map[string]bool
	navigate       func(f *fakeSession, url string) error
	clicks         map[string]func(f *fakeSession)
	fail           map[string]bool
	budget         map[string]time.Duration
	press          func(f *fakeSession)
	months         map[string][]fakeMonth
	endless        bool
	home           string
	noFacility     bool
	facilitySubmit bool
	pending        string
	location       string
	month          int
	calls          []string
	closed         bool
}

func key(t Target) string { return t.Selector + "|" + t.Text }

func newFake(sel Selectors) *fakeSession {
	return &fakeSession{
		sel:     sel,
		present: map[string]bool{},
		clicks:  map[string]func(*fakeSession){},
		fail:    map[string]bool{},
		budget:  map[string]time.Duration{},
		months:  map[string][]fakeMonth{},
	}
}

func (f *fakeSession) show(ts ...Target) {
	for _, t := range ts {
		f.present[key(t)] = true
	}
}

func (f *fakeSession) called(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeSession) Navigate(_ context.Context, u string) error {
	f.calls = append(f.calls, "navigate "+u)
	f.url = u
	f.location, f.month, f.pending = f.home, 0, ""
	if f.navigate != nil {
		return f.navigate(f, u)
	}
	return nil
}

func (f *fakeSession) WaitSettled(context.Context) error { return nil }
func (f *fakeSession) CurrentURL() string                { return f.url }
func (f *fakeSession) Title() string                     { return f.title }

func (f *fakeSession) Visible(_ context.Context, t Target) Probe {
	if t.Selector == "body" {
		if strings.Contains(strings.ToLower(f.body), strings.ToLower(t.Text)) {
			return ProbeOK
		}
		return ProbeAbsent
	}
	if _, ok := f.clicks[key(t)]; ok || f.present[key(t)] {
		return ProbeOK
	}
	switch {
	case t == f.sel.NextMonth:
		if f.endless || f.month+1 < len(f.months[f.location]) {
			return ProbeOK
		}
	case t == f.sel.Facility:
		if !f.noFacility && (f.endless || len(f.months) > 0) {
			return ProbeOK
		}
	case t == f.sel.FacilitySubmit:
		if f.facilitySubmit {
			return ProbeOK
		}
	}
	return ProbeAbsent
}

func (f *fakeSession) Count(ctx context.Context, t Target) (int, Probe) {
	if f.Visible(ctx, t) == ProbeOK {
		return 1, ProbeOK
	}
	return 0, ProbeAbsent
}

func (f *fakeSession) current() (fakeMonth, bool) {
	if f.endless {
		return fakeMonth{label: fmt.Sprintf("Month %d", f.month)}, true
	}
	ms := f.months[f.location]
	if f.month < len(ms) {
		return ms[f.month], true
	}
	return fakeMonth{}, false
}

func (f *fakeSession) Texts(_ context.Context, t Target, limit int) ([]string, Probe) {
	m, ok := f.current()
	if !ok {
		return nil, ProbeAbsent
	}
	switch t {
	case f.sel.MonthTitle:
		return []string{m.label}, ProbeOK
	case f.sel.OpenDay:
		if len(m.days) == 0 {
			return nil, ProbeAbsent
		}
		d := m.days
		if limit < len(d) {
			d = d[:limit]
		}
		return d, ProbeOK
	}
	return nil, ProbeAbsent
}

func (f *fakeSession) Click(ctx context.Context, t Target) Probe {
	f.calls = append(f.calls, "click "+key(t))
	if d, ok := ctx.Deadline(); ok {
		f.budget[key(t)] = time.Until(d)
	}
	if f.fail[key(t)] {
		return ProbeFailed
	}
	if t == f.sel.NextMonth {
		if f.endless || f.month+1 < len(f.months[f.location]) {
			f.month++
			return ProbeOK
		}
		return ProbeAbsent
	}
	if f.facilitySubmit && t == f.sel.FacilitySubmit {
		if f.pending == "" {
			return ProbeAbsent
		}
		f.location, f.month, f.pending = f.pending, 0, ""
		return ProbeOK
	}
	if fn, ok := f.clicks[key(t)]; ok {
		fn(f)
		return ProbeOK
	}
	return f.Visible(ctx, t)
}

func (f *fakeSession) Fill(ctx context.Context, t Target, _ string) Probe {
	f.calls = append(f.calls, "fill "+t.Selector)
	return f.Visible(ctx, t)
}

func (f *fakeSession) Check(ctx context.Context, t Target) Probe {
	f.calls = append(f.calls, "check "+t.Selector)
	return f.Visible(ctx, t)
}

func (f *fakeSession) Press(ctx context.Context, t Target, k string) Probe {
	f.calls = append(f.calls, "press "+k)
	p := f.Visible(ctx, t)
	if p == ProbeOK && f.press != nil {
		f.press(f)
	}
	return p
}

func (f *fakeSession) SelectOption(_ context.Context, t Target, label string) Probe {
	f.calls = append(f.calls, "select "+label)
	if t == f.sel.Facility {
		if _, ok := f.months[label]; ok {
			if f.facilitySubmit {
				f.pending = label
			} else {
				f.location, f.month = label, 0
			}
			return ProbeOK
		}
	}
	return ProbeAbsent
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type panicSession struct{ *fakeSession }

func (panicSession) Visible(context.Context, Target) Probe { panic("boom") }
