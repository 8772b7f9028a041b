package automation

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/slotwatch/internal/domain"
	"github.com/SirClappington/slotwatch/internal/matcher"
)

func (a *attempt) precheck(ctx context.Context) (Stage, *Outcome, error) {
	var missing []string
	if strings.TrimSpace(a.p.Username) == "" || a.p.Password == "" {
		missing = append(missing, "missing credentials")
	}
	if len(a.p.Locations) == 0 || len(a.p.Months) == 0 {
		missing = append(missing, "missing targets")
	}
	if len(missing) > 0 {
		return "", &Outcome{
			Class:   BlockedMissingInputs,
			Summary: "blocked: missing inputs (" + strings.Join(missing, ", ") + ")",
			Details: map[string]any{"missing": missing},
		}, nil
	}

	sess, err := a.r.open(ctx)
	if err != nil {
		return "", nil, errors.Wrap(err, "open session")
	}
	a.sess = sess
	return StageSignIn, nil, nil
}

// signInCandidates lists the portal URL followed by each known path resolved
// against the portal's origin, without duplicates.
func signInCandidates(portal string, paths []string) []string {
	portal = strings.TrimSpace(portal)
	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	add(portal)
	base, err := url.Parse(portal)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return out
	}
	for _, p := range paths {
		ref, err := url.Parse(p)
		if err != nil {
			continue
		}
		add(base.ResolveReference(ref).String())
	}
	return out
}

func (a *attempt) reachSignIn(ctx context.Context) (Stage, *Outcome, error) {
	sel := a.r.profile.Selectors
	tried := []map[string]any{}
	var (
		loaded  int
		lastErr error
	)
	for _, u := range signInCandidates(a.p.PortalURL, a.r.profile.SignInPaths) {
		if err := a.navigate(ctx, u); err != nil {
			lastErr = err
			tried = append(tried, map[string]any{"url": u, "error": err.Error()})
			continue
		}
		loaded++
		gate := a.resolveRegion(ctx)
		if a.visible(ctx, sel.Password) || a.authenticated(ctx) {
			a.details["signin"] = map[string]any{"url": u, "region_gate": gate, "tried": tried}
			return StageLogin, nil, nil
		}
		tried = append(tried, map[string]any{"url": u, "error": "no login form"})
		if out := a.guard(ctx); out != nil {
			a.details["signin"] = map[string]any{"tried": tried}
			return "", out, nil
		}
	}

	a.details["signin"] = map[string]any{"tried": tried}
	if loaded == 0 && lastErr != nil {
		return "", nil, errors.Wrap(lastErr, "no sign-in candidate loaded")
	}
	return "", &Outcome{Class: BlockedSignInUnreachable, Summary: "blocked: sign-in page unreachable"}, nil
}

// resolveRegion answers a country gate when one is showing.
func (a *attempt) resolveRegion(ctx context.Context) bool {
	sel := a.r.profile.Selectors
	if a.r.profile.Region == "" || !a.visible(ctx, sel.RegionSelect) {
		return false
	}
	if a.selectOption(ctx, sel.RegionSelect, a.r.profile.Region) != ProbeOK {
		return false
	}
	if a.click(ctx, sel.RegionSubmit) == ProbeOK {
		a.settle(ctx)
	}
	return true
}

var loginOutcomes = map[LoginState]Outcome{
	LoginChallenge:          {Class: BlockedChallenge, Summary: "blocked: challenge detected"},
	LoginLockout:            {Class: BlockedLockout, Summary: "blocked: account locked"},
	LoginInvalidCredentials: {Class: BlockedInvalidCredentials, Summary: "blocked: invalid credentials"},
	LoginUnknown:            {Class: BlockedUnknown, Summary: "blocked: login result unknown"},
}

func (a *attempt) authenticate(ctx context.Context) (Stage, *Outcome, error) {
	if a.authenticated(ctx) {
		a.details["login"] = map[string]any{"state": string(LoggedIn), "skipped": true}
		return StageCalendar, nil, nil
	}

	sel := a.r.profile.Selectors
	if !a.fill(ctx, sel.Username, a.p.Username) || !a.fill(ctx, sel.Password, a.p.Password) {
		a.details["login"] = map[string]any{"state": string(LoginUnknown), "reason": "login fields not found"}
		out := loginOutcomes[LoginUnknown]
		return "", &out, nil
	}
	consent := a.check(ctx, sel.Consent)
	// A failed submit may still have reached the portal, so Enter stands in
	// only for a missing submit control.
	submit := "click"
	switch a.click(ctx, sel.Submit) {
	case ProbeOK:
	case ProbeAbsent:
		switch a.press(ctx, sel.Password, "Enter") {
		case ProbeOK:
			submit = "enter"
		case ProbeAbsent:
			submit = "none"
		default:
			submit = "enter_failed"
		}
	default:
		submit = "click_failed"
	}
	a.settle(ctx)

	state := a.classifyLogin(ctx)
	a.details["login"] = map[string]any{"state": string(state), "consent": consent, "submit": submit}
	if state == LoggedIn {
		return StageCalendar, nil, nil
	}
	out := loginOutcomes[state]
	return "", &out, nil
}

// classifyLogin never assumes success: a page that shows none of the known
// markers is LoginUnknown.
func (a *attempt) classifyLogin(ctx context.Context) LoginState {
	m := a.r.profile.Markers
	if _, ok := a.marker(ctx, m.Challenge); ok {
		return LoginChallenge
	}
	if _, ok := a.marker(ctx, m.Lockout); ok {
		return LoginLockout
	}
	if _, ok := a.marker(ctx, m.InvalidCredentials); ok {
		return LoginInvalidCredentials
	}
	if a.authenticated(ctx) {
		return LoggedIn
	}
	return LoginUnknown
}

func (a *attempt) reachCalendar(ctx context.Context) (Stage, *Outcome, error) {
	sel := a.r.profile.Selectors
	path := []string{}
	reached := func() (Stage, *Outcome, error) {
		a.details["calendar"] = map[string]any{"path": path, "reached": true}
		return StageScan, nil, nil
	}
	if a.visible(ctx, sel.DateInput) {
		return reached()
	}

	for i := 0; i < a.r.profile.MaxContinueClicks; i++ {
		if !a.clickFirst(ctx, sel.Continue) {
			break
		}
		path = append(path, "continue")
		if out := a.afterAction(ctx); out != nil {
			return "", out, nil
		}
		if a.visible(ctx, sel.DateInput) {
			return reached()
		}
	}

	if a.clickFirst(ctx, sel.Schedule) {
		path = append(path, "schedule")
		if out := a.afterAction(ctx); out != nil {
			return "", out, nil
		}
		if a.visible(ctx, sel.DateInput) {
			return reached()
		}
	}

	if a.click(ctx, sel.CalendarLink) == ProbeOK {
		path = append(path, "link")
		if out := a.afterAction(ctx); out != nil {
			return "", out, nil
		}
		if a.visible(ctx, sel.DateInput) {
			return reached()
		}
	}

	a.details["calendar"] = map[string]any{"path": path, "reached": false}
	return "", &Outcome{Class: BlockedCalendar, Summary: "blocked: calendar unreachable"}, nil
}

func (a *attempt) scanAvailability(ctx context.Context) (Stage, *Outcome, error) {
	reports := make([]LocationReport, 0, len(a.p.Locations))
	defer func() { a.details["scan"] = map[string]any{"locations": reports} }()

	calendar := a.sess.CurrentURL()
	for i, loc := range a.p.Locations {
		if i > 0 && a.r.heartbeat != nil {
			a.r.heartbeat(ctx)
		}
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		rep, out := a.scanLocation(ctx, loc, calendar, i > 0)
		reports = append(reports, rep)
		if out != nil {
			return "", out, nil
		}
	}
	return StageAggregate, nil, nil
}

// scanLocation shows loc's calendar and walks its months, recording a
// finding for every desired month that shows at least one open day. A
// calendar another location already walked is reloaded from its URL first.
// Days are attributed to loc only once its facility has been applied, or
// when loc is the single target of a calendar without a facility control.
func (a *attempt) scanLocation(ctx context.Context, loc, calendar string, reload bool) (LocationReport, *Outcome) {
	sel := a.r.profile.Selectors
	rep := LocationReport{Location: loc, MonthsChecked: []string{}, Findings: []domain.Finding{}}
	log := a.r.logger.With(zap.String("location", loc))

	if reload {
		if err := a.navigate(ctx, calendar); err != nil {
			a.probeErrors++
			log.Warn("calendar reload failed", zap.Error(err))
			rep.Skipped = "calendar reload failed"
			return rep, nil
		}
		if out := a.guard(ctx); out != nil {
			return rep, out
		}
	}

	switch {
	case a.applyFacility(ctx, loc):
		rep.FacilitySelected = true
		if out := a.afterAction(ctx); out != nil {
			return rep, out
		}
	case len(a.p.Locations) == 1 && a.count(ctx, sel.Facility) == 0:
		// single-facility calendar, scanned as shown
	default:
		rep.Skipped = "facility not selected"
		log.Debug("location skipped", zap.String("reason", rep.Skipped))
		return rep, nil
	}
	a.click(ctx, sel.DateInput)

	for m := 0; m < a.r.profile.MaxMonths; m++ {
		labels := a.texts(ctx, sel.MonthTitle, 1)
		if len(labels) == 0 {
			break
		}
		label := oneLine(labels[0])
		if matcher.MonthMatches(label, a.p.Months) {
			rep.MonthsChecked = append(rep.MonthsChecked, label)
			if days := dedupe(a.texts(ctx, sel.OpenDay, a.r.profile.MaxDays)); len(days) > 0 {
				f := domain.Finding{Location: loc, Month: label, Days: days}
				rep.Findings = append(rep.Findings, f)
				a.findings = append(a.findings, f)
			}
		}
		if a.click(ctx, sel.NextMonth) != ProbeOK {
			break
		}
		if out := a.afterAction(ctx); out != nil {
			return rep, out
		}
	}
	log.Debug("location scanned",
		zap.Int("months_checked", len(rep.MonthsChecked)),
		zap.Int("findings", len(rep.Findings)))
	return rep, nil
}

// applyFacility selects loc in the facility control and, when the profile
// names one, presses the facility submit control.
func (a *attempt) applyFacility(ctx context.Context, loc string) bool {
	sel := a.r.profile.Selectors
	if a.selectOption(ctx, sel.Facility, loc) != ProbeOK {
		return false
	}
	if sel.FacilitySubmit.Empty() {
		return true
	}
	return a.click(ctx, sel.FacilitySubmit) == ProbeOK
}

func dedupe(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := map[string]bool{}
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func (a *attempt) aggregate(context.Context) (Stage, *Outcome, error) {
	if len(a.findings) == 0 {
		summary := fmt.Sprintf("no matches for %s in %s",
			strings.Join(a.p.Months, ", "), strings.Join(a.p.Locations, ", "))
		return "", &Outcome{
			Class:   NoMatches,
			Summary: summary,
			Details: map[string]any{"months": a.p.Months, "locations": a.p.Locations},
		}, nil
	}
	first := a.findings[0]
	summary := fmt.Sprintf("found: %s, %s (days %s)", first.Location, first.Month, strings.Join(first.Days, ", "))
	if extra := len(a.findings) - 1; extra > 0 {
		summary += fmt.Sprintf(" +%d more", extra)
	}
	return "", &Outcome{Class: Found, Summary: summary, Findings: a.findings}, nil
}
