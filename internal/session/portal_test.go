package session

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/SirClappington/slotwatch/internal/automation"
	"github.com/SirClappington/slotwatch/internal/domain"
)

const signInPage = `
<div class="error" style="display:none">Invalid email or password.</div>
<form action="/users/sign_in" method="post">
	<input type="hidden" name="authenticity_token" value="tok">
	<input type="email" name="user[email]">
	<input type="password" name="user[password]">
	<label><input type="checkbox" name="policy_confirmed" value="1"> I agree</label>
	<input type="submit" name="commit" value="Sign In">
</form>`

type calendarMonth struct {
	title string
	days  []string
}

// facilityCalendars are the months each facility shows, keyed by facility_id.
var facilityCalendars = map[string][]calendarMonth{
	"89": {{"March 2025", []string{"4", "11"}}, {"April 2025", []string{"9"}}},
	"90": {{"March 2025", nil}, {"April 2025", []string{"16", "23"}}},
}

type portalServer struct {
	URL   string
	posts atomic.Int32
}

// calendarPage renders the appointment form. The facility select submits its
// form on change; the datepicker only appears once a facility is chosen.
func calendarPage(facility string, month int) string {
	var b strings.Builder
	b.WriteString(`<a href="/users/sign_out">Sign out</a>
		<form action="/appointment">
			<select name="facility_id"><option value=""></option>`)
	for _, o := range []struct{ id, name string }{{"89", "Tijuana"}, {"90", "Monterrey"}} {
		sel := ""
		if o.id == facility {
			sel = " selected"
		}
		fmt.Fprintf(&b, `<option value="%s"%s>%s</option>`, o.id, sel, o.name)
	}
	b.WriteString(`</select>
			<input type="text" name="appointment_date" readonly>
		</form>`)

	months, ok := facilityCalendars[facility]
	if !ok {
		return b.String()
	}
	m := months[month]
	fmt.Fprintf(&b, `<div class="ui-datepicker"><div class="ui-datepicker-title">%s</div>`, m.title)
	if month+1 < len(months) {
		fmt.Fprintf(&b, `<a class="ui-datepicker-next" href="/appointment?facility_id=%s&amp;m=%d">Next</a>`, facility, month+1)
	} else {
		b.WriteString(`<a class="ui-datepicker-next ui-state-disabled">Next</a>`)
	}
	b.WriteString(`<table><tr><td class="ui-state-disabled"><span>1</span></td>`)
	for _, d := range m.days {
		fmt.Fprintf(&b, `<td data-handler="selectDay"><a>%s</a></td>`, d)
	}
	b.WriteString(`</tr></table></div>`)
	return b.String()
}

// fakePortal serves a sign-in form, a landing page and per-facility
// calendars behind a session cookie. Sign-in POSTs take loginDelay.
func fakePortal(t *testing.T, loginDelay time.Duration) *portalServer {
	p := &portalServer{}
	signedIn := func(r *http.Request) bool {
		c, err := r.Cookie("portal_session")
		return err == nil && c.Value == "ok"
	}
	signIn := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			fmt.Fprint(w, page("Sign In", signInPage))
			return
		}
		p.posts.Add(1)
		time.Sleep(loginDelay)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("user[email]") != "ana@example.com" || r.PostForm.Get("user[password]") != "hunter2" ||
			r.PostForm.Get("policy_confirmed") != "1" || r.PostForm.Get("authenticity_token") != "tok" {
			fmt.Fprint(w, page("Sign In", "<p>Invalid email or password.</p>"+signInPage))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "portal_session", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/groups", http.StatusFound)
	}
	groups := func(w http.ResponseWriter, r *http.Request) {
		if !signedIn(r) {
			http.Redirect(w, r, "/users/sign_in", http.StatusFound)
			return
		}
		fmt.Fprint(w, page("Groups", `<a href="/users/sign_out">Sign out</a><a class="button" href="/appointment">Continue</a>`))
	}
	appointment := func(w http.ResponseWriter, r *http.Request) {
		if !signedIn(r) {
			http.Redirect(w, r, "/users/sign_in", http.StatusFound)
			return
		}
		q := r.URL.Query()
		month, _ := strconv.Atoi(q.Get("m"))
		if n := len(facilityCalendars[q.Get("facility_id")]); month < 0 || (n > 0 && month >= n) {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, page("Schedule", calendarPage(q.Get("facility_id"), month)))
	}
	srv := serve(t, map[string]http.HandlerFunc{
		"/users/sign_in": signIn,
		"/groups":        groups,
		"/appointment":   appointment,
	})
	p.URL = srv.URL
	return p
}

func TestRunnerAgainstPortal(t *testing.T) {
	base := fakePortal(t, 0).URL
	open := Factory(WithRequestsPerSecond(0), WithLogger(zaptest.NewLogger(t)))
	r := automation.NewRunner(open, automation.WithLogger(zaptest.NewLogger(t)))

	out := r.Run(context.Background(), domain.Payload{
		ClientID:  "c1",
		PortalURL: base + "/users/sign_in",
		Username:  "ana@example.com",
		Password:  "hunter2",
		Locations: []string{"Tijuana"},
		Months:    []string{"march"},
	})
	if out.Class != automation.Found || out.JobStatus() != domain.Done {
		t.Fatalf("outcome = %+v", out)
	}
	want := []domain.Finding{{Location: "Tijuana", Month: "March 2025", Days: []string{"4", "11"}}}
	if !reflect.DeepEqual(out.Findings, want) {
		t.Fatalf("findings = %+v", out.Findings)
	}
	if out.Summary != "found: Tijuana, March 2025 (days 4, 11)" {
		t.Fatalf("summary = %q", out.Summary)
	}
}

func TestRunnerAgainstPortalWrongPassword(t *testing.T) {
	base := fakePortal(t, 0).URL
	r := automation.NewRunner(Factory(WithRequestsPerSecond(0)))

	out := r.Run(context.Background(), domain.Payload{
		PortalURL: base + "/users/sign_in",
		Username:  "ana@example.com",
		Password:  "wrong",
		Locations: []string{"Tijuana"},
		Months:    []string{"march"},
	})
	if out.Class != automation.BlockedInvalidCredentials || out.Stage != automation.StageLogin {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRunnerAgainstPortalTwoLocations(t *testing.T) {
	base := fakePortal(t, 0).URL
	open := Factory(WithRequestsPerSecond(0), WithLogger(zaptest.NewLogger(t)))
	r := automation.NewRunner(open, automation.WithLogger(zaptest.NewLogger(t)))

	out := r.Run(context.Background(), domain.Payload{
		ClientID:  "c1",
		PortalURL: base + "/users/sign_in",
		Username:  "ana@example.com",
		Password:  "hunter2",
		Locations: []string{"Tijuana", "Monterrey"},
		Months:    []string{"march", "april"},
	})
	if out.Class != automation.Found {
		t.Fatalf("outcome = %+v", out)
	}
	want := []domain.Finding{
		{Location: "Tijuana", Month: "March 2025", Days: []string{"4", "11"}},
		{Location: "Tijuana", Month: "April 2025", Days: []string{"9"}},
		{Location: "Monterrey", Month: "April 2025", Days: []string{"16", "23"}},
	}
	if !reflect.DeepEqual(out.Findings, want) {
		t.Fatalf("findings = %+v", out.Findings)
	}
	if out.Summary != "found: Tijuana, March 2025 (days 4, 11) +2 more" {
		t.Fatalf("summary = %q", out.Summary)
	}
	scan := out.Details["scan"].(map[string]any)
	reports := scan["locations"].([]automation.LocationReport)
	for _, rep := range reports {
		if !rep.FacilitySelected || !reflect.DeepEqual(rep.MonthsChecked, []string{"March 2025", "April 2025"}) {
			t.Fatalf("report = %+v", rep)
		}
	}
}

func TestRunnerAgainstSlowSignIn(t *testing.T) {
	run := func(t *testing.T, password string) (automation.Outcome, *portalServer) {
		srv := fakePortal(t, 300*time.Millisecond)
		r := automation.NewRunner(Factory(WithRequestsPerSecond(0)),
			automation.WithLogger(zaptest.NewLogger(t)),
			automation.WithProbeTimeout(50*time.Millisecond),
		)
		out := r.Run(context.Background(), domain.Payload{
			PortalURL: srv.URL + "/users/sign_in",
			Username:  "ana@example.com",
			Password:  password,
			Locations: []string{"Tijuana"},
			Months:    []string{"march"},
		})
		return out, srv
	}

	t.Run("wrong password", func(t *testing.T) {
		out, srv := run(t, "wrong")
		if out.Class != automation.BlockedInvalidCredentials {
			t.Fatalf("outcome = %+v", out)
		}
		if n := srv.posts.Load(); n != 1 {
			t.Fatalf("credentials posted %d times", n)
		}
		if login := out.Details["login"].(map[string]any); login["submit"] != "click" {
			t.Fatalf("login = %+v", login)
		}
	})

	t.Run("signed in", func(t *testing.T) {
		out, srv := run(t, "hunter2")
		if out.Class != automation.Found || len(out.Findings) != 1 {
			t.Fatalf("outcome = %+v", out)
		}
		if n := srv.posts.Load(); n != 1 {
			t.Fatalf("credentials posted %d times", n)
		}
	})
}
