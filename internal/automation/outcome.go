package automation

import (
	"strings"

	"github.com/SirClappington/slotwatch/internal/domain"
)

// Stage names one step of the scan pipeline.
type Stage string

const (
	StagePrecheck  Stage = "precheck"
	StageSignIn    Stage = "signin"
	StageLogin     Stage = "login"
	StageCalendar  Stage = "calendar"
	StageScan      Stage = "scan"
	StageAggregate Stage = "aggregate"
)

// Class is the terminal classification of one scan attempt.
type Class string

const (
	Found                     Class = "found"
	NoMatches                 Class = "no_matches"
	BlockedMissingInputs      Class = "blocked_missing_inputs"
	BlockedSignInUnreachable  Class = "blocked_signin_unreachable"
	BlockedChallenge          Class = "blocked_challenge"
	BlockedLockout            Class = "blocked_lockout"
	BlockedInvalidCredentials Class = "blocked_invalid_credentials"
	BlockedUnknown            Class = "blocked_unknown"
	BlockedCalendar           Class = "blocked_calendar_unreachable"
	BlockedAutomationError    Class = "blocked_automation_error"
)

// LoginState classifies the page after a sign-in attempt.
type LoginState string

const (
	LoggedIn                LoginState = "logged_in"
	LoginChallenge          LoginState = "blocked_challenge"
	LoginLockout            LoginState = "blocked_lockout"
	LoginInvalidCredentials LoginState = "blocked_invalid_credentials"
	LoginUnknown            LoginState = "blocked_unknown"
)

// LocationReport is what the scan saw for one requested location. Skipped
// names why its calendar was never walked.
type LocationReport struct {
	Location         string           `json:"location"`
	FacilitySelected bool             `json:"facility_selected"`
	Skipped          string           `json:"skipped,omitempty"`
	MonthsChecked    []string         `json:"months_checked"`
	Findings         []domain.Finding `json:"findings"`
}

// Outcome is the terminal result of one pipeline run.
type Outcome struct {
	Class    Class
	Stage    Stage
	Summary  string
	Findings []domain.Finding
	Details  map[string]any
}

// JobStatus maps the outcome onto the ledger: only an automation fault is an
// error; every classification, blocked or not, finishes the job as done.
func (o Outcome) JobStatus() domain.Status {
	if o.Class == BlockedAutomationError {
		return domain.Errored
	}
	return domain.Done
}

func (o Outcome) Result() domain.ScanResult {
	details := make(map[string]any, len(o.Details)+2)
	for k, v := range o.Details {
		details[k] = v
	}
	details["stage"] = string(o.Stage)
	details["class"] = string(o.Class)
	return domain.ScanResult{
		Summary:  oneLine(o.Summary),
		Details:  details,
		Findings: o.Findings,
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
