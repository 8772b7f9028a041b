package automation

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Markers are lowercase text fragments that classify a page.
type Markers struct {
	Challenge          []string `yaml:"challenge"`
	Lockout            []string `yaml:"lockout"`
	InvalidCredentials []string `yaml:"invalid_credentials"`
	Authenticated      []string `yaml:"authenticated"`
}

// Selectors locate page elements. FacilitySubmit is optional: set it when the
// facility control only takes effect after a separate submit.
type Selectors struct {
	RegionSelect   Target   `yaml:"region_select"`
	RegionSubmit   Target   `yaml:"region_submit"`
	Username       Target   `yaml:"username"`
	Password       Target   `yaml:"password"`
	Consent        Target   `yaml:"consent"`
	Submit         Target   `yaml:"submit"`
	Continue       []Target `yaml:"continue"`
	Schedule       []Target `yaml:"schedule"`
	CalendarLink   Target   `yaml:"calendar_link"`
	DateInput      Target   `yaml:"date_input"`
	Facility       Target   `yaml:"facility"`
	FacilitySubmit Target   `yaml:"facility_submit"`
	MonthTitle     Target   `yaml:"month_title"`
	NextMonth      Target   `yaml:"next_month"`
	OpenDay        Target   `yaml:"open_day"`
}

// Profile holds every portal-specific heuristic the pipeline uses.
type Profile struct {
	SignInPaths       []string  `yaml:"sign_in_paths"`
	Region            string    `yaml:"region"`
	Markers           Markers   `yaml:"markers"`
	Selectors         Selectors `yaml:"selectors"`
	MaxContinueClicks int       `yaml:"max_continue_clicks"`
	MaxMonths         int       `yaml:"max_months"`
	MaxDays           int       `yaml:"max_days"`
}

func DefaultProfile() Profile {
	submit := Target{Selector: "input[type=submit], button[type=submit]"}
	action := "a, button, input[type=submit]"
	return Profile{
		SignInPaths: []string{
			"/en-us/niv/users/sign_in",
			"/es-mx/niv/users/sign_in",
			"/en-mx/niv/users/sign_in",
			"/users/sign_in",
		},
		Region: "Mexico",
		Markers: Markers{
			Challenge: []string{
				"verify you are human",
				"checking your browser",
				"are you a robot",
				"complete the captcha",
				"complete the security check",
				"verifique que es humano",
			},
			Lockout:            []string{"account is locked", "account has been locked", "cuenta bloqueada", "too many attempts"},
			InvalidCredentials: []string{"invalid email or password", "correo electrónico o contraseña no válidos", "incorrect password"},
			Authenticated:      []string{"sign out", "log out", "cerrar sesión"},
		},
		Selectors: Selectors{
			RegionSelect: Target{Selector: "select[name*=country], select[name*=region]"},
			RegionSubmit: submit,
			Username:     Target{Selector: "input[type=email], input[name*=email], input[name*=username]"},
			Password:     Target{Selector: "input[type=password]"},
			Consent:      Target{Selector: "input[type=checkbox][name*=policy], input[type=checkbox][name*=terms]"},
			Submit:       submit,
			Continue: []Target{
				{Selector: action, Text: "continue"},
				{Selector: action, Text: "continuar"},
			},
			Schedule: []Target{
				{Selector: action, Text: "reschedule appointment"},
				{Selector: action, Text: "schedule appointment"},
				{Selector: action, Text: "reprogramar cita"},
				{Selector: action, Text: "programar cita"},
			},
			CalendarLink: Target{Selector: "a[href*='/appointment']"},
			DateInput:    Target{Selector: "input[name*=appointment_date], input[name*=date]"},
			Facility:     Target{Selector: "select[name*=facility]"},
			MonthTitle:   Target{Selector: ".ui-datepicker-title"},
			NextMonth:    Target{Selector: "a.ui-datepicker-next:not(.ui-state-disabled)"},
			OpenDay:      Target{Selector: "td[data-handler=selectDay]:not(.ui-state-disabled) a"},
		},
		MaxContinueClicks: 3,
		MaxMonths:         12,
		MaxDays:           10,
	}
}

// LoadProfile reads a YAML profile from path. Keys it leaves out keep their
// DefaultProfile values.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	b, err := os.ReadFile(path)
	if err != nil {
		return p, errors.Wrap(err, "automation: read profile")
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, errors.Wrapf(err, "automation: parse profile %s", path)
	}
	return p, nil
}
