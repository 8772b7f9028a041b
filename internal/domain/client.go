package domain

import "time"

// Client is an applicant being monitored. Password always holds the sealed
// form produced by the vault.
type Client struct {
	ID                string     `json:"id"`
	FullName          string     `json:"full_name"`
	ContactChannel    string     `json:"contact_channel"`
	ContactHandle     string     `json:"contact_handle"`
	Timezone          string     `json:"timezone"`
	PortalURL         string     `json:"portal_url"`
	Username          string     `json:"username"`
	Password          string     `json:"-"`
	TargetCities      string     `json:"target_cities"`
	TargetMonths      string     `json:"target_months"`
	AutoBook          bool       `json:"auto_book"`
	Notes             string     `json:"notes"`
	MonitoringEnabled bool       `json:"monitoring_enabled"`
	LastCheckAt       *time.Time `json:"last_check_at,omitempty"`
	LastResult        string     `json:"last_result"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ScanResult is what a worker reports for a finished job. Details is keyed by
// pipeline stage name.
type ScanResult struct {
	Summary  string         `json:"summary"`
	Details  map[string]any `json:"details,omitempty"`
	Findings []Finding      `json:"findings,omitempty"`
}

// Finding is one (location, month, open days) triple from a calendar scan.
type Finding struct {
	Location string   `json:"location"`
	Month    string   `json:"month"`
	Days     []string `json:"days"`
}
