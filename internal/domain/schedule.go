package domain

import (
	"net/url"
	"strings"
	"time"
)

// Credential identifies one remote feed endpoint and how to authenticate to it.
type Credential struct {
	EndpointURL string
	Username    string
	Secret      string
}

// Validate reports a CredentialError when any part is missing or the endpoint
// is not an absolute http(s) URL.
func (c Credential) Validate() error {
	var missing []string
	if strings.TrimSpace(c.EndpointURL) == "" {
		missing = append(missing, "endpoint_url")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if c.Secret == "" {
		missing = append(missing, "secret")
	}
	if len(missing) > 0 {
		return &CredentialError{Missing: missing}
	}
	u, err := url.Parse(strings.TrimSpace(c.EndpointURL))
	if err != nil {
		return &CredentialError{Reason: "invalid endpoint_url", Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &CredentialError{Reason: "endpoint_url must be an absolute http or https URL"}
	}
	return nil
}

// CronFields holds the five raw cron-pattern fields of a schedule.
type CronFields struct {
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
}

// String joins the fields into a standard 5-field cron expression.
func (f CronFields) String() string {
	return strings.Join([]string{f.Minute, f.Hour, f.DayOfMonth, f.Month, f.DayOfWeek}, " ")
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (f CronFields) Trimmed() CronFields {
	return CronFields{
		Minute:     strings.TrimSpace(f.Minute),
		Hour:       strings.TrimSpace(f.Hour),
		DayOfMonth: strings.TrimSpace(f.DayOfMonth),
		Month:      strings.TrimSpace(f.Month),
		DayOfWeek:  strings.TrimSpace(f.DayOfWeek),
	}
}

// Schedule is one persisted recurring notification definition.
// Schedules are never updated in place; a change is a delete followed by an insert.
type Schedule struct {
	ID         int64
	Cron       CronFields
	Credential Credential
	CreatedAt  time.Time
}
