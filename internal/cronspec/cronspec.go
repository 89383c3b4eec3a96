// Package cronspec turns the five raw cron fields of a schedule into a
// validated trigger specification, parsed exactly once.
package cronspec

import (
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"approvalmailer/internal/domain"
)

// Descriptors ("@hourly") and the seconds field are rejected: a schedule is
// always five separate fields.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Spec is a validated cron specification.
type Spec struct {
	fields domain.CronFields
	sched  cron.Schedule
}

// Parse validates fields and returns the parsed Spec.
// The error is a *domain.ScheduleSpecError naming the first rejected field.
func Parse(fields domain.CronFields) (Spec, error) {
	fields = fields.Trimmed()
	named := []struct {
		name, value string
	}{
		{"minute", fields.Minute},
		{"hour", fields.Hour},
		{"day_of_month", fields.DayOfMonth},
		{"month", fields.Month},
		{"day_of_week", fields.DayOfWeek},
	}
	for i, f := range named {
		if f.value == "" {
			return Spec{}, &domain.ScheduleSpecError{Field: f.name, Pattern: f.value, Err: errors.New("field required")}
		}
		if strings.ContainsAny(f.value, " \t\r\n") {
			return Spec{}, &domain.ScheduleSpecError{Field: f.name, Pattern: f.value, Err: errors.New("field must not contain whitespace")}
		}
		// Validate the field in isolation so the error can name it.
		probe := []string{"*", "*", "*", "*", "*"}
		probe[i] = f.value
		if _, err := parser.Parse(strings.Join(probe, " ")); err != nil {
			return Spec{}, &domain.ScheduleSpecError{Field: f.name, Pattern: f.value, Err: err}
		}
	}

	sched, err := parser.Parse(fields.String())
	if err != nil {
		return Spec{}, &domain.ScheduleSpecError{Pattern: fields.String(), Err: err}
	}
	return Spec{fields: fields, sched: sched}, nil
}

// MustParse is Parse for static patterns; it panics on error.
func MustParse(expr string) Spec {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		panic("cronspec: expected 5 fields in " + expr)
	}
	s, err := Parse(domain.CronFields{Minute: parts[0], Hour: parts[1], DayOfMonth: parts[2], Month: parts[3], DayOfWeek: parts[4]})
	if err != nil {
		panic(err)
	}
	return s
}

func (s Spec) Fields() domain.CronFields { return s.fields }
func (s Spec) String() string            { return s.fields.String() }
func (s Spec) IsZero() bool              { return s.sched == nil }

// Schedule returns the parsed schedule for registration with a cron.Cron.
func (s Spec) Schedule() cron.Schedule { return s.sched }

// Next returns the next activation strictly after t.
func (s Spec) Next(t time.Time) time.Time {
	if s.sched == nil {
		return time.Time{}
	}
	return s.sched.Next(t)
}
