// Package metrics records pipeline and scheduler activity.
package metrics

import "time"

// Sink is fire-and-forget: implementations must not block or return errors.
type Sink interface {
	// Pipeline
	RunCompleted(trigger, outcome string, duration time.Duration)
	FetchCompleted(duration time.Duration, entries int, err error)
	MailSent(outcome string)

	// Scheduler
	TriggersActive(n int)
	Reconfigured(outcome string)
}

// Trigger labels.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// Outcome labels.
const (
	OutcomeSuccess    = "success"
	OutcomePartial    = "partial"
	OutcomeFailed     = "failed"
	OutcomeFetchError = "fetch_error"
)
