package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match with errors.Is.
var (
	ErrCredential   = errors.New("credential error")
	ErrFetch        = errors.New("fetch error")
	ErrPersistence  = errors.New("persistence error")
	ErrDispatch     = errors.New("dispatch error")
	ErrScheduleSpec = errors.New("schedule spec error")
	ErrNotFound     = errors.New("not found")
)

// CredentialError means a credential was missing or incomplete before a fetch.
type CredentialError struct {
	Missing []string
	Reason  string
	Err     error
}

func (e *CredentialError) Error() string {
	var b strings.Builder
	b.WriteString("credential")
	if len(e.Missing) > 0 {
		b.WriteString(": missing ")
		b.WriteString(strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CredentialError) Unwrap() error        { return e.Err }
func (e *CredentialError) Is(target error) bool { return target == ErrCredential }

// FetchError wraps transport failures, non-success statuses and feed parse failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error        { return e.Err }
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// PersistenceError wraps repository failures.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// DispatchError wraps an SMTP transport or authentication failure for one recipient.
type DispatchError struct {
	Recipient string
	Stage     string
	Err       error
}

func (e *DispatchError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("dispatch to %s: %s: %v", e.Recipient, e.Stage, e.Err)
	}
	return fmt.Sprintf("dispatch to %s: %v", e.Recipient, e.Err)
}

func (e *DispatchError) Unwrap() error        { return e.Err }
func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }

// ScheduleSpecError means a cron-pattern field was rejected by the trigger engine.
type ScheduleSpecError struct {
	ScheduleID int64
	Field      string
	Pattern    string
	Err        error
}

func (e *ScheduleSpecError) Error() string {
	var b strings.Builder
	b.WriteString("schedule")
	if e.ScheduleID != 0 {
		fmt.Fprintf(&b, " %d", e.ScheduleID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	fmt.Fprintf(&b, ": invalid pattern %q", e.Pattern)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ScheduleSpecError) Unwrap() error        { return e.Err }
func (e *ScheduleSpecError) Is(target error) bool { return target == ErrScheduleSpec }
