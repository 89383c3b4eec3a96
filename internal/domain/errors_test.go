package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	t.Parallel()
	cause := errors.New("cause")
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"credential", &CredentialError{Missing: []string{"username"}}, ErrCredential},
		{"fetch", &FetchError{URL: "http://x", Err: cause}, ErrFetch},
		{"persistence", &PersistenceError{Op: "insert", Err: cause}, ErrPersistence},
		{"dispatch", &DispatchError{Recipient: "a@x.com", Err: cause}, ErrDispatch},
		{"schedule spec", &ScheduleSpecError{Pattern: "61", Err: cause}, ErrScheduleSpec},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.kind) {
				t.Fatalf("errors.Is(%v, %v) = false", wrapped, tt.kind)
			}
			if errors.Is(wrapped, ErrNotFound) {
				t.Fatalf("unexpected match with ErrNotFound")
			}
		})
	}
}

func TestPersistenceErrorUnwrapsNotFound(t *testing.T) {
	err := &PersistenceError{Op: "delete", Err: ErrNotFound}
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected both kinds to match: %v", err)
	}
}

func TestCredentialValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cred Credential
		ok   bool
	}{
		{"complete", Credential{EndpointURL: "https://host/sap/opu/odata/X", Username: "u", Secret: "s"}, true},
		{"missing secret", Credential{EndpointURL: "https://host/x", Username: "u"}, false},
		{"missing all", Credential{}, false},
		{"relative url", Credential{EndpointURL: "/x", Username: "u", Secret: "s"}, false},
		{"ftp url", Credential{EndpointURL: "ftp://host/x", Username: "u", Secret: "s"}, false},
	}
	for _, tt := range tests {
		err := tt.cred.Validate()
		if tt.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrCredential) {
			t.Fatalf("%s: expected credential error, got %v", tt.name, err)
		}
	}
}

func TestCronFieldsString(t *testing.T) {
	f := CronFields{Minute: " */30", Hour: "*", DayOfMonth: "*", Month: "*", DayOfWeek: "1-5 "}.Trimmed()
	if got := f.String(); got != "*/30 * * * 1-5" {
		t.Fatalf("String() = %q", got)
	}
}
