package model

import "fmt"

// Status is the taxonomy assigned to one fetch outcome.
type Status int

const (
	// StatusOK means the page loaded and looks like real content.
	StatusOK Status = iota

	// StatusBlocked means the remote side answered with anti-bot defenses.
	// Retried on a smaller budget with a longer backoff.
	StatusBlocked

	// StatusEmpty means the page loaded but the expected content markers are absent.
	// Never retried.
	StatusEmpty

	// StatusTransientError covers network failures, timeouts and 5xx answers.
	StatusTransientError

	// StatusFatalError covers failures that cannot improve on retry.
	StatusFatalError
)

// Statuses lists every Status.
var Statuses = []Status{StatusOK, StatusBlocked, StatusEmpty, StatusTransientError, StatusFatalError}

// String returns the upper-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBlocked:
		return "BLOCKED"
	case StatusEmpty:
		return "EMPTY"
	case StatusTransientError:
		return "TRANSIENT_ERROR"
	case StatusFatalError:
		return "FATAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for _, st := range Statuses {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Classification is the verdict for one fetch. It is derived per fetch and
// never persisted.
type Classification struct {
	Status    Status `json:"status"`
	Retriable bool   `json:"retriable"`
	Reason    string `json:"reason"`
}

// NewClassification builds a Classification; Retriable follows from status.
func NewClassification(status Status, reason string) Classification {
	return Classification{
		Status:    status,
		Retriable: status == StatusTransientError || status == StatusBlocked,
		Reason:    reason,
	}
}
