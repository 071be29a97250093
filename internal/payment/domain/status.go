package domain

import (
	"fmt"
	"strings"
)

// CanonicalStatus is the internal payment lifecycle every gateway status is normalised into.
type CanonicalStatus string

const (
	StatusPending    CanonicalStatus = "pending"
	StatusConfirming CanonicalStatus = "confirming"
	StatusCompleted  CanonicalStatus = "completed"
	StatusFailed     CanonicalStatus = "failed"
	StatusCancelled  CanonicalStatus = "cancelled"
	StatusExpired    CanonicalStatus = "expired"
)

// progress orders the success path; terminal failures sit outside it.
var progress = map[CanonicalStatus]int{
	StatusPending:    0,
	StatusConfirming: 1,
	StatusCompleted:  2,
}

// IsValid reports whether s is one of the canonical statuses
func (s CanonicalStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirming, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsTerminalFailure reports whether s is failed, cancelled or expired
func (s CanonicalStatus) IsTerminalFailure() bool {
	return s == StatusFailed || s == StatusCancelled || s == StatusExpired
}

// CanTransitionTo reports whether moving from s to next respects the lifecycle:
// nothing returns to pending, a terminal failure only accepts a late completion,
// and completed never changes.
func (s CanonicalStatus) CanTransitionTo(next CanonicalStatus) bool {
	if !next.IsValid() {
		return false
	}
	switch {
	case s == StatusCompleted:
		return false
	case s.IsTerminalFailure():
		return next == StatusCompleted
	case next.IsTerminalFailure():
		return true
	}
	return progress[next] >= progress[s]
}

// ParseCanonicalStatus parses a status name case-insensitively
func ParseCanonicalStatus(value string) (CanonicalStatus, error) {
	s := CanonicalStatus(strings.ToLower(strings.TrimSpace(value)))
	if !s.IsValid() {
		return "", NewValidationError("status", fmt.Sprintf("unknown status %q", value))
	}
	return s, nil
}
