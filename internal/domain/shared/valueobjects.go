// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Identifiers are opaque strings scoped within their parent entity.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@-]{0,127}$`)

// ValidID reports whether s can be used as a project, subject, skill, badge or user id.
func ValidID(s string) bool {
	return idRegex.MatchString(s)
}

// UserID identifies a platform user. The engine never owns user records.
type UserID string

// IsValid checks if the user ID is well formed.
func (u UserID) IsValid() bool {
	return ValidID(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", NewDomainError("shared", "NewUserID", ErrUnknownUser, "invalid user id")
	}
	return uid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Time Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// EventTime truncates t to the millisecond resolution used for event identity.
func EventTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// FromUnixMillis converts epoch milliseconds to an event time.
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// DayKey returns the calendar day of t in loc formatted as YYYY-MM-DD.
// A nil loc means UTC.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
