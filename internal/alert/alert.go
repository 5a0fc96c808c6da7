// Package alert defines the canonical alert event model shared by the
// ingest, suppression, and correlation layers.
package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Severity is an ordinal alert severity. Higher values are more severe.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase wire representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a severity string to its ordinal value.
// Matching is case-insensitive.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	sev, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// Alert is a single alert event. Fields are fixed at construction; the
// fingerprint is a pure function of Service, Type, and Severity, so
// recomputing it for the same event always yields the same value.
type Alert struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Value     float64   `json:"value,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Fingerprint derives the grouping key used for suppression and
// deduplication: two alerts with equal service, type, and severity are
// duplicates of the same underlying condition. Alerts for the same
// condition at different severities are kept distinct rather than merged.
func (a *Alert) Fingerprint() string {
	h := sha256.Sum256([]byte(a.Service + "|" + a.Type + "|" + a.Severity.String()))
	return hex.EncodeToString(h[:16])
}

// Validate checks the fields a producer must set.
func (a *Alert) Validate() error {
	if a.Service == "" {
		return fmt.Errorf("alert %s: service is required", a.ID)
	}
	if a.Type == "" {
		return fmt.Errorf("alert %s: type is required", a.ID)
	}
	if a.Timestamp.IsZero() {
		return fmt.Errorf("alert %s: timestamp is required", a.ID)
	}
	return nil
}
