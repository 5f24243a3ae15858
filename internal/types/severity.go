// ABOUTME: Ordered vulnerability severity levels shared by every registry backend.
// ABOUTME: Serializes as Harbor's title-cased strings and parses ECR and Trivy spellings.

package types

import (
	"encoding/json"
	"strings"
)

// Severity is one of six ordered vulnerability levels. The zero value is SeverityUnknown.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityNegligible
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severities lists every level from lowest to highest.
var Severities = []Severity{
	SeverityUnknown,
	SeverityNegligible,
	SeverityLow,
	SeverityMedium,
	SeverityHigh,
	SeverityCritical,
}

var severityToString = map[Severity]string{
	SeverityUnknown:    "Unknown",
	SeverityNegligible: "Negligible",
	SeverityLow:        "Low",
	SeverityMedium:     "Medium",
	SeverityHigh:       "High",
	SeverityCritical:   "Critical",
}

var stringToSeverity = map[string]Severity{
	"unknown":       SeverityUnknown,
	"undefined":     SeverityUnknown,
	"none":          SeverityUnknown,
	"negligible":    SeverityNegligible,
	"informational": SeverityNegligible,
	"low":           SeverityLow,
	"medium":        SeverityMedium,
	"high":          SeverityHigh,
	"critical":      SeverityCritical,
}

func (s Severity) String() string {
	if name, ok := severityToString[s]; ok {
		return name
	}
	return severityToString[SeverityUnknown]
}

// Rank is the index of s in the fixed order.
func (s Severity) Rank() int {
	if s < SeverityUnknown || s > SeverityCritical {
		return 0
	}
	return int(s)
}

// Less reports whether s ranks strictly below other.
func (s Severity) Less(other Severity) bool {
	return s.Rank() < other.Rank()
}

// ParseSeverity maps a scanner's severity spelling onto the six levels.
// Unrecognized values become SeverityUnknown.
func ParseSeverity(value string) Severity {
	if sev, ok := stringToSeverity[strings.ToLower(strings.TrimSpace(value))]; ok {
		return sev
	}
	return SeverityUnknown
}

// Highest returns the most severe level. Ties keep the earliest value and an
// empty input yields SeverityUnknown.
func Highest(severities ...Severity) Severity {
	if len(severities) == 0 {
		return SeverityUnknown
	}
	highest := severities[0]
	for _, sev := range severities[1:] {
		if sev.Rank() > highest.Rank() {
			highest = sev
		}
	}
	return highest
}

// SeverityFromScore maps a CVSS base score to a level.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	case score >= 0.1:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// MarshalJSON marshals the Severity as a quoted title-cased string.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts any spelling ParseSeverity understands.
func (s *Severity) UnmarshalJSON(b []byte) error {
	var value string
	if err := json.Unmarshal(b, &value); err != nil {
		return err
	}
	*s = ParseSeverity(value)
	return nil
}

// MarshalText lets Severity be used as a JSON map key.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}
