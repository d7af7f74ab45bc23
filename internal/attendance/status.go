package attendance

import (
	"errors"
	"fmt"
	"time"
)

// Status is the outcome stored for a student on a day.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	// StatusAbsent is implied for students with no record that day and is
	// never produced by a scan.
	StatusAbsent Status = "absent"
)

// DefaultCutoff separates present from late when nothing is configured.
const DefaultCutoff = "08:00:00"

const timeOfDayLayout = "15:04:05"

var (
	ErrInvalidStatus    = errors.New("invalid attendance status")
	ErrInvalidTimeOfDay = errors.New("time of day must be HH:MM:SS")
)

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	}
	return false
}

// ParseStatus accepts exactly "present", "late" or "absent".
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// ParseTimeOfDay checks v is a zero-padded 24h HH:MM:SS value.
func ParseTimeOfDay(v string) (string, error) {
	t, err := time.Parse(timeOfDayLayout, v)
	if err != nil || t.Format(timeOfDayLayout) != v {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, v)
	}
	return v, nil
}

// TimeOfDay formats t as HH:MM:SS in its own location.
func TimeOfDay(t time.Time) string { return t.Format(timeOfDayLayout) }

// Classify compares zero-padded HH:MM:SS strings; observed at or before the
// cutoff is present, anything later is late. Both values must share a zone.
func Classify(observed, cutoff string) Status {
	if observed <= cutoff {
		return StatusPresent
	}
	return StatusLate
}

// Classifier carries a deployment's cutoff.
type Classifier struct {
	Cutoff string
}

// NewClassifier validates cutoff, defaulting to DefaultCutoff when empty.
func NewClassifier(cutoff string) (Classifier, error) {
	if cutoff == "" {
		return Classifier{Cutoff: DefaultCutoff}, nil
	}
	if _, err := ParseTimeOfDay(cutoff); err != nil {
		return Classifier{}, err
	}
	return Classifier{Cutoff: cutoff}, nil
}

// Classify applies the configured cutoff to t's wall clock.
func (c Classifier) Classify(t time.Time) Status {
	cutoff := c.Cutoff
	if cutoff == "" {
		cutoff = DefaultCutoff
	}
	return Classify(TimeOfDay(t), cutoff)
}
