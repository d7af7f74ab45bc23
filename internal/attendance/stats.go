package attendance

import (
	"context"
	"math"
)

// Stats summarises one day. Absent students have no rows; their count is
// derived from the roster size.
type Stats struct {
	Date           string  `json:"date"`
	TotalStudents  int     `json:"total_students"`
	PresentCount   int     `json:"present_today"`
	LateCount      int     `json:"late_today"`
	AbsentCount    int     `json:"absent_today"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// StudentCounter reports roster size.
type StudentCounter interface {
	Count(ctx context.Context) (int, error)
}

// StatusCounter reports ledger rows per status for a date.
type StatusCounter interface {
	CountByStatus(ctx context.Context, date string) (map[Status]int, error)
}

// Aggregator computes daily statistics from roster and ledger snapshots.
type Aggregator struct {
	students StudentCounter
	records  StatusCounter
	clock    Clock
}

// NewAggregator creates an aggregator.
func NewAggregator(students StudentCounter, records StatusCounter, clock Clock) *Aggregator {
	return &Aggregator{students: students, records: records, clock: clock}
}

// GetStats computes the summary for date, or today when date is empty.
func (a *Aggregator) GetStats(ctx context.Context, date string) (Stats, error) {
	if date == "" {
		date = a.clock.Today()
	}
	total, err := a.students.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	counts, err := a.records.CountByStatus(ctx, date)
	if err != nil {
		return Stats{}, err
	}
	return Summarise(date, total, counts[StatusPresent], counts[StatusLate]), nil
}

// Summarise derives absent count and rate (percent, two decimals; zero for
// an empty roster).
func Summarise(date string, total, present, late int) Stats {
	absent := total - present - late
	if absent < 0 {
		absent = 0
	}
	var rate float64
	if total > 0 {
		rate = math.Round(float64(present+late)/float64(total)*100*100) / 100
	}
	return Stats{
		Date:           date,
		TotalStudents:  total,
		PresentCount:   present,
		LateCount:      late,
		AbsentCount:    absent,
		AttendanceRate: rate,
	}
}
