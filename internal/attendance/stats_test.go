package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/roster"
)

func TestSummarise(t *testing.T) {
	tests := []struct {
		name                 string
		total, present, late int
		wantAbsent           int
		wantRate             float64
	}{
		{"empty roster", 0, 0, 0, 0, 0},
		{"everyone present", 1, 1, 0, 0, 100},
		{"mixed", 3, 1, 1, 1, 66.67},
		{"one third", 3, 1, 0, 2, 33.33},
		{"nobody", 4, 0, 0, 4, 0},
		{"more rows than roster", 1, 1, 1, 0, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarise("2026-10-19", tt.total, tt.present, tt.late)
			assert.Equal(t, tt.wantAbsent, s.AbsentCount)
			assert.InDelta(t, tt.wantRate, s.AttendanceRate, 1e-9)
		})
	}
}

func TestAggregator_EndToEnd(t *testing.T) {
	ctx := context.Background()
	students := roster.NewMemory()
	_, err := students.Create(ctx, roster.Student{ID: "s1", StudentNumber: "2024001", Name: "Ana", Class: "10A"})
	require.NoError(t, err)

	clock := Clock{Now: func() time.Time { return at(7, 45, 0) }, Location: time.UTC}
	repo := NewMemory()
	ledger := NewLedger(repo, students, WithClock(clock))

	status := Classifier{Cutoff: DefaultCutoff}.Classify(clock.now())
	rec, err := ledger.MarkAttendance(ctx, "s1", status)
	require.NoError(t, err)
	assert.Equal(t, "07:45:00", rec.Time)
	assert.Equal(t, StatusPresent, rec.Status)

	agg := NewAggregator(students, repo, clock)
	stats, err := agg.GetStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Date:           "2026-10-19",
		TotalStudents:  1,
		PresentCount:   1,
		AbsentCount:    0,
		AttendanceRate: 100,
	}, stats)

	other, err := agg.GetStats(ctx, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 1, other.AbsentCount)
	assert.Zero(t, other.AttendanceRate)
}
