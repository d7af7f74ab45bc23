package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		observed string
		cutoff   string
		want     Status
	}{
		{"07:59:59", DefaultCutoff, StatusPresent},
		{"08:00:00", DefaultCutoff, StatusPresent},
		{"08:00:01", DefaultCutoff, StatusLate},
		{"00:00:00", DefaultCutoff, StatusPresent},
		{"23:59:59", DefaultCutoff, StatusLate},
		{"09:15:00", "09:30:00", StatusPresent},
		{"09:30:01", "09:30:00", StatusLate},
	}
	for _, tt := range tests {
		t.Run(tt.observed+"/"+tt.cutoff, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.observed, tt.cutoff))
		})
	}
}

func TestClassifier(t *testing.T) {
	c, err := NewClassifier("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCutoff, c.Cutoff)

	day := func(h, m, s int) time.Time { return time.Date(2026, 10, 19, h, m, s, 0, time.UTC) }
	assert.Equal(t, StatusPresent, c.Classify(day(8, 0, 0)))
	assert.Equal(t, StatusLate, c.Classify(day(8, 0, 1)))

	custom, err := NewClassifier("07:30:00")
	require.NoError(t, err)
	assert.Equal(t, StatusLate, custom.Classify(day(7, 45, 0)))

	_, err = NewClassifier("8:00")
	assert.ErrorIs(t, err, ErrInvalidTimeOfDay)

	var zero Classifier
	assert.Equal(t, StatusPresent, zero.Classify(day(7, 0, 0)))
}

func TestParseTimeOfDay(t *testing.T) {
	for _, ok := range []string{"00:00:00", "08:00:00", "23:59:59"} {
		_, err := ParseTimeOfDay(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "8:00:00", "08:00", "24:00:00", "08:60:00", "noon"} {
		_, err := ParseTimeOfDay(bad)
		assert.ErrorIs(t, err, ErrInvalidTimeOfDay, bad)
	}
}

func TestParseStatus(t *testing.T) {
	for _, v := range []string{"present", "late", "absent"} {
		s, err := ParseStatus(v)
		require.NoError(t, err)
		assert.Equal(t, v, string(s))
	}
	for _, v := range []string{"", "Present", "excused"} {
		_, err := ParseStatus(v)
		assert.ErrorIs(t, err, ErrInvalidStatus, v)
	}
}
