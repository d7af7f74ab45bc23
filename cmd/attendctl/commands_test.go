package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/qrcode"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", `{"type":"student_attendance","student_id":"abc-123"}`)
	require.NoError(t, err)
	assert.Equal(t, "abc-123\n", out)

	_, err = execute(t, "validate", "not-json")
	assert.ErrorIs(t, err, qrcode.ErrMalformedPayload)
}

func TestClassifyCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"before cutoff", []string{"classify", "07:59:59", "--cutoff", "08:00:00"}, "present\n"},
		{"at cutoff", []string{"classify", "08:00:00", "--cutoff", "08:00:00"}, "present\n"},
		{"after cutoff", []string{"classify", "08:00:01", "--cutoff", "08:00:00"}, "late\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}

	_, err := execute(t, "classify", "8:00", "--cutoff", "08:00:00")
	assert.Error(t, err)
}

func TestStatsRejectsBadDate(t *testing.T) {
	_, err := execute(t, "stats", "--date", "2026-13-01")
	assert.ErrorContains(t, err, "invalid --date")
}
