package diag

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStartMarkerStampsBothZones(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	var buf bytes.Buffer
	r := NewReporter(&buf, loc, zap.NewNop())

	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	r.Start("fetch-historical-data", now)

	out := buf.String()
	assert.Contains(t, out, "Job started: 2026-03-02 09:30:00 EST")
	assert.Contains(t, out, "Job started (UTC): 2026-03-02 14:30:00 UTC")
	assert.Contains(t, out, "Working directory: ")
	assert.Contains(t, out, "User: ")
	assert.Contains(t, out, "PATH: ")
}

func TestStartMarkerZonesAgreeOnInstant(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	var buf bytes.Buffer
	r := NewReporter(&buf, loc, zap.NewNop())

	now := time.Now()
	r.Start("job", now)

	lines := strings.Split(buf.String(), "\n")
	local := strings.TrimPrefix(lines[0], "Job started: ")
	utc := strings.TrimPrefix(lines[1], "Job started (UTC): ")

	localT, err := time.ParseInLocation(stampLayout, local, loc)
	require.NoError(t, err)
	utcT, err := time.Parse(stampLayout, utc)
	require.NoError(t, err)

	assert.True(t, localT.Equal(utcT), "both stamps must name the same instant")
}

func TestFinishMarkerContainsLiteralStatus(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, time.UTC, zap.NewNop())

	r.Finish("receive-signals-server", 7, time.Now())

	out := buf.String()
	assert.Contains(t, out, "Exit status: 7")
	assert.Contains(t, out, "Job finished: ")

	// Status line comes before the finish stamp.
	assert.Less(t,
		strings.Index(out, "Exit status: 7"),
		strings.Index(out, "Job finished: "))
}

func TestAbortedMarkerHasNoExitStatus(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, time.UTC, zap.NewNop())

	r.Aborted("job", assert.AnError, time.Now())

	out := buf.String()
	assert.Contains(t, out, "Job aborted: ")
	assert.NotContains(t, out, "Exit status:")
}
