package capabilities

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_Now(t *testing.T) {
	clock := NewClock()
	clock.now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	}

	data, err := clock.Execute(context.Background(), "now", map[string]any{"tz": "UTC"})
	require.NoError(t, err)

	assert.Equal(t, "2026-03-14", data["date"])
	assert.Equal(t, "09:26:53", data["time"])
	assert.Equal(t, "Saturday", data["weekday"])
	assert.Equal(t, "UTC", data["zone"])
	assert.Equal(t, int64(1773480413), data["unix"])
}

func TestClock_DefaultsToLocalZone(t *testing.T) {
	clock := NewClock()

	data, err := clock.Execute(context.Background(), "now", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, data["iso"])
	assert.NotEmpty(t, data["zone"])
}

func TestClock_RejectsUnknownZone(t *testing.T) {
	clock := NewClock()

	_, err := clock.Execute(context.Background(), "now", map[string]any{"tz": "Mars/Olympus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mars/Olympus")
}

func TestClock_RejectsUnknownAction(t *testing.T) {
	clock := NewClock()

	_, err := clock.Execute(context.Background(), "alarm", nil)
	require.Error(t, err)
}

func TestClock_Descriptor(t *testing.T) {
	desc := NewClock().Describe()
	require.NoError(t, desc.Validate())
	assert.Equal(t, "clock", desc.Name)

	action, ok := desc.Action("now")
	require.True(t, ok)
	assert.Equal(t, "now", action.Name)
}
