package delay_test

import (
	"context"
	"testing"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/delay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDelay_SuspendsForDuration(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	out, err := delay.New().Execute(context.Background(), nodes.Input{
		Config: map[string]any{"duration": "15m"},
		Now:    fixedClock(now),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Suspend)
	assert.Equal(t, now.Add(15*time.Minute), out.Suspend.ResumeAt)
}

func TestDelay_MillisecondsAndUntil(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	out, err := delay.New().Execute(context.Background(), nodes.Input{
		Config: map[string]any{"duration": float64(1500)},
		Now:    fixedClock(now),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Suspend)
	assert.Equal(t, now.Add(1500*time.Millisecond), out.Suspend.ResumeAt)

	out, err = delay.New().Execute(context.Background(), nodes.Input{
		Config: map[string]any{"until": "2025-03-02T08:00:00Z"},
		Now:    fixedClock(now),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Suspend)
	assert.Equal(t, time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC), out.Suspend.ResumeAt)
}

func TestDelay_PastUntilDoesNotSuspend(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	out, err := delay.New().Execute(context.Background(), nodes.Input{
		Config: map[string]any{"until": "2025-02-01T00:00:00Z"},
		Now:    fixedClock(now),
	})
	require.NoError(t, err)
	assert.Nil(t, out.Suspend)
}

func TestDelay_Resumed(t *testing.T) {
	t.Parallel()

	resumed := time.Date(2025, 3, 1, 12, 15, 0, 0, time.UTC)

	out, err := delay.New().Execute(context.Background(), nodes.Input{
		Config:    map[string]any{"duration": "15m"},
		ResumedAt: &resumed,
	})
	require.NoError(t, err)
	assert.Nil(t, out.Suspend)
	assert.Equal(t, "2025-03-01T12:15:00Z", out.Data["resumedAt"])
}

func TestDelay_Validate(t *testing.T) {
	t.Parallel()

	node := delay.New()

	assert.NoError(t, node.Validate(map[string]any{"duration": "1h"}))
	assert.NoError(t, node.Validate(map[string]any{"duration": "{{variables.wait}}"}))
	assert.NoError(t, node.Validate(map[string]any{"until": "2030-01-01T00:00:00Z"}))
	assert.ErrorIs(t, node.Validate(map[string]any{}), nodes.ErrInvalidConfig)
	assert.ErrorIs(t, node.Validate(map[string]any{"duration": "1000h"}), nodes.ErrInvalidConfig)
	assert.ErrorIs(t, node.Validate(map[string]any{"until": "tomorrow"}), nodes.ErrInvalidConfig)
}
