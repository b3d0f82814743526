package pollrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosom/exposure-monitor/runner"
	"github.com/gosom/exposure-monitor/sqlite"
)

func newTestRunner(t *testing.T, now time.Time) *pollRunner {
	t.Helper()

	r, err := New(&runner.Config{
		RunMode:      runner.RunModeSchedule,
		DataFolder:   t.TempDir(),
		Schedule:     []string{"09:00", "15:00"},
		TimeZone:     "UTC",
		PollInterval: time.Minute,
	})
	require.NoError(t, err)

	p := r.(*pollRunner)

	t.Cleanup(func() { _ = p.Close(context.Background()) })

	p.now = func() time.Time { return now }
	p.started = now

	return p
}

func TestNewRejectsOtherModes(t *testing.T) {
	_, err := New(&runner.Config{RunMode: runner.RunModeBatch})
	assert.ErrorIs(t, err, runner.ErrInvalidRunMode)
}

func TestMarkDueSkipsSlotsBeforeStart(t *testing.T) {
	start := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	p := newTestRunner(t, start)
	ctx := context.Background()

	require.NoError(t, p.markDue(ctx))

	slots, err := p.state.Unfinished(ctx)
	require.NoError(t, err)
	assert.Empty(t, slots)

	p.now = func() time.Time { return start.Add(5*time.Hour + time.Second) }

	require.NoError(t, p.markDue(ctx))
	require.NoError(t, p.markDue(ctx))

	slots, err = p.state.Unfinished(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "2026-10-19T15:00", slots[0].Key)
}

func TestRunPending(t *testing.T) {
	now := time.Date(2026, 10, 19, 15, 0, 30, 0, time.UTC)
	p := newTestRunner(t, now)
	ctx := context.Background()

	_, err := p.state.MarkPending(ctx, "2026-10-19T09:00", now.Add(-6*time.Hour))
	require.NoError(t, err)
	_, err = p.state.MarkPending(ctx, "2026-10-19T15:00", now)
	require.NoError(t, err)

	calls := 0
	p.runBatch = func(context.Context) (string, error) {
		calls++

		return "b1", nil
	}

	require.NoError(t, p.runPending(ctx))
	assert.Equal(t, 1, calls)

	for _, key := range []string{"2026-10-19T09:00", "2026-10-19T15:00"} {
		s, err := p.state.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, sqlite.SlotDone, s.Status)
		assert.Equal(t, "b1", s.BatchID)
	}

	require.NoError(t, p.runPending(ctx))
	assert.Equal(t, 1, calls)
}

func TestRunPendingFailure(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 30, 0, time.UTC)
	p := newTestRunner(t, now)
	ctx := context.Background()

	_, err := p.state.MarkPending(ctx, "2026-10-19T09:00", now)
	require.NoError(t, err)

	p.runBatch = func(context.Context) (string, error) {
		return "b2", errors.New("crawl failed")
	}

	require.NoError(t, p.runPending(ctx))

	s, err := p.state.Get(ctx, "2026-10-19T09:00")
	require.NoError(t, err)
	assert.Equal(t, sqlite.SlotFailed, s.Status)
}

func TestRunPendingInterruptedStaysRunning(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 30, 0, time.UTC)
	p := newTestRunner(t, now)

	_, err := p.state.MarkPending(context.Background(), "2026-10-19T09:00", now)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	p.runBatch = func(context.Context) (string, error) {
		cancel()

		return "", context.Canceled
	}

	assert.ErrorIs(t, p.runPending(ctx), context.Canceled)

	s, err := p.state.Get(context.Background(), "2026-10-19T09:00")
	require.NoError(t, err)
	assert.Equal(t, sqlite.SlotRunning, s.Status)

	// a restart picks the running slot up again
	p.runBatch = func(context.Context) (string, error) { return "b3", nil }

	require.NoError(t, p.runPending(context.Background()))

	s, err = p.state.Get(context.Background(), "2026-10-19T09:00")
	require.NoError(t, err)
	assert.Equal(t, sqlite.SlotDone, s.Status)
}
