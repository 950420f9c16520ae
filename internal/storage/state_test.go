package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestState(t *testing.T) *StateStore {
	t.Helper()
	s, err := OpenInMemoryStateStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNextRun(t *testing.T) {
	s := openTestState(t)

	_, err := s.NextRun("weekly")
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetNextRun("weekly", at))

	got, err := s.NextRun("weekly")
	require.NoError(t, err)
	assert.True(t, at.Equal(got))
}

func TestEnsureNextRunIsIdempotent(t *testing.T) {
	s := openTestState(t)
	first := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

	got, created, err := s.EnsureNextRun("weekly", first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.Equal(got))

	got, created, err = s.EnsureNextRun("weekly", first.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, first.Equal(got), "an existing schedule must not be replaced")
}

func TestLastRun(t *testing.T) {
	s := openTestState(t)

	_, err := s.LastRun("weekly")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := RunRecord{
		StartedAt: time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC),
		Duration:  2 * time.Second,
		Outcome:   "sent",
	}
	require.NoError(t, s.SetLastRun("weekly", rec))

	got, err := s.LastRun("weekly")
	require.NoError(t, err)
	assert.True(t, rec.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, rec.Outcome, got.Outcome)
	assert.Equal(t, rec.Duration, got.Duration)
}

func TestCloseStopsGC(t *testing.T) {
	s, err := OpenStateStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.SetNextRun("weekly", time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)))

	require.NoError(t, s.Close())

	select {
	case <-s.done:
	default:
		t.Fatal("garbage collection still running after Close")
	}
}
