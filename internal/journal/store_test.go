package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/plotline/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), WithoutSync())
}

func change(from, to domain.JobState, i int) StateChange {
	return StateChange{
		From:      from,
		To:        to,
		Timestamp: t0.Add(time.Duration(i) * time.Second),
		Reason:    fmt.Sprintf("step %d", i),
	}
}

func TestStore_AppendAndReadAll(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("job-1", change(domain.StateNew, domain.StateReady, 1)))
	require.NoError(t, s.Append("job-1", change(domain.StateReady, domain.StatePlotting, 2)))
	require.NoError(t, s.Append("job-1", EmergencyShutdown{State: domain.StatePlotting, Timestamp: t0, Reason: "signal_received"}))

	events, err := s.ReadAll("job-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, TypeStateChange, events[0].Type())
	assert.Equal(t, domain.StatePlotting, events[1].(StateChange).To)
	assert.Equal(t, TypeEmergencyShutdown, events[2].Type())

	assert.FileExists(t, filepath.Join(s.Root(), "job-1", FileName))
}

func TestStore_ReadAllNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadAll("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReadAllFailsClosedOnCorruptLine(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append("job-1", change(domain.StateNew, domain.StateQueued, 1)))

	f, err := os.OpenFile(s.Path("job-1"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"type\":\"state_ch\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, s.Append("job-1", change(domain.StateQueued, domain.StateAnalyzed, 2)))

	events, err := s.ReadAll("job-1")
	assert.Nil(t, events)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJournalCorrupt)

	var ce *CorruptionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "job-1", ce.JobID)
	assert.Equal(t, 2, ce.Line)
}

func TestStore_BlankLinesIgnored(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append("job-1", change(domain.StateNew, domain.StateQueued, 1)))

	f, err := os.OpenFile(s.Path("job-1"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n   \n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := s.ReadAll("job-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStore_RejectsBadJobIDs(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", ".", "..", "a/b", `a\b`} {
		err := s.Append(id, change(domain.StateNew, domain.StateQueued, 1))
		assert.ErrorIs(t, err, ErrInvalidJobID, id)
	}
}

func TestStore_ConcurrentAppendsStayLineAligned(t *testing.T) {
	s := newTestStore(t)
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Append("job-1", change(domain.StateNew, domain.StateQueued, i)))
		}(i)
	}
	wg.Wait()

	events, err := s.ReadAll("job-1")
	require.NoError(t, err)
	assert.Len(t, events, n)
}

func TestStore_CleanupKeepsTailInOrder(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append("job-1", change(domain.StatePlotting, domain.StatePaused, i)))
	}

	removed, err := s.Cleanup("job-1", 4)
	require.NoError(t, err)
	assert.Equal(t, 6, removed)

	events, err := s.ReadAll("job-1")
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("step %d", 6+i), ev.(StateChange).Reason)
	}

	leftovers, err := filepath.Glob(filepath.Join(s.Root(), "job-1", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestStore_CleanupNoopAtOrBelowKeep(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append("job-1", change(domain.StateNew, domain.StateQueued, i)))
	}
	before, err := os.ReadFile(s.Path("job-1"))
	require.NoError(t, err)

	removed, err := s.Cleanup("job-1", 3)
	require.NoError(t, err)
	assert.Zero(t, removed)

	after, err := os.ReadFile(s.Path("job-1"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_CleanupValidatesKeep(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Cleanup("job-1", 0)
	assert.Error(t, err)

	_, err = s.Cleanup("missing", 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CountAndExists(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.Exists("job-1"))

	require.NoError(t, s.Append("job-1", change(domain.StateNew, domain.StateQueued, 1)))
	require.NoError(t, s.Append("job-1", change(domain.StateQueued, domain.StateAnalyzed, 2)))

	assert.True(t, s.Exists("job-1"))
	n, err := s.Count("job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_JobIDsSortedAndFiltered(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.Append(id, change(domain.StateNew, domain.StateQueued, 1)))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "empty-dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "stray.txt"), []byte("x"), 0o644))

	ids, err := s.JobIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ids)
}

func TestStore_JobIDsMissingRoot(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"))
	ids, err := s.JobIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}
