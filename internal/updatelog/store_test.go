package updatelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts Options) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "logs")
	return NewStore(dir, opts), dir
}

func pluginEvent(i int) Event {
	return Event{
		OccurredAt:  time.Date(2025, 3, 1, 10, i, 0, 0, time.UTC),
		Kind:        KindPlugin,
		Name:        fmt.Sprintf("plugin-%d/plugin-%d.php", i, i),
		DisplayName: fmt.Sprintf("Plugin %d", i),
		VersionFrom: "1.0",
		VersionTo:   "1.1",
		URL:         fmt.Sprintf("https://example.org/plugins/plugin-%d/", i),
	}
}

func TestAppendAccumulatesInOrder(t *testing.T) {
	s, _ := newTestStore(t, Options{})

	var want []Event
	for i := 0; i < 5; i++ {
		ev := pluginEvent(i)
		want = append(want, ev)
		require.NoError(t, s.Append(ev))
	}

	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEmptyStateReadDoesNotCreate(t *testing.T) {
	s, dir := newTestStore(t, Options{})

	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, s.Exists())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "logs directory must not be created by a read")
}

func TestAppendToleratesExistingDirectory(t *testing.T) {
	s, dir := newTestStore(t, Options{})
	require.NoError(t, os.MkdirAll(dir, 0755))

	require.NoError(t, s.Append(pluginEvent(1)))
	assert.True(t, s.Exists())
}

func TestRoundTripKeepsEmptyStrings(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ev := Event{
		OccurredAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Kind:        KindTheme,
		Name:        "twentytwentyfive",
		DisplayName: "Twenty Twenty-Five",
	}
	require.NoError(t, s.Append(ev))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version_from": ""`)
	assert.Contains(t, string(raw), `"version_to": ""`)
	assert.Contains(t, string(raw), `"url": ""`)
	assert.NotContains(t, string(raw), "null")

	// A fresh store over the same directory reloads from disk.
	reloaded := NewStore(filepath.Dir(s.Path()), Options{})
	got, err := reloaded.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, ev.OccurredAt.Equal(got[0].OccurredAt))
	got[0].OccurredAt = ev.OccurredAt
	assert.Equal(t, ev, got[0])
}

func TestDocumentFormat(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	require.NoError(t, s.Append(pluginEvent(1)))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	text := string(raw)

	assert.Contains(t, text, "{\n    \"updated\": [\n")
	assert.Contains(t, text, "https://example.org/plugins/plugin-1/", "slashes must not be escaped")
	assert.Equal(t, byte('\n'), raw[len(raw)-1])
}

func TestClearRemovesFileAndDirectory(t *testing.T) {
	s, dir := newTestStore(t, Options{})
	require.NoError(t, s.Append(pluginEvent(1)))

	require.NoError(t, s.Clear())
	assert.False(t, s.Exists())
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// Nothing left to remove.
	require.NoError(t, s.Clear())

	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDiscardKeepsLaterRecords(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Append(pluginEvent(i)))
	}
	reported, err := s.ReadAll()
	require.NoError(t, err)
	require.NoError(t, s.Append(pluginEvent(2)))

	require.NoError(t, s.Discard(reported))
	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []Event{pluginEvent(2)}, got)

	require.NoError(t, s.Discard(got))
	assert.False(t, s.Exists())
}

func TestDiscardAfterBoundDroppedReportedRecords(t *testing.T) {
	s, _ := newTestStore(t, Options{MaxEntries: 3})
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(pluginEvent(i)))
	}
	reported, err := s.ReadAll()
	require.NoError(t, err)

	// Two more arrive while the report is out; the bound drops 0 and 1.
	require.NoError(t, s.Append(pluginEvent(3)))
	require.NoError(t, s.Append(pluginEvent(4)))

	require.NoError(t, s.Discard(reported))
	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []Event{pluginEvent(3), pluginEvent(4)}, got)
}

func TestDiscardUnrelatedSnapshotKeepsLog(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	require.NoError(t, s.Append(pluginEvent(5)))

	require.NoError(t, s.Discard([]Event{pluginEvent(1)}))
	require.NoError(t, s.Discard(nil))
	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []Event{pluginEvent(5)}, got)
}

func TestEventEqualIgnoresLocation(t *testing.T) {
	a := pluginEvent(1)
	b := a
	b.OccurredAt = a.OccurredAt.In(time.FixedZone("CEST", 2*60*60))
	assert.True(t, a.Equal(b))

	b.VersionTo = "9.9"
	assert.False(t, a.Equal(b))
}

func TestCorruptDocument(t *testing.T) {
	s, dir := newTestStore(t, Options{})
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0644))
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	_, err := s.ReadAll()
	require.ErrorIs(t, err, ErrCorrupt)
	assert.True(t, s.Exists(), "a read must not touch a corrupt document")

	require.NoError(t, s.Append(pluginEvent(7)))
	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []Event{pluginEvent(7)}, got)

	_, err = os.Stat(s.Path() + ".corrupt-1700000000")
	assert.NoError(t, err, "corrupt document should be kept aside")
}

func TestMissingUpdatedListIsCorrupt(t *testing.T) {
	s, dir := newTestStore(t, Options{})
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"other": 1}`), 0644))

	_, err := s.ReadAll()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestMaxEntriesDropsOldest(t *testing.T) {
	s, _ := newTestStore(t, Options{MaxEntries: 2})
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Append(pluginEvent(i)))
	}

	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []Event{pluginEvent(2), pluginEvent(3)}, got)
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	s, _ := newTestStore(t, Options{})

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Append(pluginEvent(i)))
		}(i)
	}
	wg.Wait()

	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Len(t, got, n)
}

func TestKindRecordable(t *testing.T) {
	assert.True(t, KindCore.Recordable())
	assert.True(t, KindPlugin.Recordable())
	assert.True(t, KindTheme.Recordable())
	assert.False(t, KindTranslation.Recordable())
	assert.False(t, Kind("").Recordable())
}
