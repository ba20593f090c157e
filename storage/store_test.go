package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetGuildSettingsCreatesDefaults(t *testing.T) {
	store := openTestStore(t)

	settings, err := store.GetGuildSettings("guild-1")
	require.NoError(t, err)

	assert.Equal(t, "guild-1", settings.GuildID)
	assert.Equal(t, 100, settings.DefaultVolume)
	assert.True(t, settings.AutoDisconnect)
	assert.Equal(t, 30, settings.AutoDisconnectDelay)
	assert.True(t, settings.LeaveIfNoListeners)
	assert.Equal(t, 10, settings.QueuePageSize)
	assert.False(t, settings.QueueAddResponseEphemeral)
	assert.False(t, settings.TurnDownWhenPeopleSpeak)
	assert.Equal(t, 20, settings.TurnDownTarget)

	// second read returns the same row, not a fresh insert
	again, err := store.GetGuildSettings("guild-1")
	require.NoError(t, err)
	assert.Equal(t, settings, again)
}

func TestGuildStats(t *testing.T) {
	store := openTestStore(t)

	stats, err := store.GetGuildStats("guild-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TracksPlayed)
	assert.Equal(t, 0, stats.PlaySeconds)

	require.NoError(t, store.AddGuildPlayback("guild-1", 1, 200))
	require.NoError(t, store.AddGuildPlayback("guild-1", 1, 100))

	stats, err = store.GetGuildStats("guild-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TracksPlayed)
	assert.Equal(t, 300, stats.PlaySeconds)
}

func TestCacheEntryLifecycle(t *testing.T) {
	store := openTestStore(t)

	entry, err := store.GetCacheEntry("fp-1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, store.UpsertCacheEntry("fp-1", 1024))

	entry, err = store.GetCacheEntry("fp-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(1024), entry.Bytes)
	assert.Equal(t, 1, entry.AccessCount)

	require.NoError(t, store.TouchCacheEntry("fp-1"))
	entry, err = store.GetCacheEntry("fp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.AccessCount)

	total, err := store.TotalCacheBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1024), total)

	count, err := store.CountCacheEntries()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.RemoveCacheEntry("fp-1"))
	entry, err = store.GetCacheEntry("fp-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestListCacheEntriesLRUOrder(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.UpsertCacheEntry("old", 10))
	require.NoError(t, store.UpsertCacheEntry("mid", 20))
	require.NoError(t, store.UpsertCacheEntry("new", 30))

	// touching an entry moves it to the back of the eviction order
	require.NoError(t, store.TouchCacheEntry("old"))

	entries, err := store.ListCacheEntriesLRU()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "old", entries[len(entries)-1].Fingerprint)

	total, err := store.TotalCacheBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(60), total)
}
