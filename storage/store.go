package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chord-discord-bot/music/types"
)

// Store is the sqlite-backed persistence layer: per-guild settings, playback
// stats and cache entry metadata. All writes are serialized by the single
// connection; readers on the player hot path only ever issue point lookups.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS guild_settings (
	guild_id                     TEXT PRIMARY KEY,
	default_volume               INTEGER NOT NULL DEFAULT 100,
	auto_disconnect              INTEGER NOT NULL DEFAULT 1,
	auto_disconnect_delay        INTEGER NOT NULL DEFAULT 30,
	leave_if_no_listeners        INTEGER NOT NULL DEFAULT 1,
	queue_page_size              INTEGER NOT NULL DEFAULT 10,
	queue_add_response_ephemeral INTEGER NOT NULL DEFAULT 0,
	turn_down_when_people_speak  INTEGER NOT NULL DEFAULT 0,
	turn_down_target             INTEGER NOT NULL DEFAULT 20,
	created_at                   TIMESTAMP NOT NULL,
	updated_at                   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS guild_stats (
	guild_id      TEXT PRIMARY KEY,
	tracks_played INTEGER NOT NULL DEFAULT 0,
	play_seconds  INTEGER NOT NULL DEFAULT 0,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint  TEXT PRIMARY KEY,
	bytes        INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 1,
	created_at   TIMESTAMP NOT NULL,
	accessed_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_accessed
	ON cache_entries (accessed_at, access_count);
`

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent guild activity.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetGuildSettings returns the settings row for a guild, creating it with
// defaults on first reference.
func (s *Store) GetGuildSettings(guildID string) (*types.GuildSettings, error) {
	settings, err := s.readGuildSettings(guildID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read guild settings: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO guild_settings (guild_id, created_at, updated_at) VALUES (?, ?, ?)`,
		guildID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create guild settings: %w", err)
	}

	return s.readGuildSettings(guildID)
}

func (s *Store) readGuildSettings(guildID string) (*types.GuildSettings, error) {
	row := s.db.QueryRow(
		`SELECT guild_id, default_volume, auto_disconnect, auto_disconnect_delay,
		        leave_if_no_listeners, queue_page_size, queue_add_response_ephemeral,
		        turn_down_when_people_speak, turn_down_target
		 FROM guild_settings WHERE guild_id = ?`, guildID,
	)

	var gs types.GuildSettings
	var autoDisconnect, leaveIfNoListeners, addEphemeral, turnDown int
	err := row.Scan(
		&gs.GuildID, &gs.DefaultVolume, &autoDisconnect, &gs.AutoDisconnectDelay,
		&leaveIfNoListeners, &gs.QueuePageSize, &addEphemeral,
		&turnDown, &gs.TurnDownTarget,
	)
	if err != nil {
		return nil, err
	}

	gs.AutoDisconnect = autoDisconnect != 0
	gs.LeaveIfNoListeners = leaveIfNoListeners != 0
	gs.QueueAddResponseEphemeral = addEphemeral != 0
	gs.TurnDownWhenPeopleSpeak = turnDown != 0
	return &gs, nil
}

// AddGuildPlayback increments the playback counters for a guild.
func (s *Store) AddGuildPlayback(guildID string, tracks, seconds int) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO guild_stats (guild_id, tracks_played, play_seconds, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (guild_id) DO UPDATE SET
		   tracks_played = tracks_played + excluded.tracks_played,
		   play_seconds  = play_seconds + excluded.play_seconds,
		   updated_at    = excluded.updated_at`,
		guildID, tracks, seconds, now,
	)
	if err != nil {
		return fmt.Errorf("update guild stats: %w", err)
	}
	return nil
}

// GetGuildStats returns cumulative playback counters, zero-valued when absent.
func (s *Store) GetGuildStats(guildID string) (*types.GuildStats, error) {
	row := s.db.QueryRow(
		`SELECT tracks_played, play_seconds FROM guild_stats WHERE guild_id = ?`, guildID,
	)

	stats := &types.GuildStats{GuildID: guildID}
	err := row.Scan(&stats.TracksPlayed, &stats.PlaySeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read guild stats: %w", err)
	}
	return stats, nil
}

// UpsertCacheEntry records a committed cache file and its size.
func (s *Store) UpsertCacheEntry(fingerprint string, bytes int64) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO cache_entries (fingerprint, bytes, access_count, created_at, accessed_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   bytes = excluded.bytes, accessed_at = excluded.accessed_at`,
		fingerprint, bytes, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// GetCacheEntry returns the metadata for a fingerprint, or nil when untracked.
func (s *Store) GetCacheEntry(fingerprint string) (*types.CacheEntry, error) {
	row := s.db.QueryRow(
		`SELECT fingerprint, bytes, access_count, created_at, accessed_at
		 FROM cache_entries WHERE fingerprint = ?`, fingerprint,
	)

	var e types.CacheEntry
	err := row.Scan(&e.Fingerprint, &e.Bytes, &e.AccessCount, &e.CreatedAt, &e.AccessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	return &e, nil
}

// TouchCacheEntry bumps the access bookkeeping for a lookup hit.
func (s *Store) TouchCacheEntry(fingerprint string) error {
	_, err := s.db.Exec(
		`UPDATE cache_entries SET access_count = access_count + 1, accessed_at = ?
		 WHERE fingerprint = ?`,
		time.Now().UTC(), fingerprint,
	)
	if err != nil {
		return fmt.Errorf("touch cache entry: %w", err)
	}
	return nil
}

// RemoveCacheEntry drops the metadata row for a fingerprint.
func (s *Store) RemoveCacheEntry(fingerprint string) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// ListCacheEntriesLRU returns every cache entry, least recently accessed
// first, ties broken by lowest access count.
func (s *Store) ListCacheEntriesLRU() ([]types.CacheEntry, error) {
	rows, err := s.db.Query(
		`SELECT fingerprint, bytes, access_count, created_at, accessed_at
		 FROM cache_entries ORDER BY accessed_at ASC, access_count ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []types.CacheEntry
	for rows.Next() {
		var e types.CacheEntry
		if err := rows.Scan(&e.Fingerprint, &e.Bytes, &e.AccessCount, &e.CreatedAt, &e.AccessedAt); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListRecentCacheEntries returns up to limit entries, most recently used first.
func (s *Store) ListRecentCacheEntries(limit int) ([]types.CacheEntry, error) {
	rows, err := s.db.Query(
		`SELECT fingerprint, bytes, access_count, created_at, accessed_at
		 FROM cache_entries ORDER BY accessed_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent cache entries: %w", err)
	}
	defer rows.Close()

	var entries []types.CacheEntry
	for rows.Next() {
		var e types.CacheEntry
		if err := rows.Scan(&e.Fingerprint, &e.Bytes, &e.AccessCount, &e.CreatedAt, &e.AccessedAt); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TotalCacheBytes sums the committed sizes of every tracked cache file.
func (s *Store) TotalCacheBytes() (int64, error) {
	row := s.db.QueryRow(`SELECT COALESCE(SUM(bytes), 0) FROM cache_entries`)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum cache bytes: %w", err)
	}
	return total, nil
}

// CountCacheEntries returns the number of tracked cache files.
func (s *Store) CountCacheEntries() (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return count, nil
}

var _ types.SettingsStore = (*Store)(nil)
