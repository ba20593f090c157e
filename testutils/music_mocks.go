package testutils

import (
	"context"
	"sync"

	"chord-discord-bot/music/types"
)

// MockVoiceHandle is a fake voice connection that swallows opus frames.
type MockVoiceHandle struct {
	Guild   string
	Channel string

	mu               sync.Mutex
	ready            bool
	disconnected     bool
	speaking         bool
	SpeakingError    error
	DisconnectError  error
	frames           chan []byte
	DisconnectCalled bool
}

// NewMockVoiceHandle creates a ready mock voice connection with a frame sink
// drained by an internal goroutine.
func NewMockVoiceHandle(guildID, channelID string) *MockVoiceHandle {
	h := &MockVoiceHandle{
		Guild:   guildID,
		Channel: channelID,
		ready:   true,
		frames:  make(chan []byte, 64),
	}
	go func() {
		for range h.frames {
		}
	}()
	return h
}

func (h *MockVoiceHandle) GuildID() string   { return h.Guild }
func (h *MockVoiceHandle) ChannelID() string { return h.Channel }

func (h *MockVoiceHandle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// SetReady flips the readiness flag, simulating a dropped socket.
func (h *MockVoiceHandle) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

func (h *MockVoiceHandle) Speaking(b bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.speaking = b
	return h.SpeakingError
}

func (h *MockVoiceHandle) OpusSend() chan<- []byte {
	return h.frames
}

func (h *MockVoiceHandle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.DisconnectCalled = true
	h.disconnected = true
	h.ready = false
	return h.DisconnectError
}

// Disconnected reports whether Disconnect was called.
func (h *MockVoiceHandle) Disconnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnected
}

// MockVoiceDialer hands out mock voice handles and records joins.
type MockVoiceDialer struct {
	mu        sync.Mutex
	JoinError error
	Handles   []*MockVoiceHandle
}

func (d *MockVoiceDialer) Join(guildID, channelID string) (types.VoiceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.JoinError != nil {
		return nil, d.JoinError
	}
	h := NewMockVoiceHandle(guildID, channelID)
	d.Handles = append(d.Handles, h)
	return h, nil
}

// JoinCount returns how many connections were handed out.
func (d *MockVoiceDialer) JoinCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Handles)
}

// LastHandle returns the most recently created handle, or nil.
func (d *MockVoiceDialer) LastHandle() *MockVoiceHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Handles) == 0 {
		return nil
	}
	return d.Handles[len(d.Handles)-1]
}

// MockSettingsStore is an in-memory settings store with recorded stats.
type MockSettingsStore struct {
	mu           sync.Mutex
	SettingsByID map[string]*types.GuildSettings
	Stats        map[string]*types.GuildStats
	GetError     error
}

// NewMockSettingsStore creates a store that answers with stock defaults.
func NewMockSettingsStore() *MockSettingsStore {
	return &MockSettingsStore{
		SettingsByID: make(map[string]*types.GuildSettings),
		Stats:        make(map[string]*types.GuildStats),
	}
}

func (m *MockSettingsStore) GetGuildSettings(guildID string) (*types.GuildSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetError != nil {
		return nil, m.GetError
	}
	if s, ok := m.SettingsByID[guildID]; ok {
		copied := *s
		return &copied, nil
	}
	s := &types.GuildSettings{
		GuildID:             guildID,
		DefaultVolume:       100,
		AutoDisconnect:      true,
		AutoDisconnectDelay: 30,
		LeaveIfNoListeners:  true,
		QueuePageSize:       10,
		TurnDownTarget:      20,
	}
	m.SettingsByID[guildID] = s
	copied := *s
	return &copied, nil
}

// SetSettings overrides the settings returned for a guild.
func (m *MockSettingsStore) SetSettings(s *types.GuildSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SettingsByID[s.GuildID] = s
}

func (m *MockSettingsStore) AddGuildPlayback(guildID string, tracks, seconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.Stats[guildID]
	if !ok {
		stats = &types.GuildStats{GuildID: guildID}
		m.Stats[guildID] = stats
	}
	stats.TracksPlayed += tracks
	stats.PlaySeconds += seconds
	return nil
}

func (m *MockSettingsStore) GetGuildStats(guildID string) (*types.GuildStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stats, ok := m.Stats[guildID]; ok {
		copied := *stats
		return &copied, nil
	}
	return &types.GuildStats{GuildID: guildID}, nil
}

// MockResolver answers queries from a canned map.
type MockResolver struct {
	Results map[string]*types.ResolveResult
	Err     error
	Calls   []string
}

func (r *MockResolver) Resolve(ctx context.Context, query string, opts types.ResolveOptions) (*types.ResolveResult, error) {
	r.Calls = append(r.Calls, query)
	if r.Err != nil {
		return nil, r.Err
	}
	if result, ok := r.Results[query]; ok {
		return result, nil
	}
	return nil, types.NewError(types.KindNotFound, "no songs found")
}

var (
	_ types.VoiceDialer   = (*MockVoiceDialer)(nil)
	_ types.VoiceHandle   = (*MockVoiceHandle)(nil)
	_ types.SettingsStore = (*MockSettingsStore)(nil)
	_ types.Resolver      = (*MockResolver)(nil)
)
