package manager

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chord-discord-bot/music/cache"
	"chord-discord-bot/music/player"
	"chord-discord-bot/music/types"
	"chord-discord-bot/utils"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultIdleAfter     = 10 * time.Minute
)

// Registry is the process-wide mapping from guild id to its player. Players
// are created lazily on first use, evicted by a background sweep after
// sitting idle, and torn down concurrently at shutdown.
type Registry struct {
	dialer   types.VoiceDialer
	settings types.SettingsStore
	cache    *cache.FileCache

	mu      sync.RWMutex
	players map[string]*player.Player

	sweepInterval time.Duration
	idleAfter     time.Duration
	quit          chan struct{}
	closeOnce     sync.Once
}

// NewRegistry creates a registry and starts its cleanup sweep.
func NewRegistry(dialer types.VoiceDialer, settings types.SettingsStore, fileCache *cache.FileCache) *Registry {
	r := &Registry{
		dialer:        dialer,
		settings:      settings,
		cache:         fileCache,
		players:       make(map[string]*player.Player),
		sweepInterval: defaultSweepInterval,
		idleAfter:     defaultIdleAfter,
		quit:          make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Get returns the player for a guild, creating it on first reference.
func (r *Registry) Get(guildID string) *player.Player {
	r.mu.RLock()
	p, ok := r.players[guildID]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.players[guildID]; ok {
		return p
	}

	p = player.New(guildID, player.Deps{
		Dialer:   r.dialer,
		Settings: r.settings,
		Cache:    r.cache,
	})
	r.players[guildID] = p
	utils.LogInfo("Created player for guild %s", guildID)
	return p
}

// GetIfExists returns the player for a guild without creating one.
func (r *Registry) GetIfExists(guildID string) (*player.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[guildID]
	return p, ok
}

// Remove tears down a guild's player and drops it from the registry.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	p, ok := r.players[guildID]
	delete(r.players, guildID)
	r.mu.Unlock()

	if ok {
		p.Cleanup()
		utils.LogInfo("Removed player for guild %s", guildID)
	}
}

// Size returns the number of live players.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// sweep periodically evicts players that have been idle too long.
func (r *Registry) sweep() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.quit:
			return
		}
	}
}

func (r *Registry) evictIdle() {
	cutoff := time.Now().Add(-r.idleAfter)

	r.mu.RLock()
	var stale []string
	for guildID, p := range r.players {
		if p.Status() == types.StatusIdle && p.LastActivity().Before(cutoff) {
			stale = append(stale, guildID)
		}
	}
	r.mu.RUnlock()

	for _, guildID := range stale {
		utils.LogInfo("Evicting idle player for guild %s", guildID)
		r.Remove(guildID)
	}
}

// Shutdown stops the sweep and cleans up every player concurrently.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.closeOnce.Do(func() {
		close(r.quit)
	})

	r.mu.Lock()
	players := make([]*player.Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	r.players = make(map[string]*player.Player)
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, p := range players {
		g.Go(func() error {
			p.Cleanup()
			return nil
		})
	}
	return g.Wait()
}
