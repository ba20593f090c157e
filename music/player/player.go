package player

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chord-discord-bot/music/cache"
	"chord-discord-bot/music/pipeline"
	"chord-discord-bot/music/queue"
	"chord-discord-bot/music/types"
	"chord-discord-bot/utils"
)

// CacheMaxTrackSeconds bounds which tracks get a background cache fill.
const CacheMaxTrackSeconds = 30 * 60

const defaultVolume = 100

// pipelineHandle is the slice of the audio pipeline the player drives.
type pipelineHandle interface {
	Start() error
	Stop()
	SetVolume(float64)
}

// pipelineOpener constructs a pipeline. Swapped out in tests.
type pipelineOpener func(sink pipeline.FrameSink, opts pipeline.Options, onComplete func(error)) pipelineHandle

func defaultOpener(sink pipeline.FrameSink, opts pipeline.Options, onComplete func(error)) pipelineHandle {
	return pipeline.New(sink, opts, onComplete)
}

// Deps are the collaborators a player needs.
type Deps struct {
	Dialer   types.VoiceDialer
	Settings types.SettingsStore
	Cache    *cache.FileCache
}

type completion struct {
	generation uint64
	err        error
}

// Player is the per-guild playback state machine. Every state transition is
// serialized through the player's own mailbox goroutine: commands arriving
// concurrently for the same guild are totally ordered, and the pipeline
// completion event is handled on the same goroutine as commands, never
// concurrently with them.
type Player struct {
	guildID string
	deps    Deps

	cmds        chan func()
	completions chan completion
	quit        chan struct{}
	closeOnce   sync.Once

	// Mirrors for lock-free reads from the registry sweeper.
	statusMirror atomic.Int32
	lastActivity atomic.Int64

	// Everything below is owned by the mailbox goroutine.
	status          types.PlayerStatus
	conn            types.VoiceHandle
	channelID       string
	queue           *queue.Queue
	pipe            pipelineHandle
	generation      uint64
	volume          int
	loopTrack       bool
	loopQueue       bool
	seekOffset      int
	startedAt       time.Time
	pausedPos       int
	disconnectTimer *time.Timer
	settings        *types.GuildSettings
	normalVolume    int // restored when volume ducking ends

	newPipeline pipelineOpener
}

// New creates a player for a guild and starts its mailbox goroutine.
func New(guildID string, deps Deps) *Player {
	p := &Player{
		guildID:     guildID,
		deps:        deps,
		cmds:        make(chan func()),
		completions: make(chan completion, 4),
		quit:        make(chan struct{}),
		queue:       queue.New(),
		status:      types.StatusIdle,
		volume:      defaultVolume,
		newPipeline: defaultOpener,
	}
	p.touch()
	go p.run()
	return p
}

func (p *Player) run() {
	for {
		select {
		case fn := <-p.cmds:
			fn()
		case c := <-p.completions:
			p.handleCompletion(c)
		case <-p.quit:
			return
		}
	}
}

// do runs fn on the mailbox goroutine and waits for its result. A panic in
// fn is captured and converted to an internal error so one bad command never
// kills the player.
func (p *Player) do(ctx context.Context, fn func() error) error {
	p.touch()
	reply := make(chan error, 1)
	wrapped := func() {
		defer func() {
			if r := recover(); r != nil {
				utils.LogError("Panic in player %s: %v", p.guildID, r)
				reply <- types.NewError(types.KindInternal, fmt.Sprintf("internal player error: %v", r))
			}
		}()
		reply <- fn()
	}

	select {
	case p.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return types.NewError(types.KindInternal, "player is shut down")
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post schedules fn on the mailbox without waiting. Used by timers.
func (p *Player) post(fn func()) {
	go func() {
		select {
		case p.cmds <- fn:
		case <-p.quit:
		}
	}()
}

func (p *Player) touch() {
	p.lastActivity.Store(time.Now().UnixNano())
}

func (p *Player) setStatus(s types.PlayerStatus) {
	p.status = s
	p.statusMirror.Store(int32(s))
}

// GuildID returns the guild this player serves.
func (p *Player) GuildID() string {
	return p.guildID
}

// Status returns the current state without entering the mailbox.
func (p *Player) Status() types.PlayerStatus {
	return types.PlayerStatus(p.statusMirror.Load())
}

// LastActivity reports when the player last handled a command.
func (p *Player) LastActivity() time.Time {
	return time.Unix(0, p.lastActivity.Load())
}

// Connect acquires a voice connection to the given room and reads the guild
// settings through. Moving rooms tears down the old connection first.
func (p *Player) Connect(ctx context.Context, channelID string) error {
	return p.do(ctx, func() error {
		if p.conn != nil && p.conn.ChannelID() == channelID && p.conn.Ready() {
			return nil
		}

		settings, err := p.deps.Settings.GetGuildSettings(p.guildID)
		if err != nil {
			return types.WrapError(types.KindInternal, "failed to load guild settings", err)
		}
		p.settings = settings
		if p.volume == defaultVolume {
			p.volume = settings.DefaultVolume
		}
		p.normalVolume = p.volume

		if p.conn != nil {
			if err := p.conn.Disconnect(); err != nil {
				utils.LogWarn("Error leaving previous voice room in guild %s: %v", p.guildID, err)
			}
			p.conn = nil
		}

		conn, err := p.deps.Dialer.Join(p.guildID, channelID)
		if err != nil {
			return types.WrapError(types.KindVoiceTransport, "failed to join voice room", err)
		}
		p.conn = conn
		p.channelID = channelID
		return nil
	})
}

// AddTracks enqueues resolved tracks. With immediate set, single tracks are
// inserted right after the current one; playlist tracks always append.
func (p *Player) AddTracks(ctx context.Context, tracks []types.QueuedTrack, immediate bool) error {
	return p.do(ctx, func() error {
		for _, track := range tracks {
			p.queue.Enqueue(track, immediate)
		}
		return nil
	})
}

// Play starts playback of the current track, or resumes from the paused
// position when paused. It is an error when nothing is queued.
func (p *Player) Play(ctx context.Context) error {
	return p.do(ctx, func() error {
		if p.conn == nil {
			return types.NewError(types.KindPreconditionFailed, "not connected to a voice room")
		}
		current := p.queue.Current()
		if current == nil {
			return types.NewError(types.KindPreconditionFailed, "the queue is empty")
		}
		if p.status == types.StatusPlaying || p.status == types.StatusLoading {
			return nil
		}

		seek := 0
		if p.status == types.StatusPaused {
			seek = p.pausedPos
		}
		return p.startCurrent(seek)
	})
}

// Pause freezes playback, recording the position for a later resume.
func (p *Player) Pause(ctx context.Context) error {
	return p.do(ctx, func() error {
		if p.status != types.StatusPlaying {
			return types.NewError(types.KindPreconditionFailed, "nothing is playing")
		}
		p.pausedPos = p.positionNow()
		p.stopPipeline()
		p.setStatus(types.StatusPaused)
		return nil
	})
}

// Skip advances the queue by n. When the cursor passes the end the player
// goes idle and arms the auto-disconnect timer.
func (p *Player) Skip(ctx context.Context, n int) error {
	return p.do(ctx, func() error {
		if n < 1 {
			return types.NewError(types.KindInvalidArgument, "skip count must be at least 1")
		}
		// Skipping past the current track always drops the track loop.
		p.loopTrack = false
		p.queue.Advance(n)
		return p.playAdvanced()
	})
}

// Back moves to the previous track and replays it from the start.
func (p *Player) Back(ctx context.Context) error {
	return p.do(ctx, func() error {
		if err := p.queue.Back(); err != nil {
			return types.WrapError(types.KindInvalidArgument, "cannot go back", err)
		}
		return p.playAdvanced()
	})
}

// playAdvanced starts whatever the cursor now points at, or goes idle.
func (p *Player) playAdvanced() error {
	p.stopPipeline()
	if p.queue.Current() != nil {
		return p.startCurrent(0)
	}
	p.setStatus(types.StatusIdle)
	p.armAutoDisconnect()
	return nil
}

// SeekTo jumps to an absolute position in the current track. Seeking while
// paused updates the stored resume position without starting playback.
func (p *Player) SeekTo(ctx context.Context, position int) error {
	return p.do(ctx, func() error {
		return p.seekLocked(position)
	})
}

func (p *Player) seekLocked(position int) error {
	current := p.queue.Current()
	if current == nil {
		return types.NewError(types.KindPreconditionFailed, "nothing is playing")
	}
	if current.IsLive {
		return types.NewError(types.KindInvalidArgument, "cannot seek in a live stream")
	}
	if position < 0 || position > current.Length {
		return types.NewError(types.KindInvalidArgument,
			fmt.Sprintf("position must be between 0 and %s", utils.FormatDuration(current.Length)))
	}

	if p.status == types.StatusPaused {
		p.pausedPos = position
		return nil
	}

	p.stopPipeline()
	return p.startCurrent(position)
}

// SeekForward jumps ahead of the current position by delta seconds.
func (p *Player) SeekForward(ctx context.Context, delta int) error {
	return p.do(ctx, func() error {
		if delta < 1 {
			return types.NewError(types.KindInvalidArgument, "seek amount must be at least 1 second")
		}
		return p.seekLocked(p.positionNow() + delta)
	})
}

// Replay restarts the current track from the beginning.
func (p *Player) Replay(ctx context.Context) error {
	return p.do(ctx, func() error {
		return p.seekLocked(0)
	})
}

// Stop halts playback, drops the whole queue and releases the voice room.
func (p *Player) Stop(ctx context.Context) error {
	return p.do(ctx, func() error {
		p.stopPipeline()
		p.queue.Reset()
		p.releaseVoice()
		p.setStatus(types.StatusIdle)
		return nil
	})
}

// Disconnect releases the voice room but keeps the queue and position so a
// later play resumes where playback left off.
func (p *Player) Disconnect(ctx context.Context) error {
	return p.do(ctx, func() error {
		if p.status == types.StatusPlaying || p.status == types.StatusLoading {
			p.pausedPos = p.positionNow()
			p.stopPipeline()
			p.setStatus(types.StatusPaused)
		}
		p.releaseVoice()
		return nil
	})
}

// ToggleLoopTrack flips the current-track loop. Enabling it clears the queue
// loop: the two modes are mutually exclusive.
func (p *Player) ToggleLoopTrack(ctx context.Context) (bool, error) {
	var enabled bool
	err := p.do(ctx, func() error {
		if p.queue.Current() == nil {
			return types.NewError(types.KindPreconditionFailed, "nothing is playing")
		}
		p.loopTrack = !p.loopTrack
		if p.loopTrack {
			p.loopQueue = false
		}
		enabled = p.loopTrack
		return nil
	})
	return enabled, err
}

// ToggleLoopQueue flips the whole-queue loop, clearing the track loop.
func (p *Player) ToggleLoopQueue(ctx context.Context) (bool, error) {
	var enabled bool
	err := p.do(ctx, func() error {
		if p.queue.Current() == nil {
			return types.NewError(types.KindPreconditionFailed, "nothing is playing")
		}
		p.loopQueue = !p.loopQueue
		if p.loopQueue {
			p.loopTrack = false
		}
		enabled = p.loopQueue
		return nil
	})
	return enabled, err
}

// SetVolume clamps and stores the volume, applying it to a live pipeline
// without restarting it.
func (p *Player) SetVolume(ctx context.Context, level int) error {
	return p.do(ctx, func() error {
		p.applyVolume(level)
		p.normalVolume = p.volume
		return nil
	})
}

func (p *Player) applyVolume(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	p.volume = level
	if p.pipe != nil {
		p.pipe.SetVolume(float64(level) / 100)
	}
}

// Volume returns the stored volume level.
func (p *Player) Volume(ctx context.Context) (int, error) {
	var v int
	err := p.do(ctx, func() error {
		v = p.volume
		return nil
	})
	return v, err
}

// DuckVolume temporarily lowers the volume while humans speak and restores
// it afterwards. A no-op unless the guild enabled the setting.
func (p *Player) DuckVolume(ctx context.Context, active bool) error {
	return p.do(ctx, func() error {
		if p.settings == nil || !p.settings.TurnDownWhenPeopleSpeak {
			return nil
		}
		if active {
			p.applyVolume(p.settings.TurnDownTarget)
		} else {
			p.applyVolume(p.normalVolume)
		}
		return nil
	})
}

// Position returns the logical playback position in seconds: the running
// offset while playing, the frozen value while paused, zero otherwise.
func (p *Player) Position(ctx context.Context) (int, error) {
	var pos int
	err := p.do(ctx, func() error {
		pos = p.positionNow()
		return nil
	})
	return pos, err
}

func (p *Player) positionNow() int {
	switch p.status {
	case types.StatusPlaying, types.StatusLoading:
		return p.seekOffset + int(time.Since(p.startedAt).Seconds())
	case types.StatusPaused:
		return p.pausedPos
	default:
		return 0
	}
}

// Snapshot is a consistent view of the player for reply rendering.
type Snapshot struct {
	Status    types.PlayerStatus
	Current   *types.QueuedTrack
	Upcoming  []types.QueuedTrack
	Position  int
	Volume    int
	LoopTrack bool
	LoopQueue bool
	ChannelID string
}

// Snapshot captures the player state in one serialized read.
func (p *Player) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	err := p.do(ctx, func() error {
		snap = Snapshot{
			Status:    p.status,
			Current:   p.queue.Current(),
			Upcoming:  p.queue.Upcoming(),
			Position:  p.positionNow(),
			Volume:    p.volume,
			LoopTrack: p.loopTrack,
			LoopQueue: p.loopQueue,
			ChannelID: p.channelID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Settings returns the guild settings read at connect time, or defaults.
func (p *Player) Settings(ctx context.Context) (*types.GuildSettings, error) {
	var settings *types.GuildSettings
	err := p.do(ctx, func() error {
		if p.settings != nil {
			copied := *p.settings
			settings = &copied
			return nil
		}
		loaded, loadErr := p.deps.Settings.GetGuildSettings(p.guildID)
		if loadErr != nil {
			return types.WrapError(types.KindInternal, "failed to load guild settings", loadErr)
		}
		p.settings = loaded
		copied := *loaded
		settings = &copied
		return nil
	})
	return settings, err
}

// ClearQueue drops everything after the current track.
func (p *Player) ClearQueue(ctx context.Context) error {
	return p.do(ctx, func() error {
		p.queue.Clear()
		return nil
	})
}

// RemoveFromQueue removes count upcoming tracks starting at a 1-based position.
func (p *Player) RemoveFromQueue(ctx context.Context, position, count int) ([]types.QueuedTrack, error) {
	var removed []types.QueuedTrack
	err := p.do(ctx, func() error {
		tracks, rmErr := p.queue.Remove(position, count)
		if rmErr != nil {
			return types.WrapError(types.KindInvalidArgument, "cannot remove", rmErr)
		}
		removed = tracks
		return nil
	})
	return removed, err
}

// MoveInQueue relocates one upcoming track between 1-based positions.
func (p *Player) MoveInQueue(ctx context.Context, from, to int) (*types.QueuedTrack, error) {
	var moved *types.QueuedTrack
	err := p.do(ctx, func() error {
		track, mvErr := p.queue.Move(from, to)
		if mvErr != nil {
			return types.WrapError(types.KindInvalidArgument, "cannot move", mvErr)
		}
		moved = track
		return nil
	})
	return moved, err
}

// ShuffleQueue permutes the upcoming tracks.
func (p *Player) ShuffleQueue(ctx context.Context) error {
	return p.do(ctx, func() error {
		p.queue.Shuffle()
		return nil
	})
}

// startCurrent opens the pipeline for the track at the cursor with the given
// seek offset. On open failure the queue skips forward by one and the error
// surfaces to the caller; the player itself stays alive.
func (p *Player) startCurrent(seek int) error {
	current := p.queue.Current()
	if current == nil {
		return types.NewError(types.KindInternal, "no current track to start")
	}
	if p.conn == nil {
		return types.NewError(types.KindPreconditionFailed, "not connected to a voice room")
	}

	p.cancelAutoDisconnect()
	p.setStatus(types.StatusLoading)

	fingerprint := cache.Fingerprint(current.URL)
	input := current.StreamURL
	remote := true
	if p.deps.Cache != nil {
		if path, ok := p.deps.Cache.Lookup(fingerprint); ok {
			input = path
			remote = false
		}
	}

	opts := pipeline.Options{
		Input:  input,
		Remote: remote,
		Seek:   current.Offset + seek,
		Volume: float64(p.volume) / 100,
	}
	if !current.IsLive {
		opts.StopAt = current.Offset + current.Length
	}
	if current.LoudnessDB != nil {
		// Pre-bake the platform's loudness hint as a negative gain.
		opts.LoudnessGainDB = -*current.LoudnessDB
	}

	p.generation++
	generation := p.generation
	pipe := p.newPipeline(p.conn, opts, func(err error) {
		select {
		case p.completions <- completion{generation: generation, err: err}:
		case <-p.quit:
		}
	})

	if err := pipe.Start(); err != nil {
		utils.LogError("Pipeline open failed in guild %s for %q: %v", p.guildID, current.Title, err)
		p.queue.Advance(1)
		p.setStatus(types.StatusIdle)
		p.armAutoDisconnect()
		return types.WrapError(types.KindTransientUpstream, "failed to start playback", err)
	}

	p.pipe = pipe
	p.seekOffset = seek
	p.startedAt = time.Now()
	p.setStatus(types.StatusPlaying)

	if remote && seek == 0 && current.Offset == 0 && !current.IsLive &&
		current.Length <= CacheMaxTrackSeconds && p.deps.Cache != nil {
		streamURL := current.StreamURL
		go func() {
			if err := p.deps.Cache.Fill(context.Background(), streamURL, fingerprint); err != nil {
				utils.LogWarn("Background cache fill failed: %v", err)
			}
		}()
	}

	utils.LogInfo("Playing %q in guild %s (seek=%ds, cached=%v)", current.Title, p.guildID, seek, !remote)
	return nil
}

// handleCompletion reacts to the pipeline finishing. It runs on the mailbox
// goroutine, so it never races a command.
func (p *Player) handleCompletion(c completion) {
	if c.generation != p.generation {
		// A newer pipeline superseded this one; the event is stale.
		return
	}
	p.pipe = nil

	if c.err != nil {
		if c.err == pipeline.ErrStopped {
			// Deliberate stop; state was already adjusted by whoever stopped it.
			return
		}
		p.handlePipelineFailure(c.err)
		return
	}

	// Natural end of the current track.
	current := p.queue.Current()
	played := int(time.Since(p.startedAt).Seconds())
	if err := p.deps.Settings.AddGuildPlayback(p.guildID, 1, played); err != nil {
		utils.LogWarn("Failed to record playback stats for guild %s: %v", p.guildID, err)
	}

	if p.loopTrack && current != nil {
		if err := p.startCurrent(0); err != nil {
			utils.LogError("Loop restart failed in guild %s: %v", p.guildID, err)
		}
		return
	}

	if p.loopQueue && current != nil {
		p.queue.Append(*current)
	}

	p.queue.Advance(1)
	if p.queue.Current() != nil {
		if err := p.startCurrent(0); err != nil {
			utils.LogError("Auto-advance failed in guild %s: %v", p.guildID, err)
		}
		return
	}

	p.setStatus(types.StatusIdle)
	p.armAutoDisconnect()
}

// handlePipelineFailure implements the mid-playback failure policy: voice
// transport faults get one rejoin attempt resuming at the logical position;
// anything else skips to the next track.
func (p *Player) handlePipelineFailure(err error) {
	position := p.seekOffset + int(time.Since(p.startedAt).Seconds())
	utils.LogError("Playback failed in guild %s at %ds: %v", p.guildID, position, err)

	if p.isVoiceFault(err) && p.channelID != "" {
		conn, joinErr := p.deps.Dialer.Join(p.guildID, p.channelID)
		if joinErr == nil {
			p.conn = conn
			if startErr := p.startCurrent(position); startErr == nil {
				return
			}
		} else {
			utils.LogError("Voice rejoin failed in guild %s: %v", p.guildID, joinErr)
		}
		p.setStatus(types.StatusIdle)
		p.armAutoDisconnect()
		return
	}

	// Transient upstream fault: drop this track and continue with the next.
	p.queue.Advance(1)
	if p.queue.Current() != nil {
		if startErr := p.startCurrent(0); startErr == nil {
			return
		}
	}
	p.setStatus(types.StatusIdle)
	p.armAutoDisconnect()
}

func (p *Player) isVoiceFault(err error) bool {
	if p.conn == nil || !p.conn.Ready() {
		return true
	}
	return strings.Contains(err.Error(), "voice send")
}

func (p *Player) stopPipeline() {
	if p.pipe != nil {
		p.pipe.Stop()
		p.pipe = nil
		// Invalidate the in-flight completion so ErrStopped from the old
		// pipeline cannot be confused with a newer one's event.
		p.generation++
	}
}

// armAutoDisconnect schedules the voice release after the configured idle
// delay. Arming replaces any previous timer; a play cancels it.
func (p *Player) armAutoDisconnect() {
	if !p.queue.IsUpcomingEmpty() {
		return
	}
	if p.settings == nil || !p.settings.AutoDisconnect || p.settings.AutoDisconnectDelay <= 0 {
		return
	}

	p.cancelAutoDisconnect()
	p.disconnectTimer = time.AfterFunc(time.Duration(p.settings.AutoDisconnectDelay)*time.Second, func() {
		p.post(func() {
			p.disconnectTimer = nil
			if p.status == types.StatusIdle {
				utils.LogInfo("Auto-disconnecting idle player in guild %s", p.guildID)
				p.releaseVoice()
			}
		})
	})
}

func (p *Player) cancelAutoDisconnect() {
	if p.disconnectTimer != nil {
		p.disconnectTimer.Stop()
		p.disconnectTimer = nil
	}
}

// AutoDisconnectArmed reports whether the idle timer is pending.
func (p *Player) AutoDisconnectArmed(ctx context.Context) (bool, error) {
	var armed bool
	err := p.do(ctx, func() error {
		armed = p.disconnectTimer != nil
		return nil
	})
	return armed, err
}

// Connected reports whether a voice connection is held.
func (p *Player) Connected(ctx context.Context) (bool, error) {
	var connected bool
	err := p.do(ctx, func() error {
		connected = p.conn != nil
		return nil
	})
	return connected, err
}

func (p *Player) releaseVoice() {
	p.cancelAutoDisconnect()
	if p.conn != nil {
		if err := p.conn.Disconnect(); err != nil {
			utils.LogWarn("Error disconnecting voice in guild %s: %v", p.guildID, err)
		}
		p.conn = nil
	}
}

// Cleanup stops playback, releases the voice room and terminates the
// mailbox. The player must not be used afterwards.
func (p *Player) Cleanup() {
	done := make(chan struct{})
	cleanup := func() {
		p.stopPipeline()
		p.releaseVoice()
		close(done)
	}

	select {
	case p.cmds <- cleanup:
		<-done
	case <-p.quit:
	}

	p.closeOnce.Do(func() {
		close(p.quit)
	})
}
