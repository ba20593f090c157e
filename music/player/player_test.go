package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chord-discord-bot/music/pipeline"
	"chord-discord-bot/music/types"
	"chord-discord-bot/testutils"
)

// fakePipeline stands in for the audio pipeline so tests can drive
// completion events by hand.
type fakePipeline struct {
	opts       pipeline.Options
	onComplete func(error)

	mu      sync.Mutex
	stopped bool
	volume  float64
}

func (f *fakePipeline) Start() error { return nil }

func (f *fakePipeline) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakePipeline) SetVolume(ratio float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = ratio
}

func (f *fakePipeline) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakePipeline) finish(err error) {
	f.onComplete(err)
}

// pipelineRecorder captures every pipeline the player opens.
type pipelineRecorder struct {
	mu        sync.Mutex
	pipelines []*fakePipeline
	startErr  error
}

func (r *pipelineRecorder) opener(sink pipeline.FrameSink, opts pipeline.Options, onComplete func(error)) pipelineHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp := &fakePipeline{opts: opts, onComplete: onComplete, volume: opts.Volume}
	r.pipelines = append(r.pipelines, fp)
	return &recordedHandle{fp: fp, startErr: r.startErr}
}

type recordedHandle struct {
	fp       *fakePipeline
	startErr error
}

func (h *recordedHandle) Start() error {
	return h.startErr
}
func (h *recordedHandle) Stop()               { h.fp.Stop() }
func (h *recordedHandle) SetVolume(r float64) { h.fp.SetVolume(r) }

func (r *pipelineRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pipelines)
}

func (r *pipelineRecorder) last() *fakePipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pipelines) == 0 {
		return nil
	}
	return r.pipelines[len(r.pipelines)-1]
}

func newTestPlayer(t *testing.T) (*Player, *pipelineRecorder, *testutils.MockVoiceDialer, *testutils.MockSettingsStore) {
	t.Helper()
	dialer := &testutils.MockVoiceDialer{}
	store := testutils.NewMockSettingsStore()
	recorder := &pipelineRecorder{}

	p := New("guild-1", Deps{Dialer: dialer, Settings: store})
	p.newPipeline = recorder.opener
	t.Cleanup(p.Cleanup)
	return p, recorder, dialer, store
}

func startPlaying(t *testing.T, p *Player, titles ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx, "room-1"))
	require.NoError(t, p.AddTracks(ctx, testutils.NewQueuedTracks(titles...), false))
	require.NoError(t, p.Play(ctx))
}

func TestBasicPlay(t *testing.T) {
	p, recorder, dialer, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")

	assert.Equal(t, types.StatusPlaying, p.Status())
	assert.Equal(t, 1, dialer.JoinCount())
	assert.Equal(t, "room-1", dialer.LastHandle().ChannelID())

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "song-A", snap.Current.Title)
	assert.Empty(t, snap.Upcoming)

	require.Equal(t, 1, recorder.count())
	assert.Equal(t, 0, recorder.last().opts.Seek)
	assert.True(t, recorder.last().opts.Remote)
}

func TestPlayWithoutConnectFails(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	ctx := context.Background()

	require.NoError(t, p.AddTracks(ctx, testutils.NewQueuedTracks("song-A"), false))
	err := p.Play(ctx)
	assert.True(t, types.IsKind(err, types.KindPreconditionFailed))
}

func TestPlayEmptyQueueFails(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	ctx := context.Background()

	require.NoError(t, p.Connect(ctx, "room-1"))
	err := p.Play(ctx)
	assert.True(t, types.IsKind(err, types.KindPreconditionFailed))
}

func TestPauseAndResume(t *testing.T) {
	p, recorder, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")

	require.NoError(t, p.Pause(ctx))
	assert.Equal(t, types.StatusPaused, p.Status())
	assert.True(t, recorder.last().Stopped())

	pos, err := p.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	require.NoError(t, p.Play(ctx))
	assert.Equal(t, types.StatusPlaying, p.Status())
	assert.Equal(t, 2, recorder.count(), "resume reopens the pipeline")
}

func TestPauseWhileIdleFails(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	err := p.Pause(context.Background())
	assert.True(t, types.IsKind(err, types.KindPreconditionFailed))
}

func TestSkipToNextTrack(t *testing.T) {
	p, recorder, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A", "song-B")

	require.NoError(t, p.Skip(ctx, 1))
	assert.Equal(t, types.StatusPlaying, p.Status())

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "song-B", snap.Current.Title)
	assert.Equal(t, 2, recorder.count())
}

func TestSkipPastEndArmsAutoDisconnect(t *testing.T) {
	p, _, dialer, store := newTestPlayer(t)
	ctx := context.Background()

	store.SetSettings(&types.GuildSettings{
		GuildID:             "guild-1",
		DefaultVolume:       100,
		AutoDisconnect:      true,
		AutoDisconnectDelay: 1,
		QueuePageSize:       10,
	})

	startPlaying(t, p, "song-A")

	require.NoError(t, p.Skip(ctx, 5))
	assert.Equal(t, types.StatusIdle, p.Status())

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Current)
	assert.Empty(t, snap.Upcoming)

	armed, err := p.AutoDisconnectArmed(ctx)
	require.NoError(t, err)
	assert.True(t, armed)

	// after the delay the voice connection is released, the player survives
	require.Eventually(t, func() bool {
		return dialer.LastHandle().Disconnected()
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, types.StatusIdle, p.Status())
}

func TestPlayCancelsAutoDisconnect(t *testing.T) {
	p, _, _, store := newTestPlayer(t)
	ctx := context.Background()

	store.SetSettings(&types.GuildSettings{
		GuildID:             "guild-1",
		DefaultVolume:       100,
		AutoDisconnect:      true,
		AutoDisconnectDelay: 60,
		QueuePageSize:       10,
	})

	startPlaying(t, p, "song-A")
	require.NoError(t, p.Skip(ctx, 1))

	armed, err := p.AutoDisconnectArmed(ctx)
	require.NoError(t, err)
	require.True(t, armed)

	require.NoError(t, p.AddTracks(ctx, testutils.NewQueuedTracks("song-B"), false))
	require.NoError(t, p.Back(ctx))

	armed, err = p.AutoDisconnectArmed(ctx)
	require.NoError(t, err)
	assert.False(t, armed)
}

func TestBackAtStartFails(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")
	err := p.Back(ctx)
	assert.True(t, types.IsKind(err, types.KindInvalidArgument))
}

func TestNaturalEndAdvances(t *testing.T) {
	p, recorder, _, store := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A", "song-B")

	recorder.last().finish(nil)

	require.Eventually(t, func() bool {
		snap, err := p.Snapshot(ctx)
		return err == nil && snap.Current != nil && snap.Current.Title == "song-B"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, types.StatusPlaying, p.Status())
	assert.Equal(t, 2, recorder.count())

	stats, err := store.GetGuildStats("guild-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TracksPlayed)
}

func TestNaturalEndOfLastTrackGoesIdle(t *testing.T) {
	p, recorder, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")
	recorder.last().finish(nil)

	require.Eventually(t, func() bool {
		return p.Status() == types.StatusIdle
	}, 2*time.Second, 10*time.Millisecond)

	armed, err := p.AutoDisconnectArmed(ctx)
	require.NoError(t, err)
	assert.True(t, armed)
}

func TestLoopCurrentRestartsSameTrack(t *testing.T) {
	p, recorder, _, store := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A", "song-B")

	enabled, err := p.ToggleLoopTrack(ctx)
	require.NoError(t, err)
	require.True(t, enabled)

	recorder.last().finish(nil)

	require.Eventually(t, func() bool {
		return recorder.count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "song-A", snap.Current.Title, "cursor unchanged")
	assert.Equal(t, 0, recorder.last().opts.Seek)

	// exactly one completion counted per real completion
	stats, err := store.GetGuildStats("guild-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TracksPlayed)
}

func TestLoopFlagsMutuallyExclusive(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")

	track, err := p.ToggleLoopTrack(ctx)
	require.NoError(t, err)
	assert.True(t, track)

	queueLoop, err := p.ToggleLoopQueue(ctx)
	require.NoError(t, err)
	assert.True(t, queueLoop)

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.LoopTrack)
	assert.True(t, snap.LoopQueue)
}

func TestLoopQueueReappendsFinishedTrack(t *testing.T) {
	p, recorder, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A", "song-B")

	enabled, err := p.ToggleLoopQueue(ctx)
	require.NoError(t, err)
	require.True(t, enabled)

	recorder.last().finish(nil)

	require.Eventually(t, func() bool {
		snap, snapErr := p.Snapshot(ctx)
		return snapErr == nil && snap.Current != nil && snap.Current.Title == "song-B"
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Upcoming, 1)
	assert.Equal(t, "song-A", snap.Upcoming[0].Title, "finished track re-appended at the end")
}

func TestSeekWhilePlaying(t *testing.T) {
	p, recorder, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")

	require.NoError(t, p.SeekTo(ctx, 60))
	assert.Equal(t, types.StatusPlaying, p.Status())
	assert.Equal(t, 2, recorder.count())
	assert.Equal(t, 60, recorder.last().opts.Seek)

	pos, err := p.Position(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 60, pos, 1)
}

func TestSeekWhilePausedStaysPaused(t *testing.T) {
	p, recorder, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")
	require.NoError(t, p.Pause(ctx))

	require.NoError(t, p.SeekTo(ctx, 60))
	assert.Equal(t, types.StatusPaused, p.Status())
	assert.Equal(t, 1, recorder.count(), "no pipeline reopened while paused")

	pos, err := p.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, pos)

	// resuming starts from the sought position
	require.NoError(t, p.Play(ctx))
	assert.Equal(t, types.StatusPlaying, p.Status())
	assert.Equal(t, 60, recorder.last().opts.Seek)
}

func TestSeekValidation(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")

	err := p.SeekTo(ctx, -1)
	assert.True(t, types.IsKind(err, types.KindInvalidArgument))

	// fixture tracks are 180 seconds long
	err = p.SeekTo(ctx, 181)
	assert.True(t, types.IsKind(err, types.KindInvalidArgument))
}

func TestSeekInLiveTrackFails(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	ctx := context.Background()

	live := testutils.NewQueuedTrack("stream")
	live.IsLive = true
	live.Length = 0

	require.NoError(t, p.Connect(ctx, "room-1"))
	require.NoError(t, p.AddTracks(ctx, []types.QueuedTrack{live}, false))
	require.NoError(t, p.Play(ctx))

	err := p.SeekTo(ctx, 10)
	assert.True(t, types.IsKind(err, types.KindInvalidArgument))
}

func TestVolumeClampsAndAppliesLive(t *testing.T) {
	p, recorder, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")

	require.NoError(t, p.SetVolume(ctx, 200))
	v, err := p.Volume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, v)

	require.NoError(t, p.SetVolume(ctx, -5))
	v, err = p.Volume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	assert.Equal(t, 1, recorder.count(), "volume changes never restart the pipeline")
	assert.InDelta(t, 0.0, recorder.last().volume, 1e-9)
}

func TestStopClearsEverything(t *testing.T) {
	p, recorder, dialer, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A", "song-B")

	require.NoError(t, p.Stop(ctx))
	assert.Equal(t, types.StatusIdle, p.Status())
	assert.True(t, recorder.last().Stopped())
	assert.True(t, dialer.LastHandle().Disconnected())

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Current)
	assert.Empty(t, snap.Upcoming)
}

func TestDisconnectPreservesPositionForResume(t *testing.T) {
	p, recorder, dialer, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")

	require.NoError(t, p.Disconnect(ctx))
	assert.Equal(t, types.StatusPaused, p.Status())
	assert.True(t, dialer.LastHandle().Disconnected())

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Current, "queue survives a disconnect")

	// resume: reconnect and play again from the stored position
	require.NoError(t, p.Connect(ctx, "room-1"))
	require.NoError(t, p.Play(ctx))
	assert.Equal(t, types.StatusPlaying, p.Status())
	assert.Equal(t, 2, recorder.count())
}

func TestStaleCompletionIgnored(t *testing.T) {
	p, recorder, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A", "song-B")
	first := recorder.last()

	require.NoError(t, p.Pause(ctx))

	// the stopped pipeline reports its deliberate stop late
	first.finish(pipeline.ErrStopped)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, types.StatusPaused, p.Status())
	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "song-A", snap.Current.Title)
}

func TestPipelineFailureSkipsToNext(t *testing.T) {
	p, recorder, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A", "song-B")

	recorder.last().finish(assert.AnError)

	require.Eventually(t, func() bool {
		snap, err := p.Snapshot(ctx)
		return err == nil && snap.Current != nil && snap.Current.Title == "song-B"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, types.StatusPlaying, p.Status())
}

func TestVoiceFaultTriggersRejoinAndResume(t *testing.T) {
	p, recorder, dialer, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")

	// drop the socket, then let the pipeline fail
	dialer.LastHandle().SetReady(false)
	recorder.last().finish(assert.AnError)

	require.Eventually(t, func() bool {
		return dialer.JoinCount() == 2 && p.Status() == types.StatusPlaying
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "song-A", snap.Current.Title, "same track resumes after rejoin")
}

func TestSkipDisablesTrackLoop(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A", "song-B")

	_, err := p.ToggleLoopTrack(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Skip(ctx, 1))

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.LoopTrack)
}

func TestCommandsAreSerialized(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A", "song-B", "song-C", "song-D")

	// a play issued after a skip must observe the advanced cursor
	require.NoError(t, p.Skip(ctx, 1))
	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "song-B", snap.Current.Title)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Snapshot(ctx)
			_, _ = p.Position(ctx)
		}()
	}
	wg.Wait()

	snap, err = p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "song-B", snap.Current.Title)
}

func TestPositionMonotonicWhilePlaying(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	ctx := context.Background()

	startPlaying(t, p, "song-A")

	last := -1
	for i := 0; i < 5; i++ {
		pos, err := p.Position(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pos, last)
		last = pos
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDuckVolume(t *testing.T) {
	p, recorder, _, store := newTestPlayer(t)
	ctx := context.Background()

	store.SetSettings(&types.GuildSettings{
		GuildID:                 "guild-1",
		DefaultVolume:           80,
		QueuePageSize:           10,
		TurnDownWhenPeopleSpeak: true,
		TurnDownTarget:          20,
	})

	startPlaying(t, p, "song-A")

	require.NoError(t, p.DuckVolume(ctx, true))
	v, err := p.Volume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, v)
	assert.InDelta(t, 0.2, recorder.last().volume, 1e-9)

	require.NoError(t, p.DuckVolume(ctx, false))
	v, err = p.Volume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80, v)
}

func TestPipelineOpenFailureSurfacesAndSkips(t *testing.T) {
	p, recorder, _, _ := newTestPlayer(t)
	recorder.startErr = assert.AnError
	ctx := context.Background()

	require.NoError(t, p.Connect(ctx, "room-1"))
	require.NoError(t, p.AddTracks(ctx, testutils.NewQueuedTracks("song-A", "song-B"), false))

	err := p.Play(ctx)
	assert.True(t, types.IsKind(err, types.KindTransientUpstream))

	// the failed track was skipped; the player is still alive
	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "song-B", snap.Current.Title)
}
