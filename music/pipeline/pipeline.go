package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"layeh.com/gopus"

	"chord-discord-bot/utils"
)

const (
	frameRate = 48000 // Discord voice requires 48kHz
	channels  = 2
	frameSize = 960 // 20ms of audio per frame
	maxOpus   = 1400

	sendTimeout = 1 * time.Second
	readTimeout = 10 * time.Second
)

// ErrStopped is the completion error reported when playback was cut short by
// Stop rather than reaching the end of the stream.
var ErrStopped = errors.New("playback stopped")

// FrameSink receives encoded opus frames. Satisfied by the voice handle in
// production and by mocks in tests.
type FrameSink interface {
	Speaking(bool) error
	OpusSend() chan<- []byte
}

// Options describe one pipeline run.
type Options struct {
	Input          string  // committed cache path or direct media URL
	Remote         bool    // true when Input is a network stream
	Seek           int     // decoder-side start offset in seconds
	StopAt         int     // absolute upper bound in seconds, 0 for none
	Volume         float64 // initial volume ratio, 0.0..1.0
	LoudnessGainDB float64 // pre-baked normalization gain, 0 for none
	FFmpegPath     string  // defaults to "ffmpeg"
}

// Pipeline decodes one track to PCM, applies the live volume scalar, encodes
// opus and pushes frames at the sink. The completion callback fires exactly
// once: nil on natural end, ErrStopped after Stop, or the streaming error.
type Pipeline struct {
	sink       FrameSink
	opts       Options
	onComplete func(error)

	cmd      *exec.Cmd
	stdout   io.ReadCloser
	volume   atomic.Uint64 // math.Float64bits of the current ratio
	stop     chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

// New prepares a pipeline. Start must be called to begin streaming.
func New(sink FrameSink, opts Options, onComplete func(error)) *Pipeline {
	p := &Pipeline{
		sink:       sink,
		opts:       opts,
		onComplete: onComplete,
		stop:       make(chan struct{}),
	}
	p.SetVolume(opts.Volume)
	return p
}

// Start spawns the decoder and begins the streaming loop. An error here means
// nothing was started and the completion callback will not fire.
func (p *Pipeline) Start() error {
	path := p.opts.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}

	p.cmd = exec.Command(path, buildArgs(p.opts)...)

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create decoder pipe: %w", err)
	}
	p.stdout = stdout

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}

	go p.run()
	return nil
}

// buildArgs assembles the decoder invocation. Seek is applied at the input
// (not by reading and discarding) and the stop bound is absolute.
func buildArgs(opts Options) []string {
	var args []string

	if opts.Remote {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "4",
		)
	}

	if opts.Seek > 0 {
		args = append(args, "-ss", strconv.Itoa(opts.Seek))
	}
	if opts.StopAt > 0 {
		args = append(args, "-to", strconv.Itoa(opts.StopAt))
	}

	args = append(args, "-i", opts.Input, "-vn")

	if opts.LoudnessGainDB != 0 {
		args = append(args, "-af", fmt.Sprintf("volume=%.2fdB", opts.LoudnessGainDB))
	}

	args = append(args,
		"-f", "s16le",
		"-ar", strconv.Itoa(frameRate),
		"-ac", strconv.Itoa(channels),
		"-loglevel", "warning",
		"pipe:1",
	)
	return args
}

func (p *Pipeline) run() {
	defer func() {
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		p.cmd.Wait()
	}()

	if err := p.sink.Speaking(true); err != nil {
		p.complete(fmt.Errorf("start speaking: %w", err))
		return
	}
	defer func() {
		if err := p.sink.Speaking(false); err != nil {
			utils.LogWarn("Failed to stop speaking: %v", err)
		}
	}()

	encoder, err := gopus.NewEncoder(frameRate, channels, gopus.Audio)
	if err != nil {
		p.complete(fmt.Errorf("create opus encoder: %w", err))
		return
	}

	frames := make(chan []int16, 8)
	readErr := make(chan error, 1)
	go p.readFrames(frames, readErr)

	for {
		var pcm []int16
		select {
		case <-p.stop:
			p.complete(ErrStopped)
			return
		case err := <-readErr:
			if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				p.complete(nil)
			} else {
				p.complete(fmt.Errorf("read decoder output: %w", err))
			}
			return
		case pcm = <-frames:
		case <-time.After(readTimeout):
			p.complete(fmt.Errorf("decoder stalled for %s", readTimeout))
			return
		}

		p.applyVolume(pcm)

		opus, err := encoder.Encode(pcm, frameSize, maxOpus)
		if err != nil {
			p.complete(fmt.Errorf("encode opus frame: %w", err))
			return
		}

		select {
		case p.sink.OpusSend() <- opus:
		case <-p.stop:
			p.complete(ErrStopped)
			return
		case <-time.After(sendTimeout):
			p.complete(fmt.Errorf("voice send timed out after %s", sendTimeout))
			return
		}
	}
}

// readFrames pulls fixed-size PCM frames off the decoder until it ends.
// A short final frame is padded with silence rather than dropped.
func (p *Pipeline) readFrames(frames chan<- []int16, readErr chan<- error) {
	raw := make([]byte, frameSize*channels*2)
	for {
		n, err := io.ReadFull(p.stdout, raw)
		buf := make([]int16, frameSize*channels)
		for i := 0; i < n/2; i++ {
			buf[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// the samples read so far are kept; the rest of the frame stays zeroed
				select {
				case frames <- buf:
				case <-p.stop:
				}
			}
			readErr <- err
			return
		}
		select {
		case frames <- buf:
		case <-p.stop:
			return
		}
	}
}

// applyVolume scales every sample by the current ratio with clamping.
func (p *Pipeline) applyVolume(pcm []int16) {
	ratio := p.Volume()
	if ratio == 1.0 {
		return
	}
	for i, sample := range pcm {
		scaled := float64(sample) * ratio
		switch {
		case scaled > math.MaxInt16:
			pcm[i] = math.MaxInt16
		case scaled < math.MinInt16:
			pcm[i] = math.MinInt16
		default:
			pcm[i] = int16(scaled)
		}
	}
}

// SetVolume updates the volume ratio applied to subsequent frames. Safe to
// call from any goroutine while streaming.
func (p *Pipeline) SetVolume(ratio float64) {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	p.volume.Store(math.Float64bits(ratio))
}

// Volume returns the current volume ratio.
func (p *Pipeline) Volume() float64 {
	return math.Float64frombits(p.volume.Load())
}

// Stop ends the stream promptly. The completion callback fires with
// ErrStopped unless the stream already ended.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.cmd != nil && p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
	})
}

func (p *Pipeline) complete(err error) {
	p.doneOnce.Do(func() {
		if p.onComplete != nil {
			p.onComplete(err)
		}
	})
}
