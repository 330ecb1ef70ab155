package stream

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Player  = (*Player)(nil)
	_ audio.Stopper = (*Player)(nil)
)

const (
	// DefaultGap is the base silence duration inserted between consecutive
	// clips when no explicit gap is configured via [WithGap].
	DefaultGap = 150 * time.Millisecond

	// DefaultFrameSize is the number of bytes handed to the sink per write.
	// Interrupts take effect between frames.
	DefaultFrameSize = 4096

	// defaultQueueCap is the initial capacity hint for the priority queue.
	defaultQueueCap = 16
)

// Option configures a [Player] during construction.
type Option func(*Player)

// WithGap sets the base silence gap inserted between consecutive clips.
// Jitter of ±1/6 of the gap is applied automatically. A gap of zero disables
// inter-clip silence entirely.
func WithGap(d time.Duration) Option {
	return func(p *Player) {
		p.gap = d
	}
}

// WithQueueCapacity sets the initial capacity hint for the internal priority
// queue. This does not impose a hard limit; the queue grows as needed.
func WithQueueCapacity(n int) Option {
	return func(p *Player) {
		if n > 0 {
			p.queue = make(clipHeap, 0, n)
		}
	}
}

// WithOutputFormat converts every PCM or WAV clip to f before it reaches the
// sink. Encoded clips (mp3) are passed through unchanged.
func WithOutputFormat(f audio.Format) Option {
	return func(p *Player) {
		p.conv = &audio.FormatConverter{Target: f}
	}
}

// WithFrameSize sets the number of bytes written to the sink at a time.
func WithFrameSize(n int) Option {
	return func(p *Player) {
		if n > 0 {
			p.frameSize = n
		}
	}
}

// WithSilenceFill writes the inter-clip gap to the sink as PCM silence
// instead of waiting for it. Use it for offline sinks such as WAV files.
// It requires [WithOutputFormat] with a PCM format; otherwise gaps are waited
// for as usual.
func WithSilenceFill() Option {
	return func(p *Player) {
		p.fillSilence = true
	}
}

// Player is a concrete [audio.Player] that schedules [audio.Clip] playback
// using a priority queue backed by [container/heap].
//
// Equal-priority clips play in FIFO order, so the clips of one speak
// invocation are heard in chunk order. A configurable silence gap (with
// jitter) is inserted between consecutive clips to sound natural.
//
// All exported methods are safe for concurrent use.
type Player struct {
	sink        audio.Sink
	conv        *audio.FormatConverter
	frameSize   int
	fillSilence bool

	mu            sync.Mutex
	queue         clipHeap
	seq           uint64        // monotonic counter for FIFO ordering
	gap           time.Duration // base silence gap between clips
	playing       *entry        // currently playing clip, or nil
	cancelPlaying chan struct{} // closed to interrupt the current clip
	pending       int           // queued plus playing clips
	idle          chan struct{} // closed when pending drops to zero
	err           error         // first sink failure; sticky

	notify  chan struct{} // signalled when a clip is queued
	done    chan struct{} // closed by Close to stop the dispatch goroutine
	stopped chan struct{} // closed when the dispatch goroutine has returned
	closed  bool
}

// New creates a [Player] that writes audio to sink. The player starts a
// background dispatch goroutine immediately.
//
// sink must not be nil. It is called sequentially from the dispatch goroutine
// and is closed by [Player.Close].
func New(sink audio.Sink, opts ...Option) *Player {
	p := &Player{
		sink:      sink,
		frameSize: DefaultFrameSize,
		queue:     make(clipHeap, 0, defaultQueueCap),
		gap:       DefaultGap,
		idle:      closedChan(),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	heap.Init(&p.queue)
	go p.dispatch()
	return p
}

// Play queues clip and returns immediately. Empty clips are ignored.
//
// Play fails with [audio.ErrClosed] after Close, and with the sink's error
// once the sink has failed.
func (p *Player) Play(ctx context.Context, clip audio.Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return audio.ErrClosed
	}
	if p.err != nil {
		return p.err
	}
	if len(clip.Data) == 0 {
		return nil
	}

	p.seq++
	heap.Push(&p.queue, entry{clip: clip, priority: clip.Priority, seq: p.seq})
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++

	// Wake the dispatch goroutine.
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// Stop discards every queued clip with the given key and cuts off the clip
// currently playing if it belongs to key. Other keys are unaffected.
func (p *Player) Stop(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.queue[:0]
	dropped := 0
	for _, e := range p.queue {
		if e.clip.Key == key {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	p.queue = kept
	heap.Init(&p.queue)
	p.finishLocked(dropped)

	if p.playing != nil && p.playing.clip.Key == key {
		p.interruptLocked()
	}
}

// SetGap configures the base silence duration inserted between consecutive
// clips. Changes take effect before the next clip starts.
func (p *Player) SetGap(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gap = d
}

// Pending reports the number of clips queued or playing.
func (p *Player) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Wait blocks until every queued clip has been played or dropped, or ctx is
// done.
func (p *Player) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the first sink failure, if any.
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close stops the background dispatch goroutine, drops any remaining queued
// clips and closes the sink. Close is idempotent; subsequent calls are no-ops
// and return nil.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	dropped := p.queue.Len()
	if p.playing != nil {
		p.interruptLocked()
		dropped++
	}
	p.queue = p.queue[:0]
	p.finishLocked(dropped)
	p.mu.Unlock()

	close(p.done)
	<-p.stopped
	return p.sink.Close()
}

// interruptLocked cancels the currently playing clip. Must be called with
// p.mu held.
func (p *Player) interruptLocked() {
	if p.cancelPlaying != nil {
		close(p.cancelPlaying)
		p.cancelPlaying = nil
	}
}

// finishLocked marks n clips as no longer pending. Must be called with p.mu
// held.
func (p *Player) finishLocked(n int) {
	if n <= 0 || p.pending == 0 {
		return
	}
	p.pending = max(p.pending-n, 0)
	if p.pending == 0 {
		close(p.idle)
		p.idle = closedChan()
	}
}

// dispatch is the background goroutine that pulls clips from the queue and
// writes them to the sink. It runs until [Close] is called.
func (p *Player) dispatch() {
	defer close(p.stopped)

	var lastPlayed bool // true if a clip was just played (for gap insertion)

	// Reusable timer for inter-clip gaps, created stopped.
	gapTimer := time.NewTimer(time.Hour)
	gapTimer.Stop()
	defer gapTimer.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-p.notify:
		}

		for {
			e, cancel, ok := p.dequeue()
			if !ok {
				break
			}

			if lastPlayed {
				if !p.pause(gapTimer, cancel) {
					p.release(e)
					select {
					case <-p.done:
						return
					default:
						continue
					}
				}
			}

			p.play(e, cancel)
			lastPlayed = true
			p.release(e)
		}
	}
}

// dequeue pops the next clip and marks it as playing. Returns ok=false if the
// queue is empty.
func (p *Player) dequeue() (*entry, chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queue.Len() == 0 {
		return nil, nil, false
	}
	e := heap.Pop(&p.queue).(entry)
	cancel := make(chan struct{})
	p.playing = &e
	p.cancelPlaying = cancel
	return &e, cancel, true
}

// release clears the playing state after e finished or was interrupted.
func (p *Player) release(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing == e {
		p.playing = nil
		p.cancelPlaying = nil
	}
	if !p.closed {
		p.finishLocked(1)
	}
}

// pause inserts the inter-clip gap. It reports false if the clip was
// interrupted or the player closed during the gap.
func (p *Player) pause(t *time.Timer, cancel <-chan struct{}) bool {
	d := p.gapWithJitter()
	if d <= 0 {
		return true
	}
	if p.fillSilence && p.conv != nil && p.conv.Target.IsPCM() && p.conv.Target.SampleRate > 0 {
		p.writeSilence(d)
		return true
	}
	t.Reset(d)
	select {
	case <-p.done:
	case <-cancel:
	case <-t.C:
		return true
	}
	t.Stop()
	return false
}

// play writes e to the sink frame by frame until the clip ends or cancel is
// closed.
func (p *Player) play(e *entry, cancel <-chan struct{}) {
	clip := e.clip
	if p.conv != nil {
		clip = p.conv.Convert(clip)
	}
	data := clip.Data
	for off := 0; off < len(data); off += p.frameSize {
		select {
		case <-p.done:
			return
		case <-cancel:
			return
		default:
		}
		end := min(off+p.frameSize, len(data))
		if err := p.sink.WriteAudio(data[off:end], clip.Format); err != nil {
			p.fail(clip, err)
			return
		}
	}
}

func (p *Player) writeSilence(d time.Duration) {
	f := p.conv.Target
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	if frames <= 0 {
		return
	}
	if err := p.sink.WriteAudio(make([]byte, frames*2*max(f.Channels, 1)), f); err != nil {
		p.fail(audio.Clip{Key: "silence"}, err)
	}
}

// fail records the first sink error and drops the queue.
func (p *Player) fail(clip audio.Clip, err error) {
	slog.Error("audio stream: sink write failed", "key", clip.Key, "seq", clip.Seq, "err", err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = fmt.Errorf("audio stream: sink: %w", err)
	}
	dropped := p.queue.Len()
	p.queue = p.queue[:0]
	p.finishLocked(dropped)
}

// gapWithJitter returns the configured gap duration with ±1/6 jitter applied.
// Returns zero if the base gap is zero.
func (p *Player) gapWithJitter() time.Duration {
	p.mu.Lock()
	base := p.gap
	p.mu.Unlock()

	if base <= 0 {
		return 0
	}

	jitterRange := base / 6
	if jitterRange <= 0 {
		return base
	}

	// rand/v2 is concurrency-safe with the global source.
	jitter := time.Duration(rand.Int64N(int64(2*jitterRange+1))) - jitterRange
	return base + jitter
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
