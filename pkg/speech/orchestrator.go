package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/message"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// Skip reasons reported to an [Observer].
const (
	SkipEmpty = "empty"
	SkipError = "error"
)

// Observer receives per-chunk outcomes. Implementations must not block.
type Observer interface {
	// ChunkPlayed is called after a chunk was synthesized and submitted for
	// playback. synth is the time spent in the provider.
	ChunkPlayed(ctx context.Context, synth time.Duration)

	// ChunkSkipped is called when a chunk produced no audio.
	ChunkSkipped(ctx context.Context, reason string)
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithMinLength overrides the chunk flush threshold (default [SpeakMinLength]).
func WithMinLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.minLength = n
		}
	}
}

// WithObserver registers obs for per-chunk outcomes.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.obs = obs
	}
}

// WithExtractor replaces the default plain-text extractor.
func WithExtractor(e *Extractor) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.extract = e
		}
	}
}

// Request describes one speak invocation.
type Request struct {
	// Key identifies the invocation to the player, usually the message ID.
	Key string

	// Content is the raw message text (markdown).
	Content string

	// Locale drives sentence segmentation.
	Locale string

	// TTSLocale is the language the provider is asked to speak.
	TTSLocale string

	// Voice is the provider voice identifier.
	Voice string

	// Priority is copied onto every clip. A higher value lets this
	// invocation's audio play before clips of other keys still queued.
	Priority int
}

// Orchestrator runs the speak pipeline: extract, segment, merge, then
// synthesize and submit each chunk strictly in order. Synthesis of chunk n+1
// starts only after chunk n has been submitted to the player; it does not
// wait for chunk n to finish playing.
//
// An Orchestrator is safe for concurrent use; each Speak call runs its own
// independent loop.
type Orchestrator struct {
	tts       tts.Provider
	player    audio.Player
	extract   *Extractor
	minLength int
	obs       Observer
}

// New returns an Orchestrator that synthesizes with p and plays through pl.
func New(p tts.Provider, pl audio.Player, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tts:       p,
		player:    pl,
		extract:   NewExtractor(nil),
		minLength: SpeakMinLength,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Chunks returns the chunks Speak would synthesize for content.
func (o *Orchestrator) Chunks(content, locale string) ([]string, error) {
	text, err := o.extract.Extract(content)
	if err != nil {
		return nil, err
	}
	return Chunk(text, locale, o.minLength), nil
}

// Speak speaks req.Content.
//
// A chunk whose synthesis fails or yields no audio is logged and skipped;
// the remaining chunks still play. Extraction failures, player failures and
// context cancellation end the loop and are returned.
func (o *Orchestrator) Speak(ctx context.Context, req Request) error {
	chunks, err := o.Chunks(req.Content, req.Locale)
	if err != nil {
		return err
	}
	log := slog.Default().With("key", req.Key, "chunks", len(chunks))
	log.Debug("speech: speaking", "voice", req.Voice, "tts_locale", req.TTSLocale)

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		data, format, err := o.synthesize(ctx, chunk, req)
		synth := time.Since(start)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Warn("speech: synthesis failed, skipping chunk", "seq", i, "err", err)
			o.skipped(ctx, SkipError)
			continue
		case len(data) == 0:
			log.Debug("speech: empty synthesis, skipping chunk", "seq", i)
			o.skipped(ctx, SkipEmpty)
			continue
		}

		clip := audio.Clip{Key: req.Key, Seq: i, Data: data, Format: format, Priority: req.Priority}
		if err := o.player.Play(ctx, clip); err != nil {
			return fmt.Errorf("speech: play chunk %d: %w", i, err)
		}
		if o.obs != nil {
			o.obs.ChunkPlayed(ctx, synth)
		}
	}
	return nil
}

// SpeakMessage speaks the speech text of msg, keyed by msg.ID.
func (o *Orchestrator) SpeakMessage(ctx context.Context, msg message.Message, locale, ttsLocale, voice string) error {
	return o.Speak(ctx, Request{
		Key:       msg.ID,
		Content:   message.SpeechText(msg),
		Locale:    locale,
		TTSLocale: ttsLocale,
		Voice:     voice,
	})
}

// synthesize requests audio for one chunk and reads its payload. A nil
// response yields nil data and no error.
func (o *Orchestrator) synthesize(ctx context.Context, chunk string, req Request) ([]byte, audio.Format, error) {
	resp, err := o.tts.Synthesize(ctx, tts.Request{Input: chunk, Voice: req.Voice, Locale: req.TTSLocale})
	if err != nil {
		return nil, audio.Format{}, err
	}
	if resp == nil {
		return nil, audio.Format{}, nil
	}
	data, err := resp.Bytes()
	if err != nil {
		return nil, audio.Format{}, err
	}
	return data, resp.Format, nil
}

func (o *Orchestrator) skipped(ctx context.Context, reason string) {
	if o.obs != nil {
		o.obs.ChunkSkipped(ctx, reason)
	}
}

// IsCancelled reports whether err ends a speak loop because its context was
// cancelled rather than because something failed.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
