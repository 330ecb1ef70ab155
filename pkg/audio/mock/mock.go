// Package mock provides an in-memory mock implementation of [audio.Player]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every submitted clip so
// that tests can assert on order and content, and it exposes exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	p := &mock.Player{}
//	_ = p.Play(ctx, audio.Clip{Data: []byte("pcm")})
//	clips := p.Clips()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/audio"
)

// Player is a mock implementation of [audio.Player] and [audio.Stopper].
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by every Play call. The clip is still
	// recorded.
	PlayErr error

	// OnPlay, if set, is invoked with each clip before Play returns.
	OnPlay func(clip audio.Clip)

	clips   []audio.Clip
	stopped []string
}

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, clip audio.Clip) error {
	p.mu.Lock()
	p.clips = append(p.clips, clip)
	hook, err := p.OnPlay, p.PlayErr
	p.mu.Unlock()
	if hook != nil {
		hook(clip)
	}
	return err
}

// Stop implements [audio.Stopper] by recording key.
func (p *Player) Stop(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = append(p.stopped, key)
}

// Clips returns a copy of every clip submitted so far, in order.
func (p *Player) Clips() []audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.Clip, len(p.clips))
	copy(out, p.clips)
	return out
}

// Payloads returns the Data of every clip as strings, in order.
func (p *Player) Payloads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.clips))
	for i, c := range p.clips {
		out[i] = string(c.Data)
	}
	return out
}

// Stopped returns the keys passed to Stop, in order.
func (p *Player) Stopped() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.stopped))
	copy(out, p.stopped)
	return out
}

// Reset clears all recorded calls.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clips = nil
	p.stopped = nil
}

var (
	_ audio.Player  = (*Player)(nil)
	_ audio.Stopper = (*Player)(nil)
)
