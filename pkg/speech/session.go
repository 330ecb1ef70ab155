package speech

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/murmur/pkg/audio"
)

// Session runs speak invocations in the background with a cancel-and-restart
// policy per key: starting a new invocation for a key cancels the one in
// flight, discards its queued audio and waits for its loop to exit before the
// new loop begins. Invocations for different keys run independently.
//
// Session is safe for concurrent use.
type Session struct {
	o       *Orchestrator
	stopper audio.Stopper // nil if the player cannot drop queued audio

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession returns a Session over o. If o's player implements
// [audio.Stopper], restarts and Stop also discard queued audio.
func NewSession(o *Orchestrator) *Session {
	base, cancel := context.WithCancel(context.Background())
	s := &Session{
		o:      o,
		base:   base,
		cancel: cancel,
		runs:   make(map[string]*run),
	}
	s.stopper, _ = o.player.(audio.Stopper)
	return s
}

// Start launches req in the background and returns a channel that receives
// the loop's result exactly once. A superseded invocation reports
// context.Canceled.
func (s *Session) Start(req Request) <-chan error {
	errc := make(chan error, 1)

	s.mu.Lock()
	if s.base.Err() != nil {
		s.mu.Unlock()
		errc <- s.base.Err()
		return errc
	}
	prev := s.runs[req.Key]
	ctx, cancel := context.WithCancel(s.base)
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.runs[req.Key] = r
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	go func() {
		defer s.wg.Done()
		defer close(r.done)
		defer cancel()

		if prev != nil {
			<-prev.done
			if s.stopper != nil {
				s.stopper.Stop(req.Key)
			}
		}

		err := s.o.Speak(ctx, req)

		s.mu.Lock()
		if s.runs[req.Key] == r {
			delete(s.runs, req.Key)
		}
		s.mu.Unlock()

		if err != nil && !IsCancelled(err) {
			slog.Error("speech: speak failed", "key", req.Key, "err", err)
		}
		errc <- err
	}()
	return errc
}

// Stop cancels the invocation running for key and discards its queued audio.
// It reports whether an invocation was running.
func (s *Session) Stop(key string) bool {
	s.mu.Lock()
	r, ok := s.runs[key]
	delete(s.runs, key)
	s.mu.Unlock()

	if !ok {
		return false
	}
	r.cancel()
	<-r.done
	if s.stopper != nil {
		s.stopper.Stop(key)
	}
	return true
}

// Active returns the number of invocations in flight.
func (s *Session) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Close cancels every invocation and waits for their loops to exit.
func (s *Session) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
