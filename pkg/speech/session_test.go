package speech_test

import (
	"context"
	"slices"
	"testing"
	"time"

	audiomock "github.com/MrWong99/murmur/pkg/audio/mock"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	ttsmock "github.com/MrWong99/murmur/pkg/provider/tts/mock"
	"github.com/MrWong99/murmur/pkg/speech"
)

// gatedProvider blocks every synthesis of Block until the call's context is
// cancelled; other inputs are served by the embedded mock.
type gatedProvider struct {
	*ttsmock.Provider
	Block   string
	entered chan struct{}
}

func (g *gatedProvider) Synthesize(ctx context.Context, req tts.Request) (*tts.Response, error) {
	if req.Input == g.Block {
		g.entered <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return g.Provider.Synthesize(ctx, req)
}

func await(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("speak loop did not finish")
		return nil
	}
}

func TestSession_RestartCancelsInFlight(t *testing.T) {
	prov := &gatedProvider{
		Provider: &ttsmock.Provider{DefaultAudio: []byte("pcm")},
		Block:    "Slow sentence.",
		entered:  make(chan struct{}, 1),
	}
	player := &audiomock.Player{}
	s := speech.NewSession(speech.New(prov, player, speech.WithMinLength(1)))
	defer s.Close()

	first := s.Start(speech.Request{Key: "m1", Content: "Slow sentence.", Locale: "en"})
	<-prov.entered
	if s.Active() != 1 {
		t.Fatalf("active = %d, want 1", s.Active())
	}

	second := s.Start(speech.Request{Key: "m1", Content: "Fresh text.", Locale: "en"})

	if err := await(t, first); !speech.IsCancelled(err) {
		t.Errorf("first err = %v, want context.Canceled", err)
	}
	if err := await(t, second); err != nil {
		t.Errorf("second err = %v", err)
	}
	if got := player.Stopped(); !slices.Equal(got, []string{"m1"}) {
		t.Errorf("stopped = %q, want [m1]", got)
	}
	if got := prov.Inputs(); !slices.Equal(got, []string{"Fresh text."}) {
		t.Errorf("inputs = %q", got)
	}
	if s.Active() != 0 {
		t.Errorf("active = %d after completion", s.Active())
	}
}

func TestSession_KeysAreIndependent(t *testing.T) {
	prov := &gatedProvider{
		Provider: &ttsmock.Provider{DefaultAudio: []byte("pcm")},
		Block:    "Slow sentence.",
		entered:  make(chan struct{}, 1),
	}
	player := &audiomock.Player{}
	s := speech.NewSession(speech.New(prov, player, speech.WithMinLength(1)))
	defer s.Close()

	slow := s.Start(speech.Request{Key: "a", Content: "Slow sentence.", Locale: "en"})
	<-prov.entered
	fast := s.Start(speech.Request{Key: "b", Content: "Quick one.", Locale: "en"})

	if err := await(t, fast); err != nil {
		t.Fatalf("fast err = %v", err)
	}
	if s.Active() != 1 {
		t.Errorf("active = %d, want the slow loop still running", s.Active())
	}
	if !s.Stop("a") {
		t.Error("Stop(a) = false, want true")
	}
	if err := await(t, slow); !speech.IsCancelled(err) {
		t.Errorf("slow err = %v, want context.Canceled", err)
	}
	if s.Stop("a") {
		t.Error("second Stop(a) = true, want false")
	}
}

func TestSession_CloseCancelsAll(t *testing.T) {
	prov := &gatedProvider{
		Provider: &ttsmock.Provider{},
		Block:    "Slow sentence.",
		entered:  make(chan struct{}, 1),
	}
	s := speech.NewSession(speech.New(prov, &audiomock.Player{}, speech.WithMinLength(1)))

	errc := s.Start(speech.Request{Key: "m", Content: "Slow sentence.", Locale: "en"})
	<-prov.entered
	s.Close()
	if err := await(t, errc); !speech.IsCancelled(err) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	after := s.Start(speech.Request{Key: "m", Content: "x", Locale: "en"})
	if err := await(t, after); err == nil {
		t.Error("Start after Close should fail")
	}
}
