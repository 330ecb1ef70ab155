package speech_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
	audiomock "github.com/MrWong99/murmur/pkg/audio/mock"
	"github.com/MrWong99/murmur/pkg/message"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	ttsmock "github.com/MrWong99/murmur/pkg/provider/tts/mock"
	"github.com/MrWong99/murmur/pkg/speech"
)

// eventLog records synthesis and playback events in the order they occur.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// countingObserver counts chunk outcomes.
type countingObserver struct {
	mu      sync.Mutex
	played  int
	skipped map[string]int
}

func (o *countingObserver) ChunkPlayed(context.Context, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.played++
}

func (o *countingObserver) ChunkSkipped(_ context.Context, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.skipped == nil {
		o.skipped = map[string]int{}
	}
	o.skipped[reason]++
}

const threeSentences = "Alpha one. Bravo two. Charlie three."

func audioFor(inputs ...string) map[string][]byte {
	m := make(map[string][]byte, len(inputs))
	for _, in := range inputs {
		m[in] = []byte("pcm:" + in)
	}
	return m
}

func TestSpeak_StrictOrder(t *testing.T) {
	var log eventLog
	prov := &ttsmock.Provider{
		Audio:        audioFor("Alpha one.", "Bravo two.", "Charlie three."),
		OnSynthesize: func(req tts.Request) { log.add("synth:" + req.Input) },
	}
	player := &audiomock.Player{
		OnPlay: func(c audio.Clip) { log.add("play:" + strings.TrimPrefix(string(c.Data), "pcm:")) },
	}
	o := speech.New(prov, player, speech.WithMinLength(1))

	err := o.Speak(context.Background(), speech.Request{Key: "m1", Content: threeSentences, Locale: "en", TTSLocale: "en-US", Voice: "alloy"})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	want := []string{
		"synth:Alpha one.", "play:Alpha one.",
		"synth:Bravo two.", "play:Bravo two.",
		"synth:Charlie three.", "play:Charlie three.",
	}
	if got := log.get(); !slices.Equal(got, want) {
		t.Errorf("events = %q\nwant     %q", got, want)
	}

	for i, c := range player.Clips() {
		if c.Key != "m1" || c.Seq != i {
			t.Errorf("clip %d identity = %q/%d", i, c.Key, c.Seq)
		}
		if c.Format != ttsmock.Format {
			t.Errorf("clip %d format = %s", i, c.Format)
		}
	}
	for _, call := range prov.SynthesizeCalls {
		if call.Request.Voice != "alloy" || call.Request.Locale != "en-US" {
			t.Errorf("request = %+v, want voice alloy and locale en-US", call.Request)
		}
	}
}

func TestSpeak_PriorityReachesClips(t *testing.T) {
	prov := &ttsmock.Provider{Audio: audioFor("Alpha one.", "Bravo two.")}
	player := &audiomock.Player{}
	o := speech.New(prov, player, speech.WithMinLength(1))

	if err := o.Speak(context.Background(), speech.Request{Key: "urgent", Content: "Alpha one. Bravo two.", Locale: "en", Priority: 7}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	clips := player.Clips()
	if len(clips) != 2 {
		t.Fatalf("got %d clips, want 2", len(clips))
	}
	for _, c := range clips {
		if c.Priority != 7 {
			t.Errorf("clip %d priority = %d, want 7", c.Seq, c.Priority)
		}
	}
}

func TestSpeak_EmptyResponseSkipsChunk(t *testing.T) {
	prov := &ttsmock.Provider{
		Audio: audioFor("Alpha one.", "Bravo two.", "Charlie three."),
		Empty: map[string]bool{"Bravo two.": true},
	}
	player := &audiomock.Player{}
	obs := &countingObserver{}
	o := speech.New(prov, player, speech.WithMinLength(1), speech.WithObserver(obs))

	if err := o.Speak(context.Background(), speech.Request{Key: "m", Content: threeSentences, Locale: "en"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	want := []string{"pcm:Alpha one.", "pcm:Charlie three."}
	if got := player.Payloads(); !slices.Equal(got, want) {
		t.Errorf("played %q, want %q", got, want)
	}
	if obs.played != 2 || obs.skipped[speech.SkipEmpty] != 1 {
		t.Errorf("observer played=%d skipped=%v", obs.played, obs.skipped)
	}
}

func TestSpeak_SynthesisErrorSkipsChunk(t *testing.T) {
	prov := &ttsmock.Provider{
		Audio: audioFor("Alpha one.", "Bravo two.", "Charlie three."),
		Errs:  map[string]error{"Alpha one.": errors.New("rate limited")},
	}
	player := &audiomock.Player{}
	obs := &countingObserver{}
	o := speech.New(prov, player, speech.WithMinLength(1), speech.WithObserver(obs))

	if err := o.Speak(context.Background(), speech.Request{Content: threeSentences, Locale: "en"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	want := []string{"pcm:Bravo two.", "pcm:Charlie three."}
	if got := player.Payloads(); !slices.Equal(got, want) {
		t.Errorf("played %q, want %q", got, want)
	}
	if len(prov.SynthesizeCalls) != 3 {
		t.Errorf("synthesize calls = %d, want 3 (no retry)", len(prov.SynthesizeCalls))
	}
	if obs.skipped[speech.SkipError] != 1 {
		t.Errorf("observer skipped = %v", obs.skipped)
	}
}

func TestSpeak_PlayerErrorPropagates(t *testing.T) {
	prov := &ttsmock.Provider{DefaultAudio: []byte("pcm")}
	player := &audiomock.Player{PlayErr: audio.ErrClosed}
	o := speech.New(prov, player, speech.WithMinLength(1))

	err := o.Speak(context.Background(), speech.Request{Content: threeSentences, Locale: "en"})
	if !errors.Is(err, audio.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if len(prov.SynthesizeCalls) != 1 {
		t.Errorf("synthesize calls = %d, want 1", len(prov.SynthesizeCalls))
	}
}

func TestSpeak_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prov := &ttsmock.Provider{DefaultAudio: []byte("pcm")}
	player := &audiomock.Player{OnPlay: func(audio.Clip) { cancel() }}
	o := speech.New(prov, player, speech.WithMinLength(1))

	err := o.Speak(ctx, speech.Request{Content: threeSentences, Locale: "en"})
	if !speech.IsCancelled(err) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(player.Clips()) != 1 {
		t.Errorf("clips = %d, want 1", len(player.Clips()))
	}
}

func TestSpeak_EmptyContent(t *testing.T) {
	prov := &ttsmock.Provider{DefaultAudio: []byte("pcm")}
	o := speech.New(prov, &audiomock.Player{})
	if err := o.Speak(context.Background(), speech.Request{Content: "   "}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(prov.SynthesizeCalls) != 0 {
		t.Errorf("synthesize calls = %d, want 0", len(prov.SynthesizeCalls))
	}
}

func TestChunks_DefaultThreshold(t *testing.T) {
	o := speech.New(&ttsmock.Provider{}, &audiomock.Player{})
	long := strings.Repeat("This sentence has some words in it. ", 8)
	chunks, err := o.Chunks(long, "en")
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("chunks = %q, expected the text to be split", chunks)
	}
	for _, c := range chunks[:len(chunks)-1] {
		if n := len([]rune(c)); n > speech.SpeakMinLength {
			t.Errorf("chunk %q has %d runes, want at most %d", c, n, speech.SpeakMinLength)
		}
	}
}

func TestSpeakMessage_UsesLastTextPart(t *testing.T) {
	prov := &ttsmock.Provider{DefaultAudio: []byte("pcm")}
	player := &audiomock.Player{}
	o := speech.New(prov, player)

	msg := message.Message{
		ID:    "m9",
		Parts: []message.Part{message.TextPart{Text: "draft"}, message.TextPart{Text: "final answer"}},
	}
	if err := o.SpeakMessage(context.Background(), msg, "en", "en", "v"); err != nil {
		t.Fatalf("SpeakMessage: %v", err)
	}
	if got := prov.Inputs(); !slices.Equal(got, []string{"final answer"}) {
		t.Errorf("inputs = %q, want [final answer]", got)
	}
	if clips := player.Clips(); len(clips) != 1 || clips[0].Key != "m9" {
		t.Errorf("clips = %+v", clips)
	}
}
