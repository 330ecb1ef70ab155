package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/httpapi"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/store"
	audiomock "github.com/MrWong99/murmur/pkg/audio/mock"
	"github.com/MrWong99/murmur/pkg/message"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	ttsmock "github.com/MrWong99/murmur/pkg/provider/tts/mock"
	"github.com/MrWong99/murmur/pkg/speech"
)

// testConfig returns a defaulted config with a fixed voice.
func testConfig() *config.Config {
	cfg := config.Config{
		Locale: "en",
		Speech: config.SpeechConfig{Voice: "alloy", ChunkMinLength: 10},
	}.WithDefaults()
	return &cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	app    *app.App
	tts    *ttsmock.Provider
	player *audiomock.Player
	store  *store.MemStore
}

func newFixture(t *testing.T, cfg *config.Config, opts ...app.Option) *fixture {
	t.Helper()
	f := &fixture{
		tts:    &ttsmock.Provider{DefaultAudio: []byte("pcm")},
		player: &audiomock.Player{},
		store:  store.NewMemStore(),
	}
	opts = append([]app.Option{
		app.WithMetrics(testMetrics(t)),
		app.WithPlayer(f.player),
		app.WithStore(f.store),
	}, opts...)
	a, err := app.New(context.Background(), cfg, &app.Providers{TTS: f.tts}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	f.app = a
	return f
}

func textMessage(id, text string) message.Message {
	return message.Message{ID: id, Role: message.RoleModel, Parts: []message.Part{message.TextPart{Text: text}}}
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("speak did not finish within 5s")
		return nil
	}
}

func TestNew_WithoutTTS(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), nil,
		app.WithMetrics(testMetrics(t)),
		app.WithPlayer(&audiomock.Player{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if _, _, err := a.Speak(context.Background(), textMessage("m1", "Hi."), httpapi.SpeakOptions{}); !errors.Is(err, httpapi.ErrUnavailable) {
		t.Errorf("Speak err = %v, want ErrUnavailable", err)
	}
	if _, err := a.Voices(context.Background()); !errors.Is(err, app.ErrNoTTS) {
		t.Errorf("Voices err = %v, want ErrNoTTS", err)
	}
	if a.StopSpeech("m1") {
		t.Error("StopSpeech without TTS should report false")
	}
	if got := len(a.Checkers()); got != 0 {
		t.Errorf("checkers = %d, want 0", got)
	}
}

func TestNew_DiscardSink(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), &app.Providers{TTS: &ttsmock.Provider{DefaultAudio: []byte{0, 0}}},
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, done, err := a.Speak(context.Background(), textMessage("m1", "Hello there."), httpapi.SpeakOptions{})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if err := waitResult(t, done); err != nil {
		t.Errorf("speak result = %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestNew_BadSinkPath(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Audio.Sink = t.TempDir() + "/missing/dir/out.wav"
	if _, err := app.New(context.Background(), cfg, nil, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for an uncreatable sink")
	}
}

func TestOpenSink(t *testing.T) {
	t.Parallel()

	s, err := app.OpenSink("discard")
	if err != nil || s == nil {
		t.Fatalf("OpenSink(discard) = %v, %v", s, err)
	}
	path := t.TempDir() + "/out.wav"
	s, err = app.OpenSink(path)
	if err != nil {
		t.Fatalf("OpenSink(file): %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestRender_BindsCopyTargets(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	ctx := context.Background()

	msg := textMessage("m1", "Run this:\n\n```go\nfmt.Println(1)\n```\n")
	res, err := f.app.Render(ctx, msg)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.ID != "m1" || res.Locale != "en" || !res.Changed {
		t.Errorf("result = %+v", res)
	}
	if len(res.Targets) != 1 || !strings.Contains(res.Targets[0].Text, "fmt.Println(1)") {
		t.Fatalf("targets = %+v", res.Targets)
	}
	trigger := res.Targets[0].TriggerID
	if !strings.Contains(res.Markup, trigger) {
		t.Error("markup should carry the trigger id")
	}
	if text, ok := f.app.ResolveCopy(trigger); !ok || text != res.Targets[0].Text {
		t.Errorf("ResolveCopy = %q, %v", text, ok)
	}

	again, err := f.app.Render(ctx, msg)
	if err != nil {
		t.Fatalf("second Render: %v", err)
	}
	if again.Changed || again.Targets[0].TriggerID != trigger {
		t.Errorf("unchanged message should keep its binding: %+v", again)
	}

	if !f.app.Release(ctx, "m1") {
		t.Fatal("Release should report an existing scope")
	}
	if _, ok := f.app.ResolveCopy(trigger); ok {
		t.Error("released trigger still resolves")
	}
	if f.app.Release(ctx, "m1") {
		t.Error("second Release should report false")
	}
}

func TestRender_AssignsMissingID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	res, err := f.app.Render(context.Background(), message.Message{Parts: []message.Part{message.TextPart{Text: "hi"}}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.ID == "" {
		t.Error("rendered message should be given an id")
	}
}

func TestRender_LocaleChangeRebinds(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	f := newFixture(t, cfg)
	ctx := context.Background()
	msg := textMessage("m1", "```\nx\n```")

	first, err := f.app.Render(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}

	next := *cfg
	next.Locale = "de"
	f.app.ApplyConfig(cfg, &next, config.Diff(cfg, &next))

	second, err := f.app.Render(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Changed || second.Locale != "de" {
		t.Errorf("locale change should re-render: %+v", second)
	}
	if !strings.Contains(second.Markup, ">kopieren</button>") {
		t.Errorf("markup not localized: %s", second.Markup)
	}
	if _, ok := f.app.ResolveCopy(first.Targets[0].TriggerID); ok {
		t.Error("old trigger should be released after re-render")
	}
}

func TestRender_EvictsOldestScope(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), app.WithMaxScopes(2))
	ctx := context.Background()

	var triggers []string
	for _, id := range []string{"a", "b", "c"} {
		res, err := f.app.Render(ctx, textMessage(id, "$x_"+id+"$"))
		if err != nil {
			t.Fatalf("Render(%s): %v", id, err)
		}
		if len(res.Targets) != 1 {
			t.Fatalf("Render(%s) targets = %+v", id, res.Targets)
		}
		triggers = append(triggers, res.Targets[0].TriggerID)
	}
	if _, ok := f.app.ResolveCopy(triggers[0]); ok {
		t.Error("oldest scope should have been evicted")
	}
	for _, tr := range triggers[1:] {
		if _, ok := f.app.ResolveCopy(tr); !ok {
			t.Errorf("trigger %s should still resolve", tr)
		}
	}
}

func TestRender_RerenderKeepsScopeAlive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), app.WithMaxScopes(2))
	ctx := context.Background()

	render := func(id string) string {
		t.Helper()
		res, err := f.app.Render(ctx, textMessage(id, "$x_"+id+"$"))
		if err != nil {
			t.Fatalf("Render(%s): %v", id, err)
		}
		if len(res.Targets) != 1 {
			t.Fatalf("Render(%s) targets = %+v", id, res.Targets)
		}
		return res.Targets[0].TriggerID
	}

	a := render("a")
	b := render("b")
	if again := render("a"); again != a {
		t.Fatalf("unchanged re-render rebound trigger %s -> %s", a, again)
	}
	c := render("c")

	if _, ok := f.app.ResolveCopy(b); ok {
		t.Error("least recently rendered scope b should have been evicted")
	}
	for _, tr := range []string{a, c} {
		if _, ok := f.app.ResolveCopy(tr); !ok {
			t.Errorf("trigger %s should still resolve", tr)
		}
	}
}

func TestRenderStored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.store.Put(textMessage("s1", "**bold**"))
	f.store.Put(textMessage("s2", "plain"))
	ctx := context.Background()

	res, err := f.app.RenderStored(ctx, "s1")
	if err != nil {
		t.Fatalf("RenderStored: %v", err)
	}
	if !strings.Contains(res.Markup, "<strong>bold</strong>") {
		t.Errorf("markup = %s", res.Markup)
	}
	if _, err := f.app.RenderStored(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	ids, err := f.app.RecentMessages(ctx, 10)
	if err != nil || len(ids) != 2 || ids[0] != "s2" {
		t.Errorf("RecentMessages = %q, %v", ids, err)
	}
}

func TestSpeak_UsesConfigDefaults(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	key, done, err := f.app.Speak(context.Background(), textMessage("m1", "First sentence here. Second sentence here."), httpapi.SpeakOptions{})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if key != "m1" {
		t.Errorf("key = %q, want m1", key)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("speak result = %v", err)
	}

	calls := f.tts.SynthesizeCalls
	if len(calls) != 2 {
		t.Fatalf("synthesize calls = %d, want 2", len(calls))
	}
	for _, c := range calls {
		if c.Request.Voice != "alloy" || c.Request.Locale != "en" {
			t.Errorf("request = %+v", c.Request)
		}
	}
	clips := f.player.Clips()
	if len(clips) != 2 || clips[0].Key != "m1" || clips[0].Seq != 0 || clips[1].Seq != 1 {
		t.Errorf("clips = %+v", clips)
	}
}

func TestSpeak_OptionsOverride(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Speech.TTSLocale = "en-GB"
	f := newFixture(t, cfg)

	_, done, err := f.app.Speak(context.Background(), textMessage("", "Guten Tag."), httpapi.SpeakOptions{
		Voice:    "nova",
		Locale:   "de",
		Priority: 3,
	})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatal(err)
	}
	req := f.tts.SynthesizeCalls[0].Request
	if req.Voice != "nova" || req.Locale != "en-GB" {
		t.Errorf("request = %+v", req)
	}
	if clips := f.player.Clips(); len(clips) != 1 || clips[0].Key == "" || clips[0].Priority != 3 {
		t.Errorf("clips = %+v", clips)
	}
}

func TestSpeak_RestartCancelsPrevious(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	release := make(chan struct{})
	var once bool
	f.tts.OnSynthesize = func(tts.Request) {
		if !once {
			once = true
			<-release
		}
	}

	_, first, err := f.app.Speak(context.Background(), textMessage("m1", "Long first text here."), httpapi.SpeakOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// Let the first loop block inside synthesis.
	time.Sleep(20 * time.Millisecond)
	_, second, err := f.app.Speak(context.Background(), textMessage("m1", "Replacement text."), httpapi.SpeakOptions{})
	if err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := waitResult(t, first); !speech.IsCancelled(err) {
		t.Errorf("first result = %v, want cancellation", err)
	}
	if err := waitResult(t, second); err != nil {
		t.Errorf("second result = %v", err)
	}
}

func TestStopSpeech_NothingRunning(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	if f.app.StopSpeech("m1") {
		t.Error("StopSpeech should report false when nothing runs")
	}
}

func TestChunks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	tests := []struct {
		name      string
		text      string
		minLength int
		want      int
	}{
		{"config threshold merges short sentences", "Hi. Yes. This sentence is long enough.", 0, 2},
		{"zero-ish threshold keeps sentences", "Hi. Yes. Okay.", 1, 3},
		{"large threshold merges all", "Hi. Yes. Okay.", 1000, 1},
		{"markup is stripped", "**Bold.** `code`", 1, 2},
		{"empty text", "   ", 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			chunks, err := f.app.Chunks(tc.text, "", tc.minLength)
			if err != nil {
				t.Fatalf("Chunks: %v", err)
			}
			if len(chunks) != tc.want {
				t.Errorf("chunks = %q, want %d", chunks, tc.want)
			}
			for _, c := range chunks {
				if strings.ContainsAny(c, "*`<>") {
					t.Errorf("chunk %q carries markup", c)
				}
			}
		})
	}
}

func TestVoices(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.tts.ListVoicesResult = []tts.VoiceProfile{{ID: "alloy", Name: "Alloy"}}

	voices, err := f.app.Voices(context.Background())
	if err != nil || len(voices) != 1 || voices[0].ID != "alloy" {
		t.Errorf("Voices = %+v, %v", voices, err)
	}
	if f.app.ProviderStatus() != nil {
		t.Error("status should be nil without a fallback group")
	}
}

func TestApplyConfig_LogLevelAndSpeech(t *testing.T) {
	t.Parallel()
	var lv slog.LevelVar
	cfg := testConfig()
	f := newFixture(t, cfg, app.WithLevelVar(&lv))

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Speech.Voice = "echo"
	next.Speech.ChunkMinLength = 500
	f.app.ApplyConfig(cfg, &next, config.Diff(cfg, &next))

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if f.app.Config() != &next {
		t.Error("Config should return the applied config")
	}

	_, done, err := f.app.Speak(context.Background(), textMessage("m1", "One. Two. Three."), httpapi.SpeakOptions{})
	if err != nil {
		t.Fatalf("Speak after reload: %v", err)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatal(err)
	}
	calls := f.tts.SynthesizeCalls
	if len(calls) != 1 || calls[0].Request.Voice != "echo" {
		t.Errorf("calls = %+v, want one merged chunk with voice echo", calls)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := newFixture(t, testConfig(), app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.app.Run(ctx)
	}()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := f.app.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}
