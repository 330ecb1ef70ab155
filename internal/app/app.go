// Package app wires all murmur subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API and follows config changes, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithPlayer,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/copytarget"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/httpapi"
	"github.com/MrWong99/murmur/internal/i18n"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/internal/store"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/audio/stream"
	"github.com/MrWong99/murmur/pkg/markup"
	"github.com/MrWong99/murmur/pkg/message"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/speech"
)

// OutputFormat is the PCM format the server mixes speech into before it
// reaches a file sink.
var OutputFormat = audio.Format{Encoding: audio.EncodingPCM16, SampleRate: 24000, Channels: 1}

// DefaultMaxScopes bounds the number of rendered messages that keep live copy
// bindings. The oldest scope is released first.
const DefaultMaxScopes = 512

// shutdownTimeout bounds the graceful HTTP shutdown in Run.
const shutdownTimeout = 10 * time.Second

// ErrNoTTS is returned by speech operations when no TTS provider is configured.
var ErrNoTTS = fmt.Errorf("app: no tts provider configured: %w", httpapi.ErrUnavailable)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via [BuildTTS].
type Providers struct {
	TTS tts.Provider

	// TTSStatus reports the breaker state of every TTS backend. Optional.
	TTSStatus func() []resilience.EntryStatus
}

// gapSetter is implemented by players whose inter-clip gap can change at
// runtime.
type gapSetter interface {
	SetGap(time.Duration)
}

var _ httpapi.Service = (*App)(nil)

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar
	catalog   *i18n.Catalog
	factory   *markup.Factory
	player    audio.Player
	copies    *copytarget.Registry
	store     store.Store
	storePing func(context.Context) error
	watcher   *config.Watcher
	listener  net.Listener

	watchPath     string
	watchInterval time.Duration
	maxScopes     int

	mu      sync.RWMutex
	cfg     *config.Config
	session *speech.Session // nil without TTS

	scopeMu    sync.Mutex
	scopes     map[string]*copytarget.Scope
	scopeOrder []string

	speaking sync.WaitGroup

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a message store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPlayer injects an audio player instead of creating a stream player
// over the configured sink.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads adjust the process log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithCatalog replaces the built-in label catalog.
func WithCatalog(c *i18n.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithConfigWatch makes Run poll path for config changes every interval
// (zero means the watcher default).
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// WithListener makes Run serve on l instead of listening on the configured
// address.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithMaxScopes overrides [DefaultMaxScopes].
func WithMaxScopes(n int) Option {
	return func(a *App) {
		if n > 0 {
			a.maxScopes = n
		}
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already
// carry defaults (see [config.Load]).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		copies:    copytarget.NewRegistry(),
		scopes:    make(map[string]*copytarget.Scope),
		maxScopes: DefaultMaxScopes,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.catalog == nil {
		a.catalog = i18n.Default()
	}

	// ── 1. Renderer factory ──────────────────────────────────────────────
	a.factory = markup.NewFactory(RenderOptions(cfg.Render), markup.ChromaLanguages{}, a.catalog.Localizer)

	// ── 2. Message store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Audio output ──────────────────────────────────────────────────
	if err := a.initPlayer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 4. Speech session ────────────────────────────────────────────────
	if providers.TTS != nil {
		a.session = a.newSession(cfg.Speech)
	} else {
		slog.Warn("no TTS provider configured, speech disabled")
	}

	// ── 5. Config watcher ────────────────────────────────────────────────
	if a.watchPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.watchPath, a.ApplyConfig, wopts...)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init watcher: %w", err)
		}
		a.watcher = w
	}

	slog.Info("app initialised",
		"locale", cfg.Locale,
		"sink", cfg.Audio.Sink,
		"speech", a.session != nil,
		"store", cfg.Store.PostgresDSN != "",
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// RenderOptions maps the render config onto markup options.
func RenderOptions(rc config.RenderConfig) markup.Options {
	opts := markup.DefaultOptions()
	if rc.HighlightStyle != "" {
		opts.HighlightStyle = rc.HighlightStyle
	}
	opts.Linkify = rc.LinkifyEnabled()
	opts.HardWraps = rc.HardWrapsEnabled()
	return opts
}

// initStore connects the PostgreSQL message store or falls back to memory.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.store = store.NewMemStore()
		return nil
	}
	s, pool, err := store.Open(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = s
	a.storePing = pool.Ping
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// initPlayer creates the stream player over the configured sink unless a
// player was injected.
func (a *App) initPlayer() error {
	if a.player != nil {
		return nil
	}
	sink, err := OpenSink(a.cfg.Audio.Sink)
	if err != nil {
		return err
	}
	opts := []stream.Option{stream.WithGap(ClipGap(a.cfg.Speech))}
	if _, ok := sink.(*audio.WAVFileSink); ok {
		opts = append(opts, stream.WithOutputFormat(OutputFormat), stream.WithSilenceFill())
	}
	p := stream.New(sink, opts...)
	a.player = p
	a.closers = append(a.closers, p.Close)
	return nil
}

// OpenSink returns the sink for name: "discard" or a WAV file path.
func OpenSink(name string) (audio.Sink, error) {
	if name == "" || name == config.DefaultSink {
		return audio.Discard, nil
	}
	return audio.NewWAVFileSink(name, OutputFormat)
}

// ClipGap returns the configured inter-clip gap, mapping zero to the player
// default.
func ClipGap(sc config.SpeechConfig) time.Duration {
	if sc.Gap == 0 {
		return stream.DefaultGap
	}
	return sc.Gap
}

func (a *App) newSession(sc config.SpeechConfig) *speech.Session {
	o := speech.New(a.providers.TTS, a.player,
		speech.WithMinLength(sc.ChunkMinLength),
		speech.WithObserver(observe.SpeechObserver{M: a.metrics}),
	)
	return speech.NewSession(o)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Checkers returns the readiness checks for the configured dependencies.
func (a *App) Checkers() []health.Checker {
	var cs []health.Checker
	if a.providers.TTS != nil {
		cs = append(cs, health.TTSChecker("tts", a.providers.TTS))
	}
	if a.providers.TTSStatus != nil {
		cs = append(cs, health.BreakerChecker("tts_breakers", a.providers.TTSStatus))
	}
	if a.cfg.Store.PostgresDSN != "" {
		cs = append(cs, health.PingChecker("store", a.storePing))
	}
	return cs
}

// Handler returns the HTTP API for this app.
func (a *App) Handler() http.Handler {
	return httpapi.New(a, a.metrics, health.New(a.Checkers()...))
}

// ─── Render ──────────────────────────────────────────────────────────────────

// Render assembles msg into markup for the active locale and binds its copy
// targets. A message without an ID is given one. Rendering the same message
// twice in the same locale returns the existing binding with Changed false.
func (a *App) Render(ctx context.Context, msg message.Message) (httpapi.RenderResult, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	locale := a.Config().Locale

	ctx, span := observe.StartSpan(ctx, "app.Render")
	defer span.End()

	start := time.Now()
	html, err := message.NewAssembler(a.factory.ForLocale(locale)).Assemble(msg)
	a.metrics.RecordRender(ctx, locale, time.Since(start).Seconds())
	if err != nil {
		return httpapi.RenderResult{}, fmt.Errorf("app: render %q: %w", msg.ID, err)
	}

	scope := a.scope(ctx, msg.ID)
	annotated, changed, err := scope.Update(locale+"\x00"+message.Fingerprint(msg), html)
	if err != nil {
		return httpapi.RenderResult{}, fmt.Errorf("app: bind copy targets %q: %w", msg.ID, err)
	}
	return httpapi.RenderResult{
		ID:      msg.ID,
		Locale:  locale,
		Markup:  annotated,
		Targets: scope.Targets(),
		Changed: changed,
	}, nil
}

// RenderStored renders the stored message with the given id.
func (a *App) RenderStored(ctx context.Context, id string) (httpapi.RenderResult, error) {
	msg, err := a.store.Get(ctx, id)
	if err != nil {
		return httpapi.RenderResult{}, err
	}
	return a.Render(ctx, msg)
}

// RecentMessages lists the ids of up to limit stored messages, newest first.
func (a *App) RecentMessages(ctx context.Context, limit int) ([]string, error) {
	return a.store.Recent(ctx, limit)
}

// scope returns the copy scope for id and marks it most recently used. A new
// scope evicts the least recently rendered one when the bound is reached.
func (a *App) scope(ctx context.Context, id string) *copytarget.Scope {
	a.scopeMu.Lock()
	defer a.scopeMu.Unlock()
	if s, ok := a.scopes[id]; ok {
		a.dropOrderLocked(id)
		a.scopeOrder = append(a.scopeOrder, id)
		return s
	}
	for len(a.scopeOrder) >= a.maxScopes {
		oldest := a.scopeOrder[0]
		a.scopeOrder = a.scopeOrder[1:]
		a.closeScopeLocked(ctx, oldest)
	}
	s := copytarget.NewScope(a.copies)
	a.scopes[id] = s
	a.scopeOrder = append(a.scopeOrder, id)
	a.metrics.ActiveCopyScopes.Add(ctx, 1)
	return s
}

func (a *App) closeScopeLocked(ctx context.Context, id string) bool {
	s, ok := a.scopes[id]
	if !ok {
		return false
	}
	s.Close()
	delete(a.scopes, id)
	a.metrics.ActiveCopyScopes.Add(ctx, -1)
	return true
}

// Release drops the copy binding of the rendered message id. It reports
// whether one existed.
func (a *App) Release(ctx context.Context, id string) bool {
	a.scopeMu.Lock()
	defer a.scopeMu.Unlock()
	if !a.closeScopeLocked(ctx, id) {
		return false
	}
	a.dropOrderLocked(id)
	return true
}

func (a *App) dropOrderLocked(id string) {
	for i, v := range a.scopeOrder {
		if v == id {
			a.scopeOrder = append(a.scopeOrder[:i], a.scopeOrder[i+1:]...)
			return
		}
	}
}

// ResolveCopy returns the raw text behind a copy trigger id.
func (a *App) ResolveCopy(triggerID string) (string, bool) {
	return a.copies.Resolve(triggerID)
}

// ─── Speech ──────────────────────────────────────────────────────────────────

// Speak starts reading msg aloud in the background, cancelling a previous
// invocation for the same message. Empty fields in opts fall back to the
// config. It returns the invocation key and a channel that receives the
// loop's result once.
func (a *App) Speak(ctx context.Context, msg message.Message, opts httpapi.SpeakOptions) (string, <-chan error, error) {
	a.mu.RLock()
	cfg, session := a.cfg, a.session
	a.mu.RUnlock()
	if session == nil {
		return "", nil, ErrNoTTS
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	req := speech.Request{
		Key:       msg.ID,
		Content:   message.SpeechText(msg),
		Locale:    firstNonEmpty(opts.Locale, cfg.Locale),
		TTSLocale: firstNonEmpty(opts.TTSLocale, cfg.TTSLocale()),
		Voice:     firstNonEmpty(opts.Voice, cfg.Speech.Voice),
		Priority:  opts.Priority,
	}
	observe.Logger(ctx).Info("speak requested", "key", req.Key, "voice", req.Voice, "tts_locale", req.TTSLocale, "priority", req.Priority)

	a.metrics.ActiveSpeakSessions.Add(ctx, 1)
	errc := session.Start(req)
	out := make(chan error, 1)
	a.speaking.Add(1)
	go func() {
		defer a.speaking.Done()
		err := <-errc
		a.metrics.ActiveSpeakSessions.Add(context.Background(), -1)
		out <- err
	}()
	return req.Key, out, nil
}

// StopSpeech cancels the invocation for key. It reports whether one was
// running.
func (a *App) StopSpeech(key string) bool {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return false
	}
	return session.Stop(key)
}

// Chunks returns the chunks text would be spoken in. minLength <= 0 uses
// the configured threshold and an empty locale the configured one.
func (a *App) Chunks(text, locale string, minLength int) ([]string, error) {
	cfg := a.Config()
	if minLength <= 0 {
		minLength = cfg.Speech.ChunkMinLength
	}
	plain, err := speech.NewExtractor(nil).Extract(text)
	if err != nil {
		return nil, fmt.Errorf("app: extract: %w", err)
	}
	return speech.Chunk(plain, firstNonEmpty(locale, cfg.Locale), minLength), nil
}

// Voices lists the voices of the active TTS backend.
func (a *App) Voices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if a.providers.TTS == nil {
		return nil, ErrNoTTS
	}
	return a.providers.TTS.ListVoices(ctx)
}

// ProviderStatus reports the TTS breaker states, or nil.
func (a *App) ProviderStatus() []resilience.EntryStatus {
	if a.providers.TTSStatus == nil {
		return nil
	}
	return a.providers.TTSStatus()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig is the [config.ChangeFunc] used by the watcher. It makes new
// current, rebuilds the renderer for a new locale, retunes the player and
// rebuilds the speech session when the chunk threshold changed.
func (a *App) ApplyConfig(old, new *config.Config, d config.ConfigDiff) {
	var retired *speech.Session

	a.mu.Lock()
	a.cfg = new
	if d.SpeechChanged && a.session != nil && old.Speech.ChunkMinLength != new.Speech.ChunkMinLength {
		retired = a.session
		a.session = a.newSession(new.Speech)
	}
	a.mu.Unlock()

	if d.LocaleChanged {
		a.factory.ForLocale(d.NewLocale)
		slog.Info("locale changed", "locale", d.NewLocale)
	}
	if d.SpeechChanged {
		if gs, ok := a.player.(gapSetter); ok {
			gs.SetGap(ClipGap(d.NewSpeech))
		}
		slog.Info("speech settings changed", "voice", d.NewSpeech.Voice, "chunk_min_length", d.NewSpeech.ChunkMinLength)
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that apply only after restart", "sections", d.RestartRequired)
	}

	// In-flight loops of the old session are cancelled.
	if retired != nil {
		retired.Close()
	}
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and, when configured, polls the config file. It
// blocks until ctx is cancelled or the server fails, then shuts the server
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln := a.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", cfg.Server.ListenAddr); err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running", "addr", ln.Addr().String())
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown cancels all speech, releases every copy binding and closes the
// player and store. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.mu.RLock()
		session := a.session
		a.mu.RUnlock()
		if session != nil {
			session.Close()
		}

		done := make(chan struct{})
		go func() {
			a.speaking.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		a.scopeMu.Lock()
		for id := range a.scopes {
			a.closeScopeLocked(ctx, id)
		}
		a.scopeOrder = nil
		a.scopeMu.Unlock()

		err = errors.Join(err, a.closeAll())
	})
	return err
}

// closeAll runs the closers in reverse order.
func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
