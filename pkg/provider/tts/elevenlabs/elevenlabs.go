// Package elevenlabs provides an ElevenLabs-backed tts.Provider.
//
// By default each Synthesize call is one POST to /v1/text-to-speech/{voice}
// and the audio body is handed back unread, so the caller pulls it straight
// off the connection. WithStreaming switches to the stream-input WebSocket
// API, which returns base64 audio frames that are concatenated into one
// payload.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/text/language"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000",
// "pcm_24000", "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) {
		p.defaultVoice = id
	}
}

// WithBaseURL overrides the API origin. The WebSocket origin is derived from
// it by swapping the scheme.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithStreaming selects the stream-input WebSocket API instead of plain HTTP.
func WithStreaming(on bool) Option {
	return func(p *Provider) {
		p.streaming = on
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	defaultVoice string
	baseURL      string
	streaming    bool
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty and the
// output format must be a pcm_ or mp3_ format.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := parseOutputFormat(p.outputFormat); err != nil {
		return nil, err
	}
	return p, nil
}

// parseOutputFormat maps an ElevenLabs output_format name to an audio.Format.
// "pcm_24000" is 24 kHz PCM16 and "mp3_44100_128" is 44.1 kHz MP3. All
// ElevenLabs output is mono.
func parseOutputFormat(name string) (audio.Format, error) {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return audio.Format{}, fmt.Errorf("elevenlabs: unsupported output format %q", name)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return audio.Format{}, fmt.Errorf("elevenlabs: unsupported output format %q", name)
	}
	f := audio.Format{SampleRate: rate, Channels: 1}
	switch parts[0] {
	case "pcm":
		f.Encoding = audio.EncodingPCM16
	case "mp3":
		f.Encoding = audio.EncodingMP3
	default:
		return audio.Format{}, fmt.Errorf("elevenlabs: unsupported output format %q", name)
	}
	return f, nil
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

var defaultSettings = voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

// speechRequest is the JSON body of POST /v1/text-to-speech/{voice}.
type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize converts req.Input to speech. In HTTP mode the returned
// Response streams the body of the API response.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Response, error) {
	if req.Input == "" {
		return nil, tts.ErrEmptyInput
	}
	voice := req.Voice
	if voice == "" {
		voice = p.defaultVoice
	}
	if voice == "" {
		return nil, errors.New("elevenlabs: voice must not be empty")
	}
	format, _ := parseOutputFormat(p.outputFormat)
	if p.streaming {
		return p.synthesizeStream(ctx, voice, req, format)
	}
	return p.synthesizeHTTP(ctx, voice, req, format)
}

func (p *Provider) synthesizeHTTP(ctx context.Context, voice string, req tts.Request, format audio.Format) (*tts.Response, error) {
	body, err := json.Marshal(speechRequest{
		Text:          req.Input,
		ModelID:       p.model,
		LanguageCode:  languageCode(req.Locale),
		VoiceSettings: defaultSettings,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	u := p.baseURL + "/v1/text-to-speech/" + url.PathEscape(voice) + "?output_format=" + url.QueryEscape(p.outputFormat)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	hreq.Header.Set("xi-api-key", p.apiKey)
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesize HTTP: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs: synthesize: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return tts.NewResponse(format, resp.Body), nil
}

// textMessage is the JSON payload sent over the WebSocket for each text
// fragment. An empty Text flushes and ends the input.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// audioMessage is the JSON message received from ElevenLabs over the
// WebSocket.
type audioMessage struct {
	Audio   string `json:"audio"` // base64-encoded
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (p *Provider) streamURL(voice, locale string) string {
	base := p.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	if lc := languageCode(locale); lc != "" {
		q.Set("language_code", lc)
	}
	return base + "/v1/text-to-speech/" + url.PathEscape(voice) + "/stream-input?" + q.Encode()
}

// synthesizeStream sends the whole input as one fragment followed by the
// end-of-input marker and collects audio frames until the server reports the
// final one or closes the socket.
func (p *Provider) synthesizeStream(ctx context.Context, voice string, req tts.Request, format audio.Format) (*tts.Response, error) {
	conn, _, err := websocket.Dial(ctx, p.streamURL(voice, req.Locale), &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{"xi-api-key": []string{p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(8 << 20)

	// ElevenLabs requires a single space as the first text value.
	msgs := []textMessage{
		{Text: " ", VoiceSettings: &defaultSettings, XiAPIKey: p.apiKey},
		{Text: req.Input + " "},
		{Text: ""},
	}
	for _, m := range msgs {
		b, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: send text: %w", err)
		}
	}

	var pcm bytes.Buffer
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var msg audioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return nil, fmt.Errorf("elevenlabs: stream: %s: %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm.Write(chunk)
		}
		if msg.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if pcm.Len() == 0 {
		return nil, nil
	}
	return tts.NewBufferedResponse(format, pcm.Bytes()), nil
}

// languageCode returns the ISO 639-1 code for locale, or "" when locale is
// empty or unparseable.
func languageCode(locale string) string {
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID           string            `json:"voice_id"`
	Name              string            `json:"name"`
	Category          string            `json:"category"`
	Labels            map[string]string `json:"labels"`
	VerifiedLanguages []struct {
		Language string `json:"language"`
		Locale   string `json:"locale"`
	} `json:"verified_languages"`
}

// ListVoices returns all voices available for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices read: %w", err)
	}
	return parseVoicesResponse(data)
}

// parseVoicesResponse parses the body of GET /v1/voices.
func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		var locales []string
		for _, l := range v.VerifiedLanguages {
			switch {
			case l.Locale != "":
				locales = append(locales, l.Locale)
			case l.Language != "":
				locales = append(locales, l.Language)
			}
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Locales:  locales,
			Metadata: meta,
		})
	}
	return profiles, nil
}
