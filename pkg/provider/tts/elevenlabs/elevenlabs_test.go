package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

func mustNew(t *testing.T, opts ...Option) *Provider {
	t.Helper()
	p, err := New("test-key", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("k", WithOutputFormat("ulaw_8000")); err == nil {
		t.Error("expected error for unsupported output format")
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    audio.Format
		wantErr bool
	}{
		{in: "pcm_16000", want: audio.Format{Encoding: audio.EncodingPCM16, SampleRate: 16000, Channels: 1}},
		{in: "pcm_24000", want: audio.Format{Encoding: audio.EncodingPCM16, SampleRate: 24000, Channels: 1}},
		{in: "mp3_44100_128", want: audio.Format{Encoding: audio.EncodingMP3, SampleRate: 44100, Channels: 1}},
		{in: "pcm", wantErr: true},
		{in: "pcm_fast", wantErr: true},
		{in: "opus_48000", wantErr: true},
	}
	for _, tc := range tests {
		got, err := parseOutputFormat(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseOutputFormat(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("parseOutputFormat(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestLanguageCode(t *testing.T) {
	tests := map[string]string{"": "", "de-DE": "de", "pt-BR": "pt", "zh-Hans": "zh", "not a tag!": ""}
	for in, want := range tests {
		if got := languageCode(in); got != want {
			t.Errorf("languageCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSynthesize_HTTP(t *testing.T) {
	var (
		gotPath, gotKey, gotFormat string
		gotBody                    speechRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotFormat = r.URL.Query().Get("output_format")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("pcm-bytes"))
	}))
	defer srv.Close()

	p := mustNew(t, WithBaseURL(srv.URL), WithOutputFormat("pcm_24000"))
	resp, err := p.Synthesize(context.Background(), tts.Request{Input: "Hallo.", Voice: "v 1", Locale: "de-AT"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	data, err := resp.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(data) != "pcm-bytes" {
		t.Errorf("data = %q", data)
	}
	if resp.Format.SampleRate != 24000 || resp.Format.Encoding != audio.EncodingPCM16 {
		t.Errorf("format = %s", resp.Format)
	}
	if gotPath != "/v1/text-to-speech/v 1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" || gotFormat != "pcm_24000" {
		t.Errorf("key = %q format = %q", gotKey, gotFormat)
	}
	if gotBody.Text != "Hallo." || gotBody.ModelID != defaultModel || gotBody.LanguageCode != "de" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	p := mustNew(t, WithBaseURL(srv.URL), WithDefaultVoice("rachel"))
	resp, err := p.Synthesize(context.Background(), tts.Request{Input: "Hi."})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	_ = resp.Close()
	if gotPath != "/v1/text-to-speech/rachel" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"quota_exceeded"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	p := mustNew(t, WithBaseURL(srv.URL))

	if _, err := p.Synthesize(context.Background(), tts.Request{Voice: "v"}); !errors.Is(err, tts.ErrEmptyInput) {
		t.Errorf("empty input err = %v", err)
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{Input: "x"}); err == nil {
		t.Error("expected error without a voice")
	}
	_, err := p.Synthesize(context.Background(), tts.Request{Input: "x", Voice: "v"})
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "quota_exceeded") {
		t.Errorf("err = %v, want 401 with body", err)
	}
}

func TestStreamURL(t *testing.T) {
	p := mustNew(t, WithBaseURL("https://api.example.com/"))
	u := p.streamURL("voice-abc123", "fr-CA")
	if !strings.HasPrefix(u, "wss://api.example.com/v1/text-to-speech/voice-abc123/stream-input?") {
		t.Errorf("url = %q", u)
	}
	for _, want := range []string{"model_id=eleven_flash_v2_5", "output_format=pcm_16000", "language_code=fr"} {
		if !strings.Contains(u, want) {
			t.Errorf("url %q missing %q", u, want)
		}
	}
}

// streamServer emulates the stream-input endpoint: it collects text messages
// until the empty end-of-input marker, then answers with the given frames.
func streamServer(t *testing.T, frames []audioMessage, got *[]textMessage) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			*got = append(*got, m)
			if m.Text == "" {
				break
			}
		}
		for _, f := range frames {
			b, _ := json.Marshal(f)
			if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
}

func TestSynthesize_Stream(t *testing.T) {
	var got []textMessage
	frames := []audioMessage{
		{Audio: base64.StdEncoding.EncodeToString([]byte("abc"))},
		{Audio: base64.StdEncoding.EncodeToString([]byte("def"))},
		{IsFinal: true},
	}
	srv := streamServer(t, frames, &got)
	defer srv.Close()

	p := mustNew(t, WithBaseURL(srv.URL), WithStreaming(true))
	resp, err := p.Synthesize(context.Background(), tts.Request{Input: "Hello there.", Voice: "v"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	data, _ := resp.Bytes()
	if string(data) != "abcdef" {
		t.Errorf("data = %q, want abcdef", data)
	}
	if len(got) != 3 {
		t.Fatalf("server received %d messages, want 3", len(got))
	}
	if got[0].Text != " " || got[0].XiAPIKey != "test-key" || got[0].VoiceSettings == nil {
		t.Errorf("begin message = %+v", got[0])
	}
	if got[1].Text != "Hello there. " || got[1].VoiceSettings != nil {
		t.Errorf("text message = %+v", got[1])
	}
}

func TestSynthesize_StreamWithoutAudio(t *testing.T) {
	var got []textMessage
	srv := streamServer(t, []audioMessage{{IsFinal: true}}, &got)
	defer srv.Close()

	p := mustNew(t, WithBaseURL(srv.URL), WithStreaming(true))
	resp, err := p.Synthesize(context.Background(), tts.Request{Input: "...", Voice: "v"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if resp != nil {
		t.Errorf("resp = %+v, want nil", resp)
	}
}

func TestSynthesize_StreamError(t *testing.T) {
	var got []textMessage
	srv := streamServer(t, []audioMessage{{Error: "invalid_voice", Message: "voice not found"}}, &got)
	defer srv.Close()

	p := mustNew(t, WithBaseURL(srv.URL), WithStreaming(true))
	_, err := p.Synthesize(context.Background(), tts.Request{Input: "x", Voice: "nope"})
	if err == nil || !strings.Contains(err.Error(), "invalid_voice") {
		t.Errorf("err = %v, want invalid_voice", err)
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" || r.Header.Get("xi-api-key") != "test-key" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"abc123","name":"Rachel","category":"premade","labels":{"gender":"female"},
			 "verified_languages":[{"language":"en","locale":"en-US"},{"language":"de"}]},
			{"voice_id":"def456","name":"Adam","labels":{}}
		]}`))
	}))
	defer srv.Close()

	voices, err := mustNew(t, WithBaseURL(srv.URL)).ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("voices = %+v", voices)
	}
	rachel := voices[0]
	if rachel.ID != "abc123" || rachel.Provider != "elevenlabs" || rachel.Metadata["gender"] != "female" || rachel.Metadata["category"] != "premade" {
		t.Errorf("rachel = %+v", rachel)
	}
	if strings.Join(rachel.Locales, ",") != "en-US,de" {
		t.Errorf("rachel locales = %v", rachel.Locales)
	}
	if _, ok := voices[1].Metadata["category"]; ok {
		t.Error("adam should have no category")
	}
}

func TestListVoices_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()
	if _, err := mustNew(t, WithBaseURL(srv.URL)).ListVoices(context.Background()); err == nil {
		t.Error("expected decode error")
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	if _, err := mustNew(t, WithBaseURL(bad.URL)).ListVoices(context.Background()); err == nil {
		t.Error("expected status error")
	}
}
