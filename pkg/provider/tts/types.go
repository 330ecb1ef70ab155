package tts

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/murmur/pkg/audio"
)

// Request is a single synthesis call.
type Request struct {
	// Input is the text to speak. Providers reject an empty Input.
	Input string

	// Voice is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	Voice string

	// Locale is the BCP 47 tag of the language the text should be spoken in.
	// Providers that cannot steer the language ignore it.
	Locale string
}

// ErrEmptyInput is returned by providers when Request.Input is empty.
var ErrEmptyInput = errors.New("tts: empty input")

// Response carries a synthesized audio payload. The payload is read lazily
// through Bytes so that providers can hand back a streaming HTTP body.
type Response struct {
	// Format describes the payload encoding, sample rate and channel count.
	Format audio.Format

	body io.ReadCloser
}

// NewResponse wraps body. The Response takes ownership and closes body once
// Bytes has been called.
func NewResponse(format audio.Format, body io.ReadCloser) *Response {
	return &Response{Format: format, body: body}
}

// NewBufferedResponse returns a Response over an in-memory payload.
func NewBufferedResponse(format audio.Format, data []byte) *Response {
	return NewResponse(format, io.NopCloser(bytes.NewReader(data)))
}

// Bytes reads the full audio payload. It may be called only once.
func (r *Response) Bytes() ([]byte, error) {
	if r == nil || r.body == nil {
		return nil, nil
	}
	body := r.body
	r.body = nil
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("tts: read audio: %w", err)
	}
	return data, nil
}

// Close releases the payload without reading it.
func (r *Response) Close() error {
	if r == nil || r.body == nil {
		return nil
	}
	body := r.body
	r.body = nil
	return body.Close()
}

// VoiceProfile describes a voice offered by a provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider"`

	// Locales lists the BCP 47 tags the voice is known to speak. Empty means
	// unknown or multilingual.
	Locales []string `json:"locales,omitempty"`

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string `json:"metadata,omitempty"`
}
