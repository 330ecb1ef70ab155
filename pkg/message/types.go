// Package message defines the chat message model consumed by the rendering
// and speech pipelines, and assembles a message's parts into display markup.
//
// Messages are read-only inputs. Nothing in this package persists them; the
// storage layer belongs to the caller.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role identifies the author of a [Message].
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleModel
}

// Message is a single chat message. Parts are ordered; their order is
// authoritative for both display and speech.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Parts       []Part       `json:"parts"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is file metadata referenced by [FileRefPart] values.
type Attachment struct {
	// URI is the identifier matched against FileRefPart.URI.
	URI string `json:"uri"`

	// MIMEType is the attachment's content type (e.g. "image/png").
	MIMEType string `json:"mime_type"`

	// Name is an optional display name.
	Name string `json:"name,omitempty"`

	// Preview is an image source usable in an <img> tag. Only meaningful for
	// image attachments.
	Preview string `json:"preview,omitempty"`
}

// PartType is the JSON discriminator for [Part] values.
type PartType string

const (
	PartText       PartType = "text"
	PartInlineData PartType = "inline_data"
	PartFileRef    PartType = "file_ref"
)

// Part is one segment of a message's content. The set of implementations is
// closed: [TextPart], [InlineDataPart] and [FileRefPart].
type Part interface {
	// Type returns the part's discriminator.
	Type() PartType
	isPart()
}

// TextPart carries raw markdown text. An empty Text signals that the model
// is still generating.
type TextPart struct {
	Text string
}

// InlineDataPart carries a base64-encoded binary payload.
type InlineDataPart struct {
	MIMEType string
	Data     string
}

// FileRefPart references an [Attachment] by URI.
type FileRefPart struct {
	MIMEType string
	URI      string
}

func (TextPart) Type() PartType       { return PartText }
func (InlineDataPart) Type() PartType { return PartInlineData }
func (FileRefPart) Type() PartType    { return PartFileRef }

func (TextPart) isPart()       {}
func (InlineDataPart) isPart() {}
func (FileRefPart) isPart()    {}

// IsImage reports whether mime denotes an image type.
func IsImage(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

// ErrUnknownPartType is returned when decoding a part with an unrecognised
// type discriminator.
var ErrUnknownPartType = errors.New("message: unknown part type")

// wirePart is the JSON shape shared by all part types.
type wirePart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	MIMEType string   `json:"mime_type,omitempty"`
	Data     string   `json:"data,omitempty"`
	URI      string   `json:"uri,omitempty"`
}

// UnmarshalJSON decodes a message whose parts carry a "type" discriminator.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string       `json:"id"`
		Role        Role         `json:"role"`
		Parts       []wirePart   `json:"parts"`
		Attachments []Attachment `json:"attachments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parts := make([]Part, 0, len(raw.Parts))
	for i, wp := range raw.Parts {
		p, err := wp.toPart()
		if err != nil {
			return fmt.Errorf("parts[%d]: %w", i, err)
		}
		parts = append(parts, p)
	}
	m.ID = raw.ID
	m.Role = raw.Role
	m.Parts = parts
	m.Attachments = raw.Attachments
	return nil
}

// MarshalJSON encodes parts with their "type" discriminator.
func (m Message) MarshalJSON() ([]byte, error) {
	parts := make([]wirePart, len(m.Parts))
	for i, p := range m.Parts {
		parts[i] = fromPart(p)
	}
	return json.Marshal(struct {
		ID          string       `json:"id"`
		Role        Role         `json:"role"`
		Parts       []wirePart   `json:"parts"`
		Attachments []Attachment `json:"attachments,omitempty"`
	}{m.ID, m.Role, parts, m.Attachments})
}

func (wp wirePart) toPart() (Part, error) {
	switch wp.Type {
	case PartText:
		return TextPart{Text: wp.Text}, nil
	case PartInlineData:
		return InlineDataPart{MIMEType: wp.MIMEType, Data: wp.Data}, nil
	case PartFileRef:
		return FileRefPart{MIMEType: wp.MIMEType, URI: wp.URI}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownPartType, wp.Type)
	}
}

func fromPart(p Part) wirePart {
	switch v := p.(type) {
	case TextPart:
		return wirePart{Type: PartText, Text: v.Text}
	case InlineDataPart:
		return wirePart{Type: PartInlineData, MIMEType: v.MIMEType, Data: v.Data}
	case FileRefPart:
		return wirePart{Type: PartFileRef, MIMEType: v.MIMEType, URI: v.URI}
	}
	return wirePart{}
}
