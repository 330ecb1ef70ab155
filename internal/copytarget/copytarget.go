// Package copytarget manages the copy bindings of rendered messages.
//
// Rendered markup carries one copy control per copyable block, each holding
// the block's raw source in a URL-escaped attribute. A [Scope] harvests those
// controls for one message instance, stamps every control with a fresh
// trigger id and registers a single lookup with a [Binder]. When the
// message's inputs change the scope releases the old binding before the new
// one is registered, so a trigger id never outlives the markup it came from.
package copytarget

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/MrWong99/murmur/pkg/markup"
)

// TriggerAttr is the attribute a Scope adds to every copy control.
const TriggerAttr = "data-copy-trigger"

// Selector matches the copy controls emitted by the markup renderer.
const Selector = "." + markup.CopyControlClass

// ErrClosed is returned by Update after Close.
var ErrClosed = errors.New("copytarget: scope closed")

// Target associates a trigger id with the raw text it copies.
type Target struct {
	TriggerID string `json:"trigger_id"`
	Text      string `json:"text"`
}

// Binder is the clipboard-registration mechanism. Bind registers lookup for
// every element matching selector and returns a release function that
// unregisters it.
type Binder interface {
	Bind(selector string, lookup func(triggerID string) (string, bool)) (release func(), err error)
}

// Scope owns the copy targets of one rendered message instance.
// It is safe for concurrent use.
type Scope struct {
	binder Binder

	mu          sync.RWMutex
	fingerprint string
	markup      string
	targets     []Target
	byID        map[string]string
	release     func()
	closed      bool
}

// NewScope returns an empty Scope that registers through b.
func NewScope(b Binder) *Scope {
	return &Scope{binder: b}
}

// Update makes markup the scope's content. fingerprint identifies the
// inputs the markup was rendered from; when it equals the current one the
// previous result is returned with changed == false. Otherwise the previous
// binding is released, the copy controls in markup are stamped with new
// trigger ids and a new binding is registered.
func (s *Scope) Update(fingerprint, markup string) (annotated string, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", false, ErrClosed
	}
	if s.release != nil && fingerprint == s.fingerprint {
		return s.markup, false, nil
	}

	s.teardownLocked()

	annotated, targets, err := harvest(markup)
	if err != nil {
		return "", false, err
	}
	byID := make(map[string]string, len(targets))
	for _, t := range targets {
		byID[t.TriggerID] = t.Text
	}

	release, err := s.binder.Bind(Selector, s.lookup)
	if err != nil {
		return "", false, fmt.Errorf("copytarget: bind: %w", err)
	}

	s.fingerprint = fingerprint
	s.markup = annotated
	s.targets = targets
	s.byID = byID
	s.release = release
	return annotated, true, nil
}

// Lookup returns the raw text registered for triggerID.
func (s *Scope) Lookup(triggerID string) (string, bool) {
	return s.lookup(triggerID)
}

func (s *Scope) lookup(triggerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.byID[triggerID]
	return text, ok
}

// Targets returns the current targets in document order.
func (s *Scope) Targets() []Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Target(nil), s.targets...)
}

// Close releases the binding. It is idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.closed = true
}

func (s *Scope) teardownLocked() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
	s.fingerprint = ""
	s.markup = ""
	s.targets = nil
	s.byID = nil
}

// harvest stamps every copy control in fragment with a new trigger id and
// returns the rewritten fragment with the decoded payloads.
func harvest(fragment string) (string, []Target, error) {
	var (
		out     strings.Builder
		targets []Target
	)
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", nil, fmt.Errorf("copytarget: parse markup: %w", err)
			}
			return out.String(), targets, nil
		case html.StartTagToken:
			raw := append([]byte(nil), z.Raw()...)
			tok := z.Token()
			payload, ok := copyPayload(tok)
			if !ok {
				out.Write(raw)
				continue
			}
			text, err := markup.DecodeCopyPayload(payload)
			if err != nil {
				return "", nil, fmt.Errorf("copytarget: %w", err)
			}
			id := uuid.NewString()
			tok.Attr = append(withoutAttr(tok.Attr, TriggerAttr), html.Attribute{Key: TriggerAttr, Val: id})
			targets = append(targets, Target{TriggerID: id, Text: text})
			out.WriteString(tok.String())
		default:
			out.Write(z.Raw())
		}
	}
}

func copyPayload(tok html.Token) (string, bool) {
	if tok.Data != "button" {
		return "", false
	}
	var (
		isControl bool
		payload   string
		found     bool
	)
	for _, a := range tok.Attr {
		switch a.Key {
		case "class":
			for _, c := range strings.Fields(a.Val) {
				if c == markup.CopyControlClass {
					isControl = true
				}
			}
		case markup.CopyPayloadAttr:
			payload, found = a.Val, true
		}
	}
	return payload, isControl && found
}

// withoutAttr drops key so that re-stamped markup carries only the new id.
func withoutAttr(attrs []html.Attribute, key string) []html.Attribute {
	out := attrs[:0:0]
	for _, a := range attrs {
		if a.Key != key {
			out = append(out, a)
		}
	}
	return out
}
