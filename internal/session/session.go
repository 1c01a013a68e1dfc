// Package session is the admin editing model for one section: a working
// copy the admin edits, the last saved snapshot, and the rules for merging
// updates saved elsewhere.
package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shuklalaw/sitecms/internal/broadcast"
	"github.com/shuklalaw/sitecms/internal/client"
	"github.com/shuklalaw/sitecms/internal/content"
	"github.com/shuklalaw/sitecms/internal/service"
)

// Failure kinds reported by FailureKind.
const (
	FailureInvalidName = "invalid_name"
	FailureNotFound    = "not_found"
	FailurePersist     = "persist_failure"
	FailureUnavailable = "unavailable"
	FailureUnknown     = "unknown"
)

// Backend loads and saves sections. *service.Service and *client.Client
// both implement it.
type Backend interface {
	Read(ctx context.Context, section string) (content.Document, error)
	SaveSection(ctx context.Context, section string, doc content.Document) (service.SaveResult, error)
}

// Session edits one section.
type Session struct {
	backend Backend
	section string

	mu      sync.Mutex
	working content.Document
	saved   content.Document
}

// New creates a session for section. Call Load before editing.
func New(backend Backend, section string) (*Session, error) {
	if err := content.ValidateName(section); err != nil {
		return nil, err
	}
	return &Session{
		backend: backend,
		section: section,
		working: content.Document{},
		saved:   content.Document{},
	}, nil
}

// Section returns the section name.
func (s *Session) Section() string { return s.section }

// Load reads the section. A section that was never saved starts from its
// default document.
func (s *Session) Load(ctx context.Context) error {
	doc, err := s.backend.Read(ctx, s.section)
	if errors.Is(err, content.ErrNotFound) {
		doc, err = DefaultDocument(s.section), nil
	}
	if err != nil {
		return err
	}
	if doc == nil {
		doc = content.Document{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = doc
	s.working = doc.Clone()
	return nil
}

// Working returns a copy of the working document.
func (s *Session) Working() content.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working.Clone()
}

// Saved returns a copy of the last saved document.
func (s *Session) Saved() content.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved.Clone()
}

// Dirty reports whether the working copy differs from the saved snapshot.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !reflect.DeepEqual(normalize(s.working), normalize(s.saved))
}

// Edit sets the value at a dotted path such as "blogPosts.0.title" in the
// working copy. Missing objects along the path are created. An array index
// must address an existing element or the position just past the end, which
// appends.
func (s *Session) Edit(path string, value any) error {
	keys := strings.Split(path, ".")
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("invalid path %q", path)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.working.Clone()
	if working == nil {
		working = content.Document{}
	}
	updated, err := setPath(working, keys, value)
	if err != nil {
		return fmt.Errorf("edit %s: %w", path, err)
	}
	s.working = updated.(map[string]any)
	return nil
}

// Commit saves the working copy. On success the saved snapshot becomes the
// stamped document; on failure the working copy is left as it was.
func (s *Session) Commit(ctx context.Context) (service.SaveResult, error) {
	s.mu.Lock()
	doc := s.working.Clone()
	s.mu.Unlock()

	res, err := s.backend.SaveSection(ctx, s.section, doc)
	if err != nil {
		return service.SaveResult{}, err
	}

	stamped, ok := res.Documents[s.section]
	if !ok {
		stamped = doc
		stamped["lastUpdated"] = res.LastUpdated.UTC().Format(time.RFC3339Nano)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = stamped.Clone()
	s.working = stamped.Clone()
	return res, nil
}

// Apply merges an update saved elsewhere. It is ignored for other sections,
// and a dirty session keeps its local edits. It reports whether the session
// changed.
func (s *Session) Apply(ev broadcast.Event) bool {
	if ev.Type != broadcast.TypeContentUpdated || ev.Section != s.section {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !reflect.DeepEqual(normalize(s.working), normalize(s.saved)) {
		return false
	}
	s.saved = ev.Data.Clone()
	s.working = ev.Data.Clone()
	return true
}

// FailureKind classifies a Load or Commit error for display.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, content.ErrInvalidName):
		return FailureInvalidName
	case errors.Is(err, content.ErrNotFound):
		return FailureNotFound
	case errors.Is(err, service.ErrPersistFailure), errors.Is(err, content.ErrIOFailure):
		return FailurePersist
	case errors.Is(err, client.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return FailureUnavailable
	default:
		return FailureUnknown
	}
}

func setPath(node any, keys []string, value any) (any, error) {
	if len(keys) == 0 {
		return value, nil
	}
	key := keys[0]

	switch n := node.(type) {
	case nil:
		if _, err := strconv.Atoi(key); err == nil {
			return setPath([]any{}, keys, value)
		}
		return setPath(map[string]any{}, keys, value)
	case content.Document:
		return setPath(map[string]any(n), keys, value)
	case map[string]any:
		child, err := setPath(n[key], keys[1:], value)
		if err != nil {
			return nil, err
		}
		n[key] = child
		return n, nil
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%q is not an array index", key)
		}
		switch {
		case idx < len(n):
			child, err := setPath(n[idx], keys[1:], value)
			if err != nil {
				return nil, err
			}
			n[idx] = child
			return n, nil
		case idx == len(n):
			child, err := setPath(nil, keys[1:], value)
			if err != nil {
				return nil, err
			}
			return append(n, child), nil
		default:
			return nil, fmt.Errorf("index %d out of range (length %d)", idx, len(n))
		}
	default:
		return nil, fmt.Errorf("cannot descend into %T at %q", node, key)
	}
}

// normalize strips lastUpdated so a server stamp alone does not count as an edit.
func normalize(doc content.Document) content.Document {
	if _, ok := doc["lastUpdated"]; !ok {
		return doc
	}
	out := make(content.Document, len(doc))
	for k, v := range doc {
		if k != "lastUpdated" {
			out[k] = v
		}
	}
	return out
}
