// Package content persists the site's named content sections as one
// pretty-printed JSON document per section.
//
// The store is the authoritative copy of the site content. Everything else
// (the remote mirror, deploy notifications, browser broadcasts) is derived
// from what lands here.
package content

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

var (
	// ErrInvalidName is returned when a section name fails the allow-list check.
	// No storage access happens before this check.
	ErrInvalidName = errors.New("invalid section name")

	// ErrNotFound is returned when a section has never been written.
	ErrNotFound = errors.New("section not found")

	// ErrIOFailure wraps disk errors (permissions, out of space, corrupt JSON).
	ErrIOFailure = errors.New("content storage failure")
)

// RemoteDir is the repository-relative directory sections are mirrored to.
const RemoteDir = "content"

const fileExt = ".json"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Document is an arbitrary JSON object stored for a section.
type Document map[string]any

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// ValidateName checks a section name against the allow-list
// (letters, digits, hyphen, underscore).
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// RemotePath returns the repository-relative path of a section file.
func RemotePath(name string) string {
	return path.Join(RemoteDir, name+fileExt)
}

// Store reads and writes section documents under a single directory.
//
// Writes are last-write-wins. Concurrent writers to the same section race
// and the store does not serialize them.
type Store struct {
	fs  afero.Fs
	dir string

	mu      sync.Mutex
	written map[string][32]byte
}

// NewStore creates a store rooted at dir on the given filesystem.
// The directory is created lazily on first write.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{
		fs:      fs,
		dir:     dir,
		written: make(map[string][32]byte),
	}
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) filePath(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// Read returns the stored document for name.
func (s *Store) Read(name string) (Document, error) {
	data, err := s.ReadRaw(name)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrIOFailure, name, err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// ReadRaw returns the stored bytes for name exactly as written.
func (s *Store) ReadRaw(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.filePath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrIOFailure, name, err)
	}
	return data, nil
}

// Write serializes doc as indented JSON and atomically replaces the file for
// name. The containing directory is created if absent.
func (s *Store) Write(name string, doc Document) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	if doc == nil {
		doc = Document{}
	}
	data, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrIOFailure, name, err)
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIOFailure, s.dir, err)
	}

	// Recorded before the rename so a watcher never sees the file first.
	s.mu.Lock()
	prev, hadPrev := s.written[name]
	s.written[name] = sha256.Sum256(data)
	s.mu.Unlock()

	if err := writeAtomic(s.fs, s.filePath(name), data); err != nil {
		s.mu.Lock()
		if hadPrev {
			s.written[name] = prev
		} else {
			delete(s.written, name)
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: write %s: %v", ErrIOFailure, name, err)
	}
	return nil
}

// WroteLast reports whether data is exactly what this store last wrote for name.
func (s *Store) WroteLast(name string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.written[name]
	return ok && sum == sha256.Sum256(data)
}

// List returns the names of all stored sections in sorted order.
// A missing directory yields an empty list.
func (s *Store) List() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list %s: %v", ErrIOFailure, s.dir, err)
	}

	var names []string
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), fileExt) {
			continue
		}
		name := strings.TrimSuffix(info.Name(), fileExt)
		if ValidateName(name) == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Encode renders a document the way it is stored on disk and in the mirror.
func Encode(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// writeAtomic writes data to a temp file next to target and renames it over
// target, so readers never observe a partially written file.
func writeAtomic(fs afero.Fs, target string, data []byte) error {
	tmp, err := afero.TempFile(fs, filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return err
	}
	if err := fs.Chmod(tmpName, 0o644); err != nil {
		fs.Remove(tmpName)
		return err
	}
	if err := fs.Rename(tmpName, target); err != nil {
		fs.Remove(tmpName)
		return err
	}
	return nil
}

// WriteFile atomically writes an arbitrary file through fs, creating parent
// directories as needed. Used for uploads and the credentials record.
func WriteFile(fs afero.Fs, target string, data []byte) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return writeAtomic(fs, target, data)
}
