// Package insights aggregates anonymous visitor interactions reported by the
// public site. It is optional: when it is not wired, the HTTP layer answers
// with an "unavailable" result.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/shuklalaw/sitecms/internal/clock"
	"github.com/shuklalaw/sitecms/internal/content"
)

// ErrMissingAction is returned by Track when no action is given.
var ErrMissingAction = errors.New("action is required")

// UnavailableMessage is reported when no Service is wired.
const UnavailableMessage = "AI service not available"

// Service is the capability the HTTP layer depends on.
type Service interface {
	Track(userID, action string, data map[string]any) error
	Insights() Summary
}

// Summary is the aggregate view returned by Insights.
type Summary struct {
	TotalEvents int            `json:"totalEvents"`
	UniqueUsers int            `json:"uniqueUsers"`
	Actions     map[string]int `json:"actions"`
	Sections    map[string]int `json:"sections"`
	TopSections []string       `json:"topSections"`
	LastEvent   *time.Time     `json:"lastEvent,omitempty"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// snapshot is the persisted form.
type snapshot struct {
	TotalEvents int            `json:"totalEvents"`
	Users       []string       `json:"users"`
	Actions     map[string]int `json:"actions"`
	Sections    map[string]int `json:"sections"`
	LastEvent   *time.Time     `json:"lastEvent,omitempty"`
}

// Tracker is the in-process Service, flushed periodically to a JSON file.
type Tracker struct {
	fs     afero.Fs
	path   string
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	total    int
	users    map[string]struct{}
	actions  map[string]int
	sections map[string]int
	last     *time.Time
	dirty    bool
}

// NewTracker creates an empty tracker persisting to path.
func NewTracker(fs afero.Fs, path string, clk clock.Clock, logger *zap.Logger) *Tracker {
	return &Tracker{
		fs:       fs,
		path:     path,
		clock:    clk,
		logger:   logger,
		users:    make(map[string]struct{}),
		actions:  make(map[string]int),
		sections: make(map[string]int),
	}
}

// Load restores a previous flush. A missing file is not an error.
func (t *Tracker) Load() error {
	data, err := afero.ReadFile(t.fs, t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read insights: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode insights %s: %w", t.path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = snap.TotalEvents
	t.last = snap.LastEvent
	for _, u := range snap.Users {
		t.users[u] = struct{}{}
	}
	for k, v := range snap.Actions {
		t.actions[k] = v
	}
	for k, v := range snap.Sections {
		t.sections[k] = v
	}
	return nil
}

// Track records one interaction. data["section"], when a string, is counted
// per section.
func (t *Tracker) Track(userID, action string, data map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrMissingAction
	}
	now := t.clock.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	t.actions[action]++
	if userID != "" {
		t.users[userID] = struct{}{}
	}
	if section, ok := data["section"].(string); ok && section != "" {
		t.sections[section]++
	}
	t.last = &now
	t.dirty = true
	return nil
}

// Insights returns the current aggregates.
func (t *Tracker) Insights() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		TotalEvents: t.total,
		UniqueUsers: len(t.users),
		Actions:     make(map[string]int, len(t.actions)),
		Sections:    make(map[string]int, len(t.sections)),
		GeneratedAt: t.clock.Now().UTC(),
	}
	for k, v := range t.actions {
		s.Actions[k] = v
	}
	for k, v := range t.sections {
		s.Sections[k] = v
		s.TopSections = append(s.TopSections, k)
	}
	sort.Slice(s.TopSections, func(i, j int) bool {
		a, b := s.TopSections[i], s.TopSections[j]
		if s.Sections[a] != s.Sections[b] {
			return s.Sections[a] > s.Sections[b]
		}
		return a < b
	})
	if len(s.TopSections) > 5 {
		s.TopSections = s.TopSections[:5]
	}
	if t.last != nil {
		last := *t.last
		s.LastEvent = &last
	}
	return s
}

// Flush writes the aggregates if anything changed since the last flush.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	snap := snapshot{
		TotalEvents: t.total,
		Users:       make([]string, 0, len(t.users)),
		Actions:     t.actions,
		Sections:    t.sections,
		LastEvent:   t.last,
	}
	for u := range t.users {
		snap.Users = append(snap.Users, u)
	}
	sort.Strings(snap.Users)
	data, err := json.MarshalIndent(snap, "", "  ")
	t.dirty = false
	t.mu.Unlock()

	if err == nil {
		err = content.WriteFile(t.fs, t.path, data)
	}
	if err != nil {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
		return fmt.Errorf("flush insights: %w", err)
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.Flush(); err != nil {
				t.logger.Warn("periodic insights flush failed", zap.Error(err))
			}
		case <-ctx.Done():
			if err := t.Flush(); err != nil {
				t.logger.Error("final insights flush failed", zap.Error(err))
			}
			return nil
		}
	}
}
