package content

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeFunc receives a section that was modified on disk by another process.
type ChangeFunc func(name string, doc Document)

// Watcher reports section files edited outside the store, for example by a
// git pull into the content directory or a hand edit on the server.
// Writes made through the store itself are not reported.
type Watcher struct {
	store    *Store
	logger   *zap.Logger
	onChange ChangeFunc

	seen map[string][32]byte
}

// NewWatcher creates a watcher for the store's directory.
func NewWatcher(store *Store, logger *zap.Logger, onChange ChangeFunc) *Watcher {
	return &Watcher{
		store:    store,
		logger:   logger,
		onChange: onChange,
		seen:     make(map[string][32]byte),
	}
}

// Run watches until ctx is cancelled. The store directory is created if it
// does not exist yet. The store must be backed by the OS filesystem.
func (w *Watcher) Run(ctx context.Context, ready chan<- struct{}) error {
	if err := w.store.fs.MkdirAll(w.store.dir, 0o755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.store.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.store.dir, err)
	}
	w.logger.Info("watching content directory", zap.String("dir", w.store.dir))
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.handle(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("content watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(file string) {
	base := filepath.Base(file)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, fileExt) {
		return
	}
	name := strings.TrimSuffix(base, fileExt)
	if ValidateName(name) != nil {
		return
	}

	data, err := w.store.ReadRaw(name)
	if err != nil {
		w.logger.Debug("skip unreadable section", zap.String("section", name), zap.Error(err))
		return
	}
	sum := sha256.Sum256(data)
	if w.seen[name] == sum {
		return
	}
	if w.store.WroteLast(name, data) {
		w.seen[name] = sum
		return
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		// Usually a half-written file; the following write event carries the rest.
		w.logger.Debug("skip undecodable section", zap.String("section", name), zap.Error(err))
		return
	}
	w.seen[name] = sum

	w.logger.Info("section changed on disk", zap.String("section", name))
	w.onChange(name, doc)
}
