// Package service orchestrates content saves: the local write is authoritative
// and synchronous, mirroring and deployment run afterwards in the background,
// and every successful write is broadcast to open pages.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/shuklalaw/sitecms/internal/backend"
	"github.com/shuklalaw/sitecms/internal/clock"
	"github.com/shuklalaw/sitecms/internal/config"
	"github.com/shuklalaw/sitecms/internal/content"
	"github.com/shuklalaw/sitecms/internal/deploy"
	"github.com/shuklalaw/sitecms/internal/state"
)

var (
	// ErrPersistFailure means the local write failed; nothing else was attempted.
	ErrPersistFailure = errors.New("failed to persist content")
	// ErrInvalidUpload covers a rejected upload path, type, size or payload.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrNotConfigured means the operation needs a remote mirror and none is set up.
	ErrNotConfigured = errors.New("remote mirror not configured")
	// ErrNothingToDeploy means a deploy was requested with no stored sections.
	ErrNothingToDeploy = errors.New("no content to deploy")
)

// Journal kinds.
const (
	KindSave    = "save"
	KindSaveAll = "save-all"
	KindUpload  = "upload"
	KindDeploy  = "deploy"
)

// DefaultRemoteTimeout bounds one background mirror and deploy attempt.
const DefaultRemoteTimeout = 30 * time.Second

// Publisher announces saved sections. *broadcast.Bus implements it.
type Publisher interface {
	Publish(section string, doc content.Document)
}

// Journal records remote attempts. *state.Store implements it.
type Journal interface {
	RecordDeployment(ctx context.Context, rec state.DeploymentRecord) (state.DeploymentRecord, error)
	LastDeployment(ctx context.Context) (*state.DeploymentRecord, error)
}

// Deps are the collaborators of a Service. Store is required; every other
// capability may be left nil and the matching step is skipped.
type Deps struct {
	Store     *content.Store
	Mirror    backend.Mirror
	Trigger   *deploy.Trigger
	Publisher Publisher
	Journal   Journal
	Clock     clock.Clock
	Logger    *zap.Logger

	// Uploads is the filesystem and directory uploaded images are written to.
	Uploads    afero.Fs
	UploadsDir string

	MaxUploadBytes int64
	RemoteTimeout  time.Duration
	CommitMessage  string
}

// Service is the content save orchestrator.
type Service struct {
	store     *content.Store
	mirror    backend.Mirror
	trigger   *deploy.Trigger
	publisher Publisher
	journal   Journal
	clock     clock.Clock
	logger    *zap.Logger

	uploads    afero.Fs
	uploadsDir string
	maxUpload  int64
	timeout    time.Duration
	message    string

	jobs conc.WaitGroup
}

// SaveResult reports a completed local save.
type SaveResult struct {
	Sections    []string
	LastUpdated time.Time
	// Documents holds the stored documents by section, lastUpdated included.
	Documents map[string]content.Document
}

// New builds a Service from deps, filling defaults.
func New(deps Deps) *Service {
	s := &Service{
		store:      deps.Store,
		mirror:     deps.Mirror,
		trigger:    deps.Trigger,
		publisher:  deps.Publisher,
		journal:    deps.Journal,
		clock:      deps.Clock,
		logger:     deps.Logger,
		uploads:    deps.Uploads,
		uploadsDir: deps.UploadsDir,
		maxUpload:  deps.MaxUploadBytes,
		timeout:    deps.RemoteTimeout,
		message:    deps.CommitMessage,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.uploads == nil {
		s.uploads = afero.NewOsFs()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRemoteTimeout
	}
	if s.message == "" {
		s.message = config.DefaultCommitMessage
	}
	return s
}

// Read returns the stored document for section.
func (s *Service) Read(_ context.Context, section string) (content.Document, error) {
	return s.store.Read(section)
}

// Sections lists the stored section names.
func (s *Service) Sections() ([]string, error) {
	return s.store.List()
}

// MirrorConfigured reports whether saves are mirrored remotely.
func (s *Service) MirrorConfigured() bool {
	return s.mirror != nil
}

// SaveSection stamps lastUpdated, writes doc, schedules the mirror commit and
// publishes the change. Only a local failure is returned.
func (s *Service) SaveSection(_ context.Context, section string, doc content.Document) (SaveResult, error) {
	if err := content.ValidateName(section); err != nil {
		return SaveResult{}, err
	}

	now := s.clock.Now().UTC()
	stamped, change, err := s.persist(section, doc, now)
	if err != nil {
		return SaveResult{}, err
	}

	s.scheduleRemote(KindSave, []string{section}, []backend.FileChange{change})
	s.publish(section, stamped)

	return SaveResult{
		Sections:    []string{section},
		LastUpdated: now,
		Documents:   map[string]content.Document{section: stamped},
	}, nil
}

// SaveAll writes every section and mirrors them as one commit. Names are all
// validated before anything is written, and nothing is mirrored unless every
// write succeeded.
func (s *Service) SaveAll(_ context.Context, sections map[string]content.Document) (SaveResult, error) {
	names := make([]string, 0, len(sections))
	for name := range sections {
		if err := content.ValidateName(name); err != nil {
			return SaveResult{}, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	now := s.clock.Now().UTC()
	docs := make(map[string]content.Document, len(names))
	changes := make([]backend.FileChange, 0, len(names))
	for _, name := range names {
		stamped, change, err := s.persist(name, sections[name], now)
		if err != nil {
			return SaveResult{}, err
		}
		docs[name] = stamped
		changes = append(changes, change)
	}

	s.scheduleRemote(KindSaveAll, names, changes)
	for _, name := range names {
		s.publish(name, docs[name])
	}

	return SaveResult{Sections: names, LastUpdated: now, Documents: docs}, nil
}

// persist writes a stamped copy of doc and returns it with its mirror change.
func (s *Service) persist(section string, doc content.Document, now time.Time) (content.Document, backend.FileChange, error) {
	stamped := doc.Clone()
	if stamped == nil {
		stamped = content.Document{}
	}
	stamped["lastUpdated"] = now.Format(time.RFC3339Nano)

	if err := s.store.Write(section, stamped); err != nil {
		if errors.Is(err, content.ErrInvalidName) {
			return nil, backend.FileChange{}, err
		}
		s.logger.Error("content write failed", zap.String("section", section), zap.Error(err))
		return nil, backend.FileChange{}, fmt.Errorf("%w: %s: %v", ErrPersistFailure, section, err)
	}

	data, err := content.Encode(stamped)
	if err != nil {
		return nil, backend.FileChange{}, fmt.Errorf("%w: %s: %v", ErrPersistFailure, section, err)
	}
	return stamped, backend.FileChange{
		Path:     content.RemotePath(section),
		Content:  string(data),
		Encoding: backend.EncodingUTF8,
	}, nil
}

func (s *Service) publish(section string, doc content.Document) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(section, doc)
}

// scheduleRemote mirrors changes in the background, bounded by the remote
// timeout and detached from the request.
func (s *Service) scheduleRemote(kind string, sections []string, changes []backend.FileChange) {
	if s.mirror == nil {
		s.logger.Debug("no remote mirror configured, skipping", zap.Strings("sections", sections))
		return
	}
	if len(changes) == 0 {
		return
	}
	s.jobs.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.mirrorAndTrigger(ctx, kind, sections, changes, s.message)
	})
}

// mirrorAndTrigger commits changes, notifies the host only if a commit was
// made, and journals the attempt.
func (s *Service) mirrorAndTrigger(ctx context.Context, kind string, sections []string, changes []backend.FileChange, message string) (*backend.CommitResult, error) {
	rec := state.DeploymentRecord{
		Kind:      kind,
		Files:     paths(changes),
		StartedAt: s.clock.Now().UTC(),
	}

	result, err := s.mirror.CommitFiles(ctx, changes, message)
	if err != nil {
		rec.MirrorStatus = mirrorStatus(err)
		rec.MirrorError = err.Error()
		s.logger.Error("remote mirror failed",
			zap.String("kind", kind),
			zap.String("mirror", s.mirror.Name()),
			zap.Strings("files", rec.Files),
			zap.String("status", rec.MirrorStatus),
			zap.Error(err))
	} else if result == nil {
		rec.MirrorStatus = state.MirrorSkipped
		s.logger.Debug("nothing to mirror", zap.String("kind", kind))
	} else {
		rec.MirrorStatus = state.MirrorOK
		rec.CommitSHA = result.SHA
		md := deploy.Metadata{Reason: kind, Sections: sections, CommitSHA: result.SHA, Timestamp: s.clock.Now().UTC()}
		s.logger.Info("content mirrored",
			zap.String("kind", kind),
			zap.String("mirror", s.mirror.Name()),
			zap.String("commit", rec.CommitSHA),
			zap.Strings("files", rec.Files))
		rec.Triggered = s.trigger.Notify(ctx, md)
	}
	rec.FinishedAt = s.clock.Now().UTC()

	s.record(context.WithoutCancel(ctx), rec)
	return result, err
}

func (s *Service) record(ctx context.Context, rec state.DeploymentRecord) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.RecordDeployment(ctx, rec); err != nil {
		s.logger.Warn("journal deployment attempt", zap.String("kind", rec.Kind), zap.Error(err))
	}
}

// Close waits for background mirror jobs. A panicking job is logged.
func (s *Service) Close() {
	if r := s.jobs.WaitAndRecover(); r != nil {
		s.logger.Error("background mirror job panicked", zap.Any("value", r.Value), zap.ByteString("stack", r.Stack))
	}
}

func mirrorStatus(err error) string {
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		return state.MirrorUnauthorized
	case errors.Is(err, backend.ErrConflict):
		return state.MirrorConflict
	default:
		return state.MirrorFailed
	}
}

func paths(changes []backend.FileChange) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Path)
	}
	return out
}
