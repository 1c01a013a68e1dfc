package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shuklalaw/sitecms/internal/backend"
	"github.com/shuklalaw/sitecms/internal/content"
	"github.com/shuklalaw/sitecms/internal/deploy"
	"github.com/shuklalaw/sitecms/internal/state"
	"github.com/shuklalaw/sitecms/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeMirror struct {
	mu       sync.Mutex
	err      error
	panics   bool
	commits  [][]backend.FileChange
	messages []string
}

func (f *fakeMirror) Name() string { return "fake" }

func (f *fakeMirror) CommitFiles(_ context.Context, changes []backend.FileChange, message string) (*backend.CommitResult, error) {
	if f.panics {
		panic("mirror exploded")
	}
	if len(changes) == 0 {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, changes)
	f.messages = append(f.messages, message)
	if f.err != nil {
		return nil, f.err
	}
	files := make([]string, 0, len(changes))
	for _, c := range changes {
		files = append(files, c.Path)
	}
	return &backend.CommitResult{SHA: "c0ffee", Message: message, Files: files}, nil
}

func (f *fakeMirror) LatestDeployment(context.Context) (*backend.Deployment, error) {
	return &backend.Deployment{ID: 7, SHA: "c0ffee", State: "success"}, nil
}

func (f *fakeMirror) batches() [][]backend.FileChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]backend.FileChange(nil), f.commits...)
}

type countingChannel struct {
	calls atomic.Int32
	last  atomic.Value
}

func (c *countingChannel) Name() string { return "counting" }
func (c *countingChannel) Notify(_ context.Context, md deploy.Metadata) error {
	c.calls.Add(1)
	c.last.Store(md)
	return nil
}

type published struct {
	section string
	doc     content.Document
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(section string, doc content.Document) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{section, doc})
}

type memJournal struct {
	mu   sync.Mutex
	recs []state.DeploymentRecord
}

func (j *memJournal) RecordDeployment(_ context.Context, rec state.DeploymentRecord) (state.DeploymentRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec.ID = string(rune('a' + len(j.recs)))
	j.recs = append(j.recs, rec)
	return rec, nil
}

func (j *memJournal) LastDeployment(context.Context) (*state.DeploymentRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.recs) == 0 {
		return nil, nil
	}
	rec := j.recs[len(j.recs)-1]
	return &rec, nil
}

type fixture struct {
	fs        afero.Fs
	store     *content.Store
	mirror    *fakeMirror
	channel   *countingChannel
	publisher *recordingPublisher
	journal   *memJournal
	clock     *testutil.StubClock
	svc       *Service
}

func newFixture(t *testing.T, logger *zap.Logger) *fixture {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	f := &fixture{
		fs:        afero.NewMemMapFs(),
		mirror:    &fakeMirror{},
		channel:   &countingChannel{},
		publisher: &recordingPublisher{},
		journal:   &memJournal{},
		clock:     testutil.FixedClock(),
	}
	f.store = content.NewStore(f.fs, "/data/content")
	f.svc = New(Deps{
		Store:      f.store,
		Mirror:     f.mirror,
		Trigger:    deploy.NewWithChannels(logger, f.channel),
		Publisher:  f.publisher,
		Journal:    f.journal,
		Clock:      f.clock,
		Logger:     logger,
		Uploads:    f.fs,
		UploadsDir: "/data/uploads",
	})
	return f
}

// failingFs fails renames onto failOn, so the atomic write of one section
// fails after others in the same batch succeeded.
type failingFs struct {
	afero.Fs
	failOn string
}

func (f *failingFs) Rename(oldname, newname string) error {
	if newname == f.failOn {
		return errors.New("disk full")
	}
	return f.Fs.Rename(oldname, newname)
}

func TestSaveSectionRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	start := f.clock.Now()

	res, err := f.svc.SaveSection(ctx, "hero", content.Document{"title": "Shukla & Shukla Associates"})
	require.NoError(t, err)
	f.svc.Close()

	assert.Equal(t, []string{"hero"}, res.Sections)
	assert.False(t, res.LastUpdated.Before(start))

	got, err := f.svc.Read(ctx, "hero")
	require.NoError(t, err)
	want := content.Document{
		"title":       "Shukla & Shukla Associates",
		"lastUpdated": "2024-03-04T09:15:00Z",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored document mismatch (-want +got):\n%s", diff)
	}

	batches := f.mirror.batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "content/hero.json", batches[0][0].Path)
	raw, err := f.store.ReadRaw("hero")
	require.NoError(t, err)
	assert.Equal(t, string(raw), batches[0][0].Content)

	assert.Equal(t, int32(1), f.channel.calls.Load())
	md := f.channel.last.Load().(deploy.Metadata)
	assert.Equal(t, "c0ffee", md.CommitSHA)
	assert.Equal(t, []string{"hero"}, md.Sections)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "hero", f.publisher.events[0].section)
	assert.Equal(t, "2024-03-04T09:15:00Z", f.publisher.events[0].doc["lastUpdated"])

	require.Len(t, f.journal.recs, 1)
	assert.Equal(t, state.MirrorOK, f.journal.recs[0].MirrorStatus)
	assert.True(t, f.journal.recs[0].Triggered)
	assert.Equal(t, "c0ffee", f.journal.recs[0].CommitSHA)
}

func TestSaveSectionDoesNotMutateInput(t *testing.T) {
	f := newFixture(t, nil)
	doc := content.Document{"title": "x"}
	_, err := f.svc.SaveSection(context.Background(), "hero", doc)
	require.NoError(t, err)
	f.svc.Close()
	_, stamped := doc["lastUpdated"]
	assert.False(t, stamped)
}

func TestSaveSectionIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	doc := content.Document{"items": []any{"a", "b"}}

	_, err := f.svc.SaveSection(ctx, "faq", doc)
	require.NoError(t, err)
	first, err := f.store.ReadRaw("faq")
	require.NoError(t, err)

	_, err = f.svc.SaveSection(ctx, "faq", doc)
	require.NoError(t, err)
	second, err := f.store.ReadRaw("faq")
	require.NoError(t, err)
	f.svc.Close()

	assert.Equal(t, string(first), string(second))
}

func TestSaveSectionInvalidName(t *testing.T) {
	f := newFixture(t, nil)

	for _, name := range []string{"", "../etc/passwd", "a b", "hero.json", strings.Repeat("x", 65)} {
		_, err := f.svc.SaveSection(context.Background(), name, content.Document{"x": 1})
		assert.ErrorIs(t, err, content.ErrInvalidName, name)
	}
	f.svc.Close()

	exists, err := afero.DirExists(f.fs, "/data/content")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, f.mirror.batches())
	assert.Empty(t, f.publisher.events)
}

func TestSaveSectionPersistFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.store = content.NewStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/data/content")

	_, err := f.svc.SaveSection(context.Background(), "hero", content.Document{"x": 1})
	f.svc.Close()

	assert.ErrorIs(t, err, ErrPersistFailure)
	assert.Empty(t, f.mirror.batches())
	assert.Empty(t, f.publisher.events)
	assert.Zero(t, f.channel.calls.Load())
}

func TestMirrorFailureIsDecoupledFromSave(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := newFixture(t, zap.New(core))
	f.mirror.err = errors.Join(backend.ErrConflict, errors.New("branch moved"))

	res, err := f.svc.SaveSection(context.Background(), "hero", content.Document{"title": "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hero"}, res.Sections)
	f.svc.Close()

	_, err = f.store.Read("hero")
	assert.NoError(t, err)
	require.Len(t, f.publisher.events, 1)

	assert.Zero(t, f.channel.calls.Load(), "deploy is only triggered after a successful mirror commit")
	assert.Equal(t, 1, logs.FilterMessage("remote mirror failed").Len())

	require.Len(t, f.journal.recs, 1)
	assert.Equal(t, state.MirrorConflict, f.journal.recs[0].MirrorStatus)
	assert.Contains(t, f.journal.recs[0].MirrorError, "branch moved")
	assert.False(t, f.journal.recs[0].Triggered)
}

func TestSaveWithoutMirror(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.mirror = nil

	_, err := f.svc.SaveSection(context.Background(), "hero", content.Document{})
	require.NoError(t, err)
	f.svc.Close()

	assert.Zero(t, f.channel.calls.Load())
	assert.Len(t, f.publisher.events, 1)
	assert.Empty(t, f.journal.recs)
}

func TestSaveAllValidatesEveryNameFirst(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.SaveAll(context.Background(), map[string]content.Document{
		"hero":   {"a": 1},
		"../bad": {"b": 2},
	})
	f.svc.Close()
	assert.ErrorIs(t, err, content.ErrInvalidName)

	names, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Empty(t, f.mirror.batches())
}

func TestSaveAllCommitsOneBatch(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.SaveAll(context.Background(), map[string]content.Document{
		"hero":  {"title": "T"},
		"about": {"body": "B"},
		"faq":   {"items": []any{}},
	})
	require.NoError(t, err)
	f.svc.Close()

	assert.Equal(t, []string{"about", "faq", "hero"}, res.Sections)

	batches := f.mirror.batches()
	require.Len(t, batches, 1)
	var gotPaths []string
	for _, c := range batches[0] {
		gotPaths = append(gotPaths, c.Path)
	}
	assert.Equal(t, []string{"content/about.json", "content/faq.json", "content/hero.json"}, gotPaths)

	assert.Len(t, f.publisher.events, 3)
	assert.Equal(t, int32(1), f.channel.calls.Load())
	require.Len(t, f.journal.recs, 1)
	assert.Equal(t, KindSaveAll, f.journal.recs[0].Kind)
}

func TestSaveAllPersistFailureSkipsMirrorAndBroadcast(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.store = content.NewStore(&failingFs{Fs: f.fs, failOn: "/data/content/hero.json"}, "/data/content")

	_, err := f.svc.SaveAll(context.Background(), map[string]content.Document{
		"about": {"body": "B"},
		"hero":  {"title": "T"},
		"faq":   {"faqs": []any{}},
	})
	f.svc.Close()

	assert.ErrorIs(t, err, ErrPersistFailure)
	assert.Empty(t, f.mirror.batches())
	assert.Empty(t, f.publisher.events)
	assert.Zero(t, f.channel.calls.Load())
	assert.Empty(t, f.journal.recs)
}

func TestSaveAllEmptyDoesNotTrigger(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.SaveAll(context.Background(), nil)
	require.NoError(t, err)
	f.svc.Close()

	assert.Empty(t, res.Sections)
	assert.Empty(t, f.mirror.batches())
	assert.Zero(t, f.channel.calls.Load())
	assert.Empty(t, f.journal.recs)
}

func TestEmptyCommitIsSkippedNotTriggered(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.mirrorAndTrigger(context.Background(), KindSaveAll, nil, nil, "msg")
	require.NoError(t, err)
	assert.Nil(t, res)

	assert.Zero(t, f.channel.calls.Load())
	require.Len(t, f.journal.recs, 1)
	assert.Equal(t, state.MirrorSkipped, f.journal.recs[0].MirrorStatus)
	assert.False(t, f.journal.recs[0].Triggered)
	assert.Empty(t, f.journal.recs[0].CommitSHA)
}

func TestCloseRecoversPanickingJob(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	f := newFixture(t, zap.New(core))
	f.mirror.panics = true

	_, err := f.svc.SaveSection(context.Background(), "hero", content.Document{})
	require.NoError(t, err)

	assert.NotPanics(t, f.svc.Close)
	assert.Equal(t, 1, logs.FilterMessage("background mirror job panicked").Len())
}

func TestSlowMirrorDoesNotDelaySave(t *testing.T) {
	f := newFixture(t, nil)
	release := make(chan struct{})
	f.svc.mirror = blockingMirror{release: release}

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.SaveSection(context.Background(), "hero", content.Document{})
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("save waited for the remote mirror")
	}
	close(release)
	f.svc.Close()
}

type blockingMirror struct{ release chan struct{} }

func (blockingMirror) Name() string { return "blocking" }
func (b blockingMirror) CommitFiles(ctx context.Context, _ []backend.FileChange, _ string) (*backend.CommitResult, error) {
	select {
	case <-b.release:
		return &backend.CommitResult{SHA: "late"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
