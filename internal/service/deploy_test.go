package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuklalaw/sitecms/internal/backend"
	"github.com/shuklalaw/sitecms/internal/content"
	"github.com/shuklalaw/sitecms/internal/state"
)

func TestDeployCommitsEverySection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Write("hero", content.Document{"title": "T"}))
	require.NoError(t, f.store.Write("blog", content.Document{"blogPosts": []any{}}))

	res, err := f.svc.Deploy(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "c0ffee", res.SHA)
	assert.Equal(t, []string{"content/blog.json", "content/hero.json"}, res.Files)
	assert.Equal(t, []string{"Update content via admin panel"}, f.mirror.messages)

	_, err = f.svc.Deploy(ctx, "Publish spring update")
	require.NoError(t, err)
	assert.Equal(t, "Publish spring update", f.mirror.messages[1])

	assert.Equal(t, int32(2), f.channel.calls.Load())
	require.Len(t, f.journal.recs, 2)
	assert.Equal(t, KindDeploy, f.journal.recs[1].Kind)
}

func TestDeployNotConfigured(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.mirror = nil

	_, err := f.svc.Deploy(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDeployWithoutSections(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.Deploy(context.Background(), "")
	assert.ErrorIs(t, err, ErrNothingToDeploy)
	assert.Nil(t, res)
	assert.Zero(t, f.channel.calls.Load())
	assert.Empty(t, f.journal.recs)
}

func TestDeploySurfacesMirrorError(t *testing.T) {
	f := newFixture(t, nil)
	f.mirror.err = backend.ErrUnauthorized
	require.NoError(t, f.store.Write("hero", content.Document{}))

	_, err := f.svc.Deploy(context.Background(), "")
	assert.ErrorIs(t, err, backend.ErrUnauthorized)
	require.Len(t, f.journal.recs, 1)
	assert.Equal(t, state.MirrorUnauthorized, f.journal.recs[0].MirrorStatus)
}

func TestDeploymentStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.svc.DeploymentStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fake", st.Mirror)
	require.NotNil(t, st.Remote)
	assert.Equal(t, "success", st.Remote.State)
	assert.Nil(t, st.LastAttempt)

	_, err = f.svc.SaveSection(ctx, "hero", content.Document{})
	require.NoError(t, err)
	f.svc.Close()

	st, err = f.svc.DeploymentStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastAttempt)
	assert.Equal(t, KindSave, st.LastAttempt.Kind)
}

func TestDeploymentStatusNotConfigured(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.mirror = nil
	f.svc.journal = nil

	_, err := f.svc.DeploymentStatus(context.Background())
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestHistoryRequiresCapableMirror(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.History(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
