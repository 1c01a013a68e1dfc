package service

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuklalaw/sitecms/internal/backend"
)

func TestUploadStoresAndMirrors(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.Upload(context.Background(), UploadRequest{
		Path:   "uploads/gallery/office.png",
		Base64: "data:image/png;base64," + b64("PNGDATA"),
	})
	require.NoError(t, err)
	f.svc.Close()

	assert.Equal(t, "/uploads/gallery/office.png", res.URL)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, 7, res.Size)

	data, err := afero.ReadFile(f.fs, "/data/uploads/gallery/office.png")
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	batches := f.mirror.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "uploads/gallery/office.png", batches[0][0].Path)
	assert.Equal(t, backend.EncodingBase64, batches[0][0].Encoding)
	decoded, err := batches[0][0].Bytes()
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(decoded))

	assert.Empty(t, f.publisher.events)
}

func TestUploadURLIsEscaped(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.Upload(context.Background(), UploadRequest{
		Path:   "uploads/team photo #1.jpg",
		Base64: b64("JPEG"),
	})
	require.NoError(t, err)
	f.svc.Close()

	assert.Equal(t, "/uploads/team%20photo%20%231.jpg", res.URL)
	assert.Equal(t, "uploads/team photo #1.jpg", res.Path)

	exists, err := afero.Exists(f.fs, "/data/uploads/team photo #1.jpg")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUploadContentType(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Upload(context.Background(), UploadRequest{
		Path: "uploads/photo.JPG", Base64: b64("jpeg"), ContentType: "text/plain",
	})
	require.NoError(t, err)
	f.svc.Close()
	assert.Equal(t, "image/jpeg", res.ContentType)
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name string
		req  UploadRequest
	}{
		{"outside uploads", UploadRequest{Path: "content/hero.json", Base64: b64("x")}},
		{"bare prefix", UploadRequest{Path: "uploads/", Base64: b64("x")}},
		{"traversal", UploadRequest{Path: "uploads/../content/hero.png", Base64: b64("x")}},
		{"dotdot in name", UploadRequest{Path: "uploads/a..png", Base64: b64("x")}},
		{"backslash", UploadRequest{Path: `uploads\evil.png`, Base64: b64("x")}},
		{"unclean", UploadRequest{Path: "uploads//evil.png", Base64: b64("x")}},
		{"absolute", UploadRequest{Path: "/uploads/evil.png", Base64: b64("x")}},
		{"script", UploadRequest{Path: "uploads/evil.html", Base64: b64("x")}},
		{"no extension", UploadRequest{Path: "uploads/evil", Base64: b64("x")}},
		{"bad base64", UploadRequest{Path: "uploads/a.png", Base64: "%%%"}},
		{"empty body", UploadRequest{Path: "uploads/a.png", Base64: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.svc.Upload(context.Background(), tt.req)
			f.svc.Close()

			assert.ErrorIs(t, err, ErrInvalidUpload)
			exists, err := afero.DirExists(f.fs, "/data/uploads")
			require.NoError(t, err)
			assert.False(t, exists, "no file may be written for a rejected upload")
			assert.Empty(t, f.mirror.batches())
		})
	}
}

func TestUploadSizeLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.maxUpload = 4

	_, err := f.svc.Upload(context.Background(), UploadRequest{Path: "uploads/a.png", Base64: b64("12345")})
	f.svc.Close()
	assert.ErrorIs(t, err, ErrInvalidUpload)
}
