package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/shuklalaw/sitecms/internal/backend"
	"github.com/shuklalaw/sitecms/internal/content"
)

// DefaultMaxUploadBytes caps a decoded upload at 10 MiB.
const DefaultMaxUploadBytes = 10 << 20

// UploadPrefix is the repository and URL prefix of uploaded files.
const UploadPrefix = "uploads/"

var allowedImageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".avif": "image/avif",
	".ico":  "image/x-icon",
}

// UploadRequest is an image sent by the admin panel.
type UploadRequest struct {
	// Path is repository-relative and must start with "uploads/".
	Path string
	// Base64 is the file body, optionally as a data URL.
	Base64      string
	ContentType string
}

// UploadResult locates the stored file.
type UploadResult struct {
	URL         string `json:"url"`
	Path        string `json:"path"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// Upload validates and stores an image, then mirrors it in the background.
// Every rejection happens before anything is written.
func (s *Service) Upload(_ context.Context, req UploadRequest) (UploadResult, error) {
	rel, ext, err := validateUploadPath(req.Path)
	if err != nil {
		return UploadResult{}, err
	}

	payload, declared := stripDataURL(req.Base64)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: body is not valid base64", ErrInvalidUpload)
	}
	if len(data) == 0 {
		return UploadResult{}, fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}
	if int64(len(data)) > s.maxUpload {
		return UploadResult{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidUpload, len(data), s.maxUpload)
	}

	contentType := uploadContentType(ext, req.ContentType, declared)

	target := filepath.Join(s.uploadsDir, filepath.FromSlash(strings.TrimPrefix(rel, UploadPrefix)))
	if err := content.WriteFile(s.uploads, target, data); err != nil {
		s.logger.Error("upload write failed", zap.String("path", rel), zap.Error(err))
		return UploadResult{}, fmt.Errorf("%w: %s: %v", ErrPersistFailure, rel, err)
	}
	s.logger.Info("upload stored", zap.String("path", rel), zap.Int("bytes", len(data)))

	s.scheduleRemote(KindUpload, nil, []backend.FileChange{{
		Path:     rel,
		Content:  base64.StdEncoding.EncodeToString(data),
		Encoding: backend.EncodingBase64,
	}})

	return UploadResult{
		URL:         (&url.URL{Path: "/" + rel}).EscapedPath(),
		Path:        rel,
		ContentType: contentType,
		Size:        len(data),
	}, nil
}

// validateUploadPath returns the clean repository path and its lowercase extension.
func validateUploadPath(p string) (string, string, error) {
	switch {
	case !strings.HasPrefix(p, UploadPrefix) || len(p) == len(UploadPrefix):
		return "", "", fmt.Errorf("%w: path must start with %q", ErrInvalidUpload, UploadPrefix)
	case strings.Contains(p, ".."):
		return "", "", fmt.Errorf("%w: path must not contain %q", ErrInvalidUpload, "..")
	case strings.ContainsAny(p, "\\\x00"):
		return "", "", fmt.Errorf("%w: path contains an illegal character", ErrInvalidUpload)
	case path.Clean(p) != p:
		return "", "", fmt.Errorf("%w: path is not clean", ErrInvalidUpload)
	}

	ext := strings.ToLower(path.Ext(p))
	if _, ok := allowedImageTypes[ext]; !ok {
		return "", "", fmt.Errorf("%w: extension %q is not an allowed image type", ErrInvalidUpload, ext)
	}
	return p, ext, nil
}

// stripDataURL removes a "data:<type>;base64," prefix, returning the payload
// and the declared type.
func stripDataURL(s string) (string, string) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s, ""
	}
	header, payload, ok := strings.Cut(s, ",")
	if !ok {
		return s, ""
	}
	header = strings.TrimPrefix(header, "data:")
	header = strings.TrimSuffix(header, ";base64")
	return payload, header
}

func uploadContentType(ext string, requested, declared string) string {
	for _, ct := range []string{requested, declared} {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && strings.HasPrefix(mt, "image/") {
			return mt
		}
	}
	return allowedImageTypes[ext]
}
