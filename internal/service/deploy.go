package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shuklalaw/sitecms/internal/backend"
	"github.com/shuklalaw/sitecms/internal/content"
	"github.com/shuklalaw/sitecms/internal/state"
)

// Status is the combined view served by deployment-status.
type Status struct {
	Mirror      string                  `json:"mirror,omitempty"`
	Remote      *backend.Deployment     `json:"remote,omitempty"`
	RemoteError string                  `json:"remoteError,omitempty"`
	LastAttempt *state.DeploymentRecord `json:"lastAttempt,omitempty"`
}

// Deploy mirrors every stored section in one commit and notifies the host.
// Unlike saves it runs synchronously and returns the mirror error.
func (s *Service) Deploy(ctx context.Context, message string) (*backend.CommitResult, error) {
	if s.mirror == nil {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(message) == "" {
		message = s.message
	}

	names, err := s.store.List()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNothingToDeploy
	}
	changes := make([]backend.FileChange, 0, len(names))
	for _, name := range names {
		data, err := s.store.ReadRaw(name)
		if err != nil {
			return nil, err
		}
		changes = append(changes, backend.FileChange{
			Path:     content.RemotePath(name),
			Content:  string(data),
			Encoding: backend.EncodingUTF8,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := s.mirrorAndTrigger(ctx, KindDeploy, names, changes, message)
	if err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	return result, nil
}

// DeploymentStatus reports the host's latest deployment, when the mirror can
// see it, and the last locally journaled attempt.
func (s *Service) DeploymentStatus(ctx context.Context) (*Status, error) {
	if s.mirror == nil && s.journal == nil {
		return nil, ErrNotConfigured
	}

	st := &Status{}
	if s.mirror != nil {
		st.Mirror = s.mirror.Name()
		if src, ok := s.mirror.(backend.DeploymentSource); ok {
			ctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			d, err := src.LatestDeployment(ctx)
			if err != nil {
				s.logger.Warn("fetch deployment status", zap.Error(err))
				st.RemoteError = err.Error()
			}
			st.Remote = d
		}
	}

	if s.journal != nil {
		last, err := s.journal.LastDeployment(ctx)
		if err != nil {
			return nil, err
		}
		st.LastAttempt = last
	}

	if st.Remote == nil && st.LastAttempt == nil && st.RemoteError == "" && s.mirror == nil {
		return nil, ErrNotConfigured
	}
	return st, nil
}

// History lists recent mirror commits when the backend supports it.
func (s *Service) History(ctx context.Context, limit int) ([]backend.CommitSummary, error) {
	src, ok := s.mirror.(backend.HistorySource)
	if !ok {
		return nil, ErrNotConfigured
	}
	commits, err := src.History(ctx, limit)
	if err != nil && errors.Is(err, backend.ErrNotConfigured) {
		return nil, ErrNotConfigured
	}
	return commits, err
}
