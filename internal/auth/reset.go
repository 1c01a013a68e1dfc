package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shuklalaw/sitecms/internal/clock"
	"github.com/shuklalaw/sitecms/internal/state"
)

var (
	ErrUnknownEmail = errors.New("email address not registered for password reset")
	ErrTokenInvalid = errors.New("invalid reset token")
	ErrTokenUsed    = errors.New("reset token already used")
	ErrTokenExpired = errors.New("reset token expired")
)

// DefaultTokenTTL is how long a reset link stays valid.
const DefaultTokenTTL = 15 * time.Minute

// TokenStore persists reset tokens. *state.Store implements it.
type TokenStore interface {
	SaveResetToken(ctx context.Context, token, email string, expiresAt, createdAt time.Time) error
	GetResetToken(ctx context.Context, token string) (state.ResetToken, error)
	MarkResetTokenUsed(ctx context.Context, token string) (bool, error)
	UnmarkResetTokenUsed(ctx context.Context, token string) error
	PurgeResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// Mailer delivers a reset link to the admin.
type Mailer interface {
	SendReset(ctx context.Context, email, resetURL string) error
}

// LogMailer writes the reset link to the log instead of sending mail.
type LogMailer struct {
	Logger *zap.Logger
}

func (m LogMailer) SendReset(_ context.Context, email, resetURL string) error {
	m.Logger.Info("password reset requested", zap.String("email", email), zap.String("reset_url", resetURL))
	return nil
}

// ResetService issues single-use, time-limited reset tokens.
type ResetService struct {
	creds   *CredentialStore
	tokens  TokenStore
	mailer  Mailer
	clock   clock.Clock
	siteURL string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewResetService wires the reset flow. A zero ttl means DefaultTokenTTL.
func NewResetService(creds *CredentialStore, tokens TokenStore, mailer Mailer, clk clock.Clock,
	siteURL string, ttl time.Duration, logger *zap.Logger) *ResetService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &ResetService{
		creds:   creds,
		tokens:  tokens,
		mailer:  mailer,
		clock:   clk,
		siteURL: strings.TrimRight(siteURL, "/"),
		ttl:     ttl,
		logger:  logger,
	}
}

// Request creates a token for email and hands the reset link to the mailer.
func (s *ResetService) Request(ctx context.Context, email string) error {
	registered, err := s.creds.Email()
	if err != nil {
		return err
	}
	if registered == "" || !sameEmail(email, registered) {
		return ErrUnknownEmail
	}

	token, err := newToken()
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if err := s.tokens.SaveResetToken(ctx, token, registered, now.Add(s.ttl), now); err != nil {
		return err
	}
	return s.mailer.SendReset(ctx, registered, s.ResetURL(token))
}

// ResetURL is the admin page link carrying token.
func (s *ResetService) ResetURL(token string) string {
	return s.siteURL + "/admin-reset.html?token=" + url.QueryEscape(token)
}

// Reset consumes token and sets newPassword for the token's email.
func (s *ResetService) Reset(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrTokenInvalid
	}
	rt, err := s.tokens.GetResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return ErrTokenInvalid
		}
		return err
	}
	if rt.Used {
		return ErrTokenUsed
	}
	now := s.clock.Now()
	if now.After(rt.ExpiresAt) {
		return ErrTokenExpired
	}
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}

	ok, err := s.tokens.MarkResetTokenUsed(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenUsed
	}
	if err := s.creds.Update(rt.Email, newPassword); err != nil {
		if uerr := s.tokens.UnmarkResetTokenUsed(context.WithoutCancel(ctx), token); uerr != nil {
			s.logger.Error("release reset token after failed update", zap.Error(uerr))
		}
		return err
	}

	if n, err := s.tokens.PurgeResetTokens(ctx, now); err != nil {
		s.logger.Warn("purge expired reset tokens", zap.Error(err))
	} else if n > 0 {
		s.logger.Debug("purged expired reset tokens", zap.Int64("count", n))
	}
	s.logger.Info("admin password reset", zap.String("email", rt.Email))
	return nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
