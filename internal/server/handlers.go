package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shuklalaw/sitecms/internal/auth"
	"github.com/shuklalaw/sitecms/internal/backend"
	"github.com/shuklalaw/sitecms/internal/content"
	"github.com/shuklalaw/sitecms/internal/insights"
	"github.com/shuklalaw/sitecms/internal/service"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Success: false, Error: code, Message: message})
}

// writeServiceError maps a service error to a status and stable error code.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := http.StatusInternalServerError, "internal", "Internal server error"
	switch {
	case errors.Is(err, content.ErrInvalidName):
		status, code, message = http.StatusBadRequest, "invalid_name", "Invalid section name"
	case errors.Is(err, content.ErrNotFound):
		status, code, message = http.StatusNotFound, "not_found", "Content not found"
	case errors.Is(err, service.ErrInvalidUpload):
		status, code, message = http.StatusBadRequest, "invalid_upload", err.Error()
	case errors.Is(err, service.ErrPersistFailure), errors.Is(err, content.ErrIOFailure):
		code, message = "persist_failure", "Failed to update content"
	case errors.Is(err, service.ErrNotConfigured):
		code, message = "not_configured", "GitHub service not configured"
	case errors.Is(err, service.ErrNothingToDeploy):
		status, code, message = http.StatusBadRequest, "nothing_to_deploy", "No content to deploy"
	case errors.Is(err, backend.ErrUnauthorized):
		code, message = "unauthorized", "Remote repository rejected the credential"
	case errors.Is(err, backend.ErrConflict):
		code, message = "conflict", "Remote branch changed, try again"
	case errors.Is(err, backend.ErrMirrorFailure):
		code, message = "mirror_failure", "Failed to publish content"
	}
	if status >= 500 {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.String("code", code), zap.Error(err))
	}
	writeError(w, status, code, message)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return false
	}
	return true
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Read(r.Context(), r.PathValue("section"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSaveContent(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	if err := content.ValidateName(section); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var doc content.Document
	if !s.decodeJSON(w, r, &doc, false) {
		return
	}
	if doc == nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be a JSON object")
		return
	}

	res, err := s.svc.SaveSection(r.Context(), section, doc)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Content updated successfully",
		"lastUpdated": res.LastUpdated.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleSaveAll(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if !s.decodeJSON(w, r, &body, false) {
		return
	}
	if wrapped, ok := body["content"]; ok && len(body) == 1 {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(wrapped, &inner); err == nil {
			body = inner
		}
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_json", "No sections to save")
		return
	}

	sections := make(map[string]content.Document, len(body))
	for name, raw := range body {
		if err := content.ValidateName(name); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		var doc content.Document
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil || doc == nil {
			writeError(w, http.StatusBadRequest, "invalid_json", fmt.Sprintf("Section %q must be a JSON object", name))
			return
		}
		sections[name] = doc
	}

	res, err := s.svc.SaveAll(r.Context(), sections)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "All content saved successfully",
		"sections":    res.Sections,
		"lastUpdated": res.LastUpdated.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path        string `json:"path"`
		Base64      string `json:"base64"`
		Content     string `json:"content"`
		ContentType string `json:"contentType"`
	}
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	data := req.Base64
	if data == "" {
		data = req.Content
	}

	res, err := s.svc.Upload(r.Context(), service.UploadRequest{
		Path:        req.Path,
		Base64:      data,
		ContentType: req.ContentType,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"url":         res.URL,
		"contentType": res.ContentType,
		"size":        res.Size,
	})
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommitMessage string `json:"commitMessage"`
	}
	if !s.decodeJSON(w, r, &req, true) {
		return
	}

	commit, err := s.svc.Deploy(r.Context(), req.CommitMessage)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Content deployed successfully",
		"commit":  commit,
	})
}

func (s *Server) handleDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.DeploymentStatus(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": st})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	if s.creds == nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}
	if err := s.creds.Verify(req.Email, req.Password); err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Error("verify admin credentials", zap.Error(err))
		}
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Login successful"})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "missing_email", "Email is required")
		return
	}

	const sent = "If the address is registered, a password reset link has been sent"
	if s.reset == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": sent})
		return
	}
	if err := s.reset.Request(r.Context(), req.Email); err != nil {
		if !errors.Is(err, auth.ErrUnknownEmail) {
			s.logger.Error("password reset request", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", "Failed to send reset email")
			return
		}
		s.logger.Warn("password reset requested for unregistered email")
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": sent})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "Token and new password are required")
		return
	}
	if s.reset == nil {
		writeError(w, http.StatusInternalServerError, "not_configured", "Password reset is not configured")
		return
	}

	err := s.reset.Reset(r.Context(), req.Token, req.NewPassword)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Password reset successfully"})
	case errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, http.StatusBadRequest, "invalid_token", "Invalid reset token")
	case errors.Is(err, auth.ErrTokenUsed):
		writeError(w, http.StatusBadRequest, "token_used", "Reset token already used")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusBadRequest, "token_expired", "Reset token expired")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password", "Password must be at least 8 characters long")
	default:
		s.logger.Error("password reset", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Failed to reset password")
	}
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Phone   string `json:"phone"`
		Message string `json:"message"`
	}
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "Please fill in all required fields.")
		return
	}
	s.logger.Info("contact form submission",
		zap.String("name", req.Name),
		zap.String("email", req.Email),
		zap.String("phone", req.Phone),
		zap.Int("message_length", len(req.Message)))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Thank you for your message! We will get back to you soon.",
	})
}

func unavailable(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": insights.UnavailableMessage})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if s.insights == nil {
		unavailable(w)
		return
	}
	var req struct {
		UserID string         `json:"userId"`
		Action string         `json:"action"`
		Data   map[string]any `json:"data"`
	}
	if !s.decodeJSON(w, r, &req, false) {
		return
	}
	if err := s.insights.Track(req.UserID, req.Action, req.Data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Tracking data received"})
}

func (s *Server) handleInsights(w http.ResponseWriter, _ *http.Request) {
	if s.insights == nil {
		unavailable(w)
		return
	}
	writeJSON(w, http.StatusOK, s.insights.Insights())
}
