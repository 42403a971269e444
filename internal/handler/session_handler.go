package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"identity-service/internal/model"
	"identity-service/internal/service"
	"identity-service/internal/util"
)

const maxBodyBytes = 1 << 16

// SessionService is the part of the session manager exposed over HTTP.
type SessionService interface {
	TemporaryLogout(ctx context.Context, email string) error
	PermanentLogout(ctx context.Context, email string) error
	AuthenticateFromCache(ctx context.Context, username string, pin int) (*model.SessionView, error)
	GetSessionView(ctx context.Context, email string) (*model.SessionView, error)
	ListCachedSessions(ctx context.Context) ([]*model.CachedSession, error)
	IsSessionCached(ctx context.Context, email string) (bool, error)
	IsSessionValid(ctx context.Context, email string) (bool, error)
	AuthorizeToken(ctx context.Context, accessToken string, perm model.Permission) (*model.SessionView, error)
}

// SessionHandler handles HTTP requests for employer sessions
type SessionHandler struct {
	sessions SessionService
	logger   *zap.Logger
}

func NewSessionHandler(sessions SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
	Message   string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success:   false,
		Error:     err.Error(),
		ErrorCode: errorCode(err),
		Message:   message,
	}
}

type logoutRequest struct {
	Username string `json:"username"`
}

type authenticateRequest struct {
	Username string   `json:"username"`
	Pin      *pinCode `json:"pin"`
}

// pinCode accepts 4321 as well as "4321"; PIN pads send either.
type pinCode int

func (p *pinCode) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return errors.New("pin must be numeric")
	}
	*p = pinCode(n)
	return nil
}

type sessionCheck struct {
	Email  string `json:"email"`
	Cached bool   `json:"cached"`
	Valid  bool   `json:"valid"`
}

// RegisterRoutes registers all session routes
func (h *SessionHandler) RegisterRoutes(router chi.Router) {
	router.Route("/session", func(r chi.Router) {
		r.Post("/logout/temporary", h.TemporaryLogout)
		r.Post("/logout/permanent", h.PermanentLogout)
		r.Post("/authenticate/cached", h.AuthenticateFromCache)

		r.Get("/cached-session/{email}", h.GetCachedSession)
		r.Get("/cached-sessions", h.ListCachedSessions)
		r.Get("/check/{email}", h.CheckSession)
		r.Get("/token/verify", h.VerifyToken)
	})
}

// TemporaryLogout handles logout that keeps the session for PIN re-entry
// @Summary Temporary logout
// @Tags session
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /session/logout/temporary [post]
func (h *SessionHandler) TemporaryLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.sessions.TemporaryLogout(r.Context(), req.Username); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Temporary logout failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Temporary logout successful"))
}

// PermanentLogout handles logout that discards the cached session
// @Summary Permanent logout
// @Tags session
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /session/logout/permanent [post]
func (h *SessionHandler) PermanentLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.sessions.PermanentLogout(r.Context(), req.Username); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Permanent logout failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logout successful"))
}

// AuthenticateFromCache handles PIN login
// @Summary Authenticate with PIN
// @Description Uses the cached session when one is usable, otherwise checks the PIN against the identity store
// @Tags session
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Failure 429 {object} Response
// @Router /session/authenticate/cached [post]
func (h *SessionHandler) AuthenticateFromCache(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req authenticateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Pin == nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: pin is required", service.ErrInvalidInput), "Invalid request body")
		return
	}

	view, err := h.sessions.AuthenticateFromCache(r.Context(), req.Username, int(*req.Pin))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Authentication failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(view, view.AuthenticationResponse.Message))
	h.logger.Debug("PIN authentication via HTTP",
		util.String("email", view.EmployerDetails.Email),
		util.Duration("duration", time.Since(startTime)))
}

// GetCachedSession returns the cached session view
// @Summary Get cached session
// @Tags session
// @Produce json
// @Param email path string true "Employer email"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /session/cached-session/{email} [get]
func (h *SessionHandler) GetCachedSession(w http.ResponseWriter, r *http.Request) {
	email, err := emailParam(r)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid email")
		return
	}

	view, err := h.sessions.GetSessionView(r.Context(), email)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "No cached session")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(view, "Cached session retrieved"))
}

func (h *SessionHandler) ListCachedSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListCachedSessions(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list cached sessions")
		return
	}

	views := make([]*model.SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View("Cached session"))
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(views, fmt.Sprintf("%d cached sessions", len(views))))
}

func (h *SessionHandler) CheckSession(w http.ResponseWriter, r *http.Request) {
	email, err := emailParam(r)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid email")
		return
	}

	cached, err := h.sessions.IsSessionCached(r.Context(), email)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Session check failed")
		return
	}
	valid := false
	if cached {
		if valid, err = h.sessions.IsSessionValid(r.Context(), email); err != nil {
			h.respondWithError(w, h.getStatusCode(err), err, "Session check failed")
			return
		}
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(sessionCheck{Email: email, Cached: cached, Valid: valid}, ""))
}

// VerifyToken lets other POS services check a bearer token
// @Summary Verify access token
// @Description Resolves the bearer token to its cached session, optionally requiring a permission
// @Tags session
// @Produce json
// @Param permission query string false "Permission such as cashier:read"
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 403 {object} Response
// @Router /session/token/verify [get]
func (h *SessionHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := bearerToken(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, fmt.Errorf("%w: missing bearer token", service.ErrInvalidToken), "Token verification failed")
		return
	}
	perm := model.Permission(strings.TrimSpace(r.URL.Query().Get("permission")))

	view, err := h.sessions.AuthorizeToken(r.Context(), accessToken, perm)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Token verification failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(view, view.AuthenticationResponse.Message))
}

// -------------------- HELPERS --------------------

func (h *SessionHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	// unknown fields are ignored, POS clients send extra device metadata
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, tok, found := strings.Cut(r.Header.Get("Authorization"), " ")
	tok = strings.TrimSpace(tok)
	if !found || !strings.EqualFold(scheme, "Bearer") || tok == "" {
		return "", false
	}
	return tok, true
}

func emailParam(r *http.Request) (string, error) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || util.ContainsSuspicious(email) {
		return "", fmt.Errorf("%w: malformed email", service.ErrInvalidInput)
	}
	return email, nil
}

func (h *SessionHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *SessionHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	log := h.logger.Warn
	if statusCode >= http.StatusInternalServerError {
		log = h.logger.Error
	}
	log("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message))
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

func (h *SessionHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrPINLocked):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrEmployerNotFound), errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode gives clients a stable reason to branch on.
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, service.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, service.ErrInvalidPIN):
		return "invalid_pin"
	case errors.Is(err, service.ErrPINLocked):
		return "pin_locked"
	case errors.Is(err, service.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, service.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, service.ErrEmployerNotFound):
		return "employer_not_found"
	case errors.Is(err, service.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, service.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, service.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal_error"
	}
}
