package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/carenest/authcore/internal/auth"
	"github.com/carenest/authcore/internal/middleware"
	"github.com/carenest/authcore/internal/service"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/auth/login. Users with MFA get a challenge
// token instead of a token pair.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Email and password are required")
		return
	}

	result, err := h.authSvc.Login(r.Context(), service.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMFARequired) && result != nil && result.MFAChallenge != nil:
			writeJSON(w, http.StatusOK, result.MFAChallenge)
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "The email or password is incorrect.")
		default:
			h.log.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result.Tokens)
}

type mfaLoginRequest struct {
	ChallengeToken string `json:"challengeToken"`
	Code           string `json:"code"`
	IsBackupCode   bool   `json:"isBackupCode"`
}

// CompleteMFALogin handles POST /api/v1/auth/mfa
func (h *Handler) CompleteMFALogin(w http.ResponseWriter, r *http.Request) {
	var req mfaLoginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.ChallengeToken == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Challenge token and code are required")
		return
	}

	pair, result, err := h.authSvc.CompleteMFALogin(r.Context(), service.MFALoginRequest{
		ChallengeToken: req.ChallengeToken,
		Code:           req.Code,
		IsBackupCode:   req.IsBackupCode,
		IPAddress:      getClientIP(r),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidChallenge) {
			writeError(w, http.StatusUnauthorized, "invalid_challenge", "The MFA challenge is invalid or has expired.")
			return
		}
		h.writeMFAError(w, err, result)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken handles POST /api/v1/auth/token/refresh
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := readJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Refresh token is required")
		return
	}

	pair, err := h.sessionSvc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenRevoked) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
			return
		}
		h.log.Error().Err(err).Msg("token refresh failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Token refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Logout handles POST /api/v1/auth/logout. The access token comes from the
// Authorization header; a refresh token in the body is revoked as well.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := readOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	if err := h.authSvc.Logout(r.Context(), middleware.GetToken(r.Context()), req.RefreshToken); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenRevoked) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
			return
		}
		h.log.WithUserID(middleware.GetUserID(r.Context())).Error().Err(err).Msg("logout failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Logout failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
