package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/carenest/authcore/internal/middleware"
	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/service"
)

// writeMFAError renders MFA failures. Lockouts carry lockedUntil and wrong
// codes carry the attempts left before lockout.
func (h *Handler) writeMFAError(w http.ResponseWriter, err error, result *model.VerifyResult) {
	var lockout *service.LockoutError
	switch {
	case errors.As(err, &lockout):
		writeErrorWithDetails(w, http.StatusLocked, "mfa_locked", "Too many failed attempts. Try again later.", map[string]interface{}{
			"lockedUntil": lockout.LockedUntil.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, service.ErrInvalidCode):
		details := map[string]interface{}{}
		if result != nil {
			details["remainingAttempts"] = result.RemainingAttempts
		}
		writeErrorWithDetails(w, http.StatusUnauthorized, "invalid_code", "The verification code is incorrect.", details)
	case errors.Is(err, service.ErrNotEnabled):
		writeError(w, http.StatusBadRequest, "mfa_not_enabled", "MFA is not enabled for this account.")
	case errors.Is(err, service.ErrAlreadyEnabled):
		writeError(w, http.StatusConflict, "mfa_already_enabled", "MFA is already enabled for this account.")
	case errors.Is(err, service.ErrInvalidIP):
		writeError(w, http.StatusBadRequest, "invalid_ip", "Not a valid IP address or CIDR range.")
	case errors.Is(err, service.ErrWhitelistEntryNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Whitelist entry not found.")
	case errors.Is(err, service.ErrInvalidCount):
		writeError(w, http.StatusBadRequest, "validation_error", "Backup code count must be between 1 and 50.")
	default:
		h.log.Error().Err(err).Msg("MFA request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "MFA request failed")
	}
}

// verifyOutcome turns an unverified result into the matching error
func verifyOutcome(result *model.VerifyResult) error {
	if result.Verified {
		return nil
	}
	if result.LockedUntil != nil {
		return &service.LockoutError{LockedUntil: *result.LockedUntil}
	}
	return service.ErrInvalidCode
}

// GetMFAStatus handles GET /api/v1/mfa
func (h *Handler) GetMFAStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.mfaSvc.GetStatus(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeMFAError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type mfaSetupRequest struct {
	Method        string  `json:"method,omitempty"`
	RecoveryEmail *string `json:"recoveryEmail,omitempty"`
}

// SetupMFA handles POST /api/v1/mfa/setup
func (h *Handler) SetupMFA(w http.ResponseWriter, r *http.Request) {
	var req mfaSetupRequest
	if err := readOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	method, err := model.ParseMFAMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Unsupported MFA method")
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	accountEmail := middleware.GetEmail(ctx)
	if accountEmail == "" {
		user, err := h.authSvc.GetUser(ctx, userID)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to load user for MFA setup")
			writeError(w, http.StatusInternalServerError, "internal_error", "MFA setup failed")
			return
		}
		accountEmail = user.Email
	}

	resp, err := h.mfaSvc.InitiateSetup(ctx, userID, accountEmail, method, req.RecoveryEmail)
	if err != nil {
		h.writeMFAError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type mfaCodeRequest struct {
	Code         string `json:"code"`
	IsBackupCode bool   `json:"isBackupCode,omitempty"`
}

func readCode(w http.ResponseWriter, r *http.Request) (*mfaCodeRequest, bool) {
	var req mfaCodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return nil, false
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Code is required")
		return nil, false
	}
	return &req, true
}

// EnableMFA handles POST /api/v1/mfa/enable
func (h *Handler) EnableMFA(w http.ResponseWriter, r *http.Request) {
	req, ok := readCode(w, r)
	if !ok {
		return
	}

	result, err := h.mfaSvc.EnableMFA(r.Context(), middleware.GetUserID(r.Context()), req.Code)
	if err == nil {
		err = verifyOutcome(result)
	}
	if err != nil {
		h.writeMFAError(w, err, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// VerifyMFA handles POST /api/v1/mfa/verify
func (h *Handler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	req, ok := readCode(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	var (
		result *model.VerifyResult
		err    error
	)
	if req.IsBackupCode {
		result, err = h.mfaSvc.VerifyBackupCode(ctx, userID, req.Code)
	} else {
		result, err = h.mfaSvc.VerifyTOTP(ctx, userID, req.Code, false)
	}
	if err == nil {
		err = verifyOutcome(result)
	}
	if err != nil {
		h.writeMFAError(w, err, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DisableMFA handles POST /api/v1/mfa/disable
func (h *Handler) DisableMFA(w http.ResponseWriter, r *http.Request) {
	req, ok := readCode(w, r)
	if !ok {
		return
	}

	result, err := h.mfaSvc.DisableMFA(r.Context(), middleware.GetUserID(r.Context()), req.Code, req.IsBackupCode)
	if err == nil {
		err = verifyOutcome(result)
	}
	if err != nil {
		h.writeMFAError(w, err, result)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type backupCodesRequest struct {
	Code  string `json:"code"`
	Count int    `json:"count,omitempty"`
}

// GenerateBackupCodes handles POST /api/v1/mfa/backup-codes
func (h *Handler) GenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req backupCodesRequest
	if err := readJSON(r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Code is required")
		return
	}

	resp, err := h.mfaSvc.GenerateBackupCodes(r.Context(), middleware.GetUserID(r.Context()), req.Code, req.Count)
	if err != nil {
		h.writeMFAError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListWhitelist handles GET /api/v1/mfa/whitelist
func (h *Handler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.mfaSvc.GetIPWhitelist(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeMFAError(w, err, nil)
		return
	}
	if entries == nil {
		entries = []*model.IPWhitelistEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

type whitelistRequest struct {
	IPAddress   string  `json:"ipAddress"`
	Description *string `json:"description,omitempty"`
}

// AddWhitelistEntry handles POST /api/v1/mfa/whitelist
func (h *Handler) AddWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := readJSON(r, &req); err != nil || req.IPAddress == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "IP address is required")
		return
	}

	entry, err := h.mfaSvc.AddIPToWhitelist(r.Context(), middleware.GetUserID(r.Context()), req.IPAddress, req.Description)
	if err != nil {
		h.writeMFAError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// RemoveWhitelistEntry handles DELETE /api/v1/mfa/whitelist/{id}
func (h *Handler) RemoveWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.mfaSvc.RemoveIPFromWhitelist(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id")); err != nil {
		h.writeMFAError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
