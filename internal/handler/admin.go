package handler

import (
	"errors"
	"net/http"

	"github.com/carenest/authcore/internal/middleware"
	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/service"
)

// AdminResetMFALockout handles POST /api/v1/admin/users/{id}/mfa/reset-lockout
func (h *Handler) AdminResetMFALockout(w http.ResponseWriter, r *http.Request) {
	targetUserID := r.PathValue("id")
	if targetUserID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "User ID is required")
		return
	}

	adminUserID := middleware.GetUserID(r.Context())
	if err := h.mfaSvc.ResetLockout(r.Context(), targetUserID); err != nil {
		if errors.Is(err, service.ErrNotEnabled) {
			writeError(w, http.StatusNotFound, "not_found", "The user has no MFA settings.")
			return
		}
		h.log.Error().Err(err).Str("target_user_id", targetUserID).Msg("failed to reset MFA lockout")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to reset MFA lockout")
		return
	}

	h.log.AuditLog(adminUserID, model.AuditActionMFALockoutReset, model.AuditResourceMFA, targetUserID, map[string]interface{}{
		"ip_address": getClientIP(r),
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "MFA lockout reset",
		"userId":  targetUserID,
	})
}
