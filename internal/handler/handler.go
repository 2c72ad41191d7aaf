package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/logger"
	"github.com/carenest/authcore/internal/middleware"
	"github.com/carenest/authcore/internal/service"
)

const maxBodyBytes = 64 << 10

// HealthChecker is a dependency that can report whether it is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers
type Handler struct {
	db         HealthChecker
	rdb        HealthChecker
	log        *logger.Logger
	cfg        *config.Config
	authSvc    *service.AuthService
	mfaSvc     *service.MFAService
	sessionSvc *service.SessionService
}

// New creates a new Handler instance
func New(db, rdb HealthChecker, log *logger.Logger, cfg *config.Config, authSvc *service.AuthService, mfaSvc *service.MFAService, sessionSvc *service.SessionService) *Handler {
	return &Handler{
		db:         db,
		rdb:        rdb,
		log:        log.WithComponent("handler"),
		cfg:        cfg,
		authSvc:    authSvc,
		mfaSvc:     mfaSvc,
		sessionSvc: sessionSvc,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	body := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	for k, v := range details {
		body[k] = v
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// readOptionalJSON decodes the body when there is one
func readOptionalJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := readJSON(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func getClientIP(r *http.Request) string {
	return middleware.ClientIP(r)
}
