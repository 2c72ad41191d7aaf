package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/email"
	"github.com/carenest/authcore/internal/logger"
	"github.com/carenest/authcore/internal/metrics"
	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/repository"
)

// MFA service errors
var (
	ErrNotEnabled             = errors.New("MFA is not enabled")
	ErrAlreadyEnabled         = errors.New("MFA is already enabled")
	ErrLocked                 = errors.New("MFA is temporarily locked")
	ErrInvalidCode            = errors.New("invalid MFA code")
	ErrInvalidIP              = errors.New("invalid IP address or CIDR range")
	ErrWhitelistEntryNotFound = errors.New("whitelist entry not found")
	ErrInvalidCount           = errors.New("invalid backup code count")
)

// LockoutError reports that verification is refused until LockedUntil. It
// matches ErrLocked with errors.Is.
type LockoutError struct {
	LockedUntil time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("MFA locked until %s", e.LockedUntil.UTC().Format(time.RFC3339))
}

func (e *LockoutError) Unwrap() error {
	return ErrLocked
}

const (
	defaultMaxFailedAttempts = 5
	defaultLockoutDuration   = 15 * time.Minute
	defaultBackupCodeCount   = 10
	maxBackupCodeCount       = 50
)

// MFAStore is the persistence the MFA service needs. Every mutation is
// atomic at the row level.
type MFAStore interface {
	GetSettings(ctx context.Context, userID string) (*model.MFASettings, error)
	SaveSetup(ctx context.Context, s *model.MFASettings) error
	Enable(ctx context.Context, userID string, at time.Time) error
	RecordSuccess(ctx context.Context, userID string, at time.Time) error
	RecordFailure(ctx context.Context, userID string, at time.Time) (int, error)
	Lock(ctx context.Context, userID string, attempts int, until time.Time) (bool, error)
	ClearExpiredLock(ctx context.Context, userID string, lockedUntil time.Time, at time.Time) error
	ResetLockout(ctx context.Context, userID string, at time.Time) error
	Disable(ctx context.Context, settingsID string, at time.Time) error

	ReplaceBackupCodes(ctx context.Context, settingsID string, codes []*model.BackupCode) error
	ConsumeBackupCode(ctx context.Context, settingsID, codeHash string, at time.Time) (bool, error)
	CountUnusedBackupCodes(ctx context.Context, settingsID string) (int, error)

	CreateWhitelistEntry(ctx context.Context, e *model.IPWhitelistEntry) error
	DeleteWhitelistEntry(ctx context.Context, settingsID, entryID string) error
	ListWhitelistEntries(ctx context.Context, settingsID string, activeOnly bool) ([]*model.IPWhitelistEntry, error)
}

// MFAService handles TOTP enrollment, code verification, backup codes, the
// IP whitelist and failed-attempt lockout
type MFAService struct {
	repo    MFAStore
	cfg     config.MFAConfig
	mailer  email.Sender
	appName string
	log     *logger.Logger
	now     func() time.Time
}

// NewMFAService creates a new MFAService. mailer may be nil, in which case
// no security notifications are sent.
func NewMFAService(repo MFAStore, cfg *config.Config, mailer email.Sender, log *logger.Logger) *MFAService {
	mfaCfg := cfg.MFA
	if mfaCfg.TOTP.Issuer == "" {
		mfaCfg.TOTP.Issuer = "CareNest"
	}
	if mfaCfg.TOTP.Digits == 0 {
		mfaCfg.TOTP.Digits = 6
	}
	if mfaCfg.TOTP.Period == 0 {
		mfaCfg.TOTP.Period = 30
	}
	if mfaCfg.Lockout.MaxFailedAttempts <= 0 {
		mfaCfg.Lockout.MaxFailedAttempts = defaultMaxFailedAttempts
	}
	if mfaCfg.Lockout.Duration <= 0 {
		mfaCfg.Lockout.Duration = defaultLockoutDuration
	}
	if mfaCfg.BackupCodeCount <= 0 {
		mfaCfg.BackupCodeCount = defaultBackupCodeCount
	}

	appName := cfg.Email.AppName
	if appName == "" {
		appName = mfaCfg.TOTP.Issuer
	}

	return &MFAService{
		repo:    repo,
		cfg:     mfaCfg,
		mailer:  mailer,
		appName: appName,
		log:     log.WithComponent("mfa_service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service's time source
func (s *MFAService) WithClock(now func() time.Time) *MFAService {
	s.now = now
	return s
}

// --- Setup & enablement ---

// InitiateSetup provisions a fresh TOTP secret. MFA stays disabled until
// EnableMFA confirms a code generated from it. Calling it again before
// enabling replaces the pending secret.
func (s *MFAService) InitiateSetup(ctx context.Context, userID, userEmail string, method model.MFAMethod, recoveryEmail *string) (*model.MFASetupResponse, error) {
	method, err := model.ParseMFAMethod(string(method))
	if err != nil {
		return nil, err
	}
	if userEmail == "" {
		return nil, errors.New("account email is required for TOTP setup")
	}

	existing, err := s.repo.GetSettings(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load MFA settings: %w", err)
	}
	if existing != nil && existing.IsEnabled {
		return nil, ErrAlreadyEnabled
	}

	issuer := s.cfg.TOTP.Issuer
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: userEmail,
		Period:      uint(s.cfg.TOTP.Period),
		Digits:      otp.Digits(s.cfg.TOTP.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	secret := key.Secret()
	uri := provisioningURI(issuer, userEmail, secret)

	qrPNG, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	now := s.now()
	settings := &model.MFASettings{
		ID:            generateID("mfa"),
		UserID:        userID,
		Method:        method,
		SecretKey:     &secret,
		RecoveryEmail: recoveryEmail,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.SaveSetup(ctx, settings); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyEnabled
		}
		return nil, fmt.Errorf("failed to store MFA setup: %w", err)
	}

	s.log.Info().Str("user_id", userID).Msg("TOTP setup initiated")
	s.log.AuditLog(userID, model.AuditActionMFASetup, model.AuditResourceMFA, userID, nil)

	return &model.MFASetupResponse{
		Secret: secret,
		QRURI:  uri,
		QRCode: base64.StdEncoding.EncodeToString(qrPNG),
		Method: method,
		Issuer: issuer,
	}, nil
}

// provisioningURI builds the otpauth URI authenticator apps scan. Label and
// issuer are percent-encoded the same way so "+" and spaces survive.
func provisioningURI(issuer, accountEmail, secret string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		escapeURIComponent(issuer), escapeURIComponent(accountEmail), secret, escapeURIComponent(issuer))
}

func escapeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// EnableMFA confirms a pending setup with a code from the new secret. A wrong
// code leaves MFA disabled and counts toward lockout.
func (s *MFAService) EnableMFA(ctx context.Context, userID, code string) (*model.VerifyResult, error) {
	settings, err := s.getSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !settings.HasSecret() {
		return nil, ErrNotEnabled
	}
	if settings.IsEnabled {
		return nil, ErrAlreadyEnabled
	}

	result, err := s.VerifyTOTP(ctx, userID, code, true)
	if err != nil || !result.Verified {
		return result, err
	}

	if err := s.repo.Enable(ctx, userID, s.now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyEnabled
		}
		return nil, fmt.Errorf("failed to enable MFA: %w", err)
	}

	s.log.Info().Str("user_id", userID).Msg("MFA enabled")
	s.log.AuditLog(userID, model.AuditActionMFAEnabled, model.AuditResourceMFA, settings.ID, nil)
	return result, nil
}

// DisableMFA turns MFA off after proving possession of the second factor.
// The secret, counters and every backup code are removed together.
func (s *MFAService) DisableMFA(ctx context.Context, userID, code string, isBackupCode bool) (*model.VerifyResult, error) {
	settings, err := s.requireEnabled(ctx, userID)
	if err != nil {
		return nil, err
	}

	var result *model.VerifyResult
	if isBackupCode {
		result, err = s.VerifyBackupCode(ctx, userID, code)
	} else {
		result, err = s.VerifyTOTP(ctx, userID, code, false)
	}
	if err != nil || !result.Verified {
		return result, err
	}

	now := s.now()
	if err := s.repo.Disable(ctx, settings.ID, now); err != nil {
		return nil, fmt.Errorf("failed to disable MFA: %w", err)
	}

	s.log.Info().Str("user_id", userID).Msg("MFA disabled")
	s.log.AuditLog(userID, model.AuditActionMFADisabled, model.AuditResourceMFA, settings.ID, map[string]interface{}{
		"via_backup_code": isBackupCode,
	})
	s.notify(ctx, settings, func(to string) email.Message {
		return email.MFADisabledAlert(to, s.appName, now)
	})
	return result, nil
}

// --- Verification ---

// VerifyTOTP checks a 6-digit code against the user's secret, accepting the
// configured number of periods either side of now. setup allows checking a
// secret that has not been enabled yet. A mismatch is booked as a failed
// attempt and may lock the account.
func (s *MFAService) VerifyTOTP(ctx context.Context, userID, code string, setup bool) (*model.VerifyResult, error) {
	settings, err := s.loadForVerification(ctx, userID, setup)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !s.validateTOTP(*settings.SecretKey, code, now) {
		return s.recordFailure(ctx, settings, "totp", now)
	}

	if err := s.repo.RecordSuccess(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("failed to record MFA success: %w", err)
	}

	metrics.MFAVerificationsTotal.WithLabelValues("totp", metrics.OutcomeSuccess).Inc()
	s.log.AuditLog(userID, model.AuditActionMFAVerified, model.AuditResourceMFA, settings.ID, map[string]interface{}{
		"method": "totp",
		"setup":  setup,
	})
	return &model.VerifyResult{Verified: true, RemainingAttempts: s.cfg.Lockout.MaxFailedAttempts}, nil
}

func (s *MFAService) validateTOTP(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != s.cfg.TOTP.Digits {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    uint(s.cfg.TOTP.Period),
		Skew:      uint(s.cfg.TOTP.Skew),
		Digits:    otp.Digits(s.cfg.TOTP.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// loadForVerification applies the checks shared by every code path: a
// secret must exist, the account must not be locked, and MFA must be
// enabled unless this is the setup confirmation. A lock that has run out
// is cleared so the user starts again with a full set of attempts.
func (s *MFAService) loadForVerification(ctx context.Context, userID string, setup bool) (*model.MFASettings, error) {
	settings, err := s.getSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !settings.HasSecret() {
		return nil, ErrNotEnabled
	}

	now := s.now()
	if settings.IsLocked(now) {
		metrics.MFAVerificationsTotal.WithLabelValues(string(settings.Method), metrics.OutcomeLocked).Inc()
		return nil, &LockoutError{LockedUntil: settings.LockedUntil.UTC()}
	}
	if settings.LockedUntil != nil {
		if err := s.repo.ClearExpiredLock(ctx, userID, *settings.LockedUntil, now); err != nil {
			return nil, err
		}
		settings.LockedUntil = nil
		settings.FailedAttempts = 0
	}

	if !setup && !settings.IsEnabled {
		return nil, ErrNotEnabled
	}
	return settings, nil
}

// recordFailure books a failed attempt and locks the account once the
// threshold is reached
func (s *MFAService) recordFailure(ctx context.Context, settings *model.MFASettings, method string, now time.Time) (*model.VerifyResult, error) {
	attempts, err := s.repo.RecordFailure(ctx, settings.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record MFA failure: %w", err)
	}

	maxAttempts := s.cfg.Lockout.MaxFailedAttempts
	if attempts < maxAttempts {
		metrics.MFAVerificationsTotal.WithLabelValues(method, metrics.OutcomeFailure).Inc()
		s.log.AuditLog(settings.UserID, model.AuditActionMFAVerifyFailed, model.AuditResourceMFA, settings.ID, map[string]interface{}{
			"method":   method,
			"attempts": attempts,
		})
		return &model.VerifyResult{Verified: false, RemainingAttempts: maxAttempts - attempts}, nil
	}

	until := now.Add(s.cfg.Lockout.Duration)
	locked, err := s.repo.Lock(ctx, settings.UserID, attempts, until)
	if err != nil {
		return nil, fmt.Errorf("failed to lock MFA: %w", err)
	}

	metrics.MFAVerificationsTotal.WithLabelValues(method, metrics.OutcomeLocked).Inc()
	if locked {
		metrics.MFALockoutsTotal.Inc()
		s.log.Warn().Str("user_id", settings.UserID).Time("locked_until", until).Msg("MFA locked after repeated failures")
		s.log.AuditLog(settings.UserID, model.AuditActionMFALocked, model.AuditResourceMFA, settings.ID, map[string]interface{}{
			"attempts":     attempts,
			"locked_until": until,
		})
		s.notify(ctx, settings, func(to string) email.Message {
			return email.LockoutAlert(to, s.appName, until)
		})
	} else if current, err := s.repo.GetSettings(ctx, settings.UserID); err == nil && current.LockedUntil != nil {
		// a concurrent failure stamped the lock
		until = current.LockedUntil.UTC()
	}

	return &model.VerifyResult{Verified: false, RemainingAttempts: 0, LockedUntil: &until}, nil
}

// ResetLockout clears the failed attempt counter and any active lock
func (s *MFAService) ResetLockout(ctx context.Context, userID string) error {
	if err := s.repo.ResetLockout(ctx, userID, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotEnabled
		}
		return fmt.Errorf("failed to reset MFA lockout: %w", err)
	}
	s.log.Info().Str("user_id", userID).Msg("MFA lockout reset")
	return nil
}

// --- Status ---

// IsEnabled reports whether the user must pass a second factor at login
func (s *MFAService) IsEnabled(ctx context.Context, userID string) (bool, error) {
	settings, err := s.repo.GetSettings(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load MFA settings: %w", err)
	}
	return settings.IsEnabled, nil
}

// GetStatus summarizes the user's MFA configuration
func (s *MFAService) GetStatus(ctx context.Context, userID string) (*model.MFAStatus, error) {
	settings, err := s.repo.GetSettings(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &model.MFAStatus{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load MFA settings: %w", err)
	}

	method := settings.Method
	status := &model.MFAStatus{
		Enabled:        settings.IsEnabled,
		Configured:     settings.HasSecret(),
		Method:         &method,
		Locked:         settings.IsLocked(s.now()),
		FailedAttempts: settings.FailedAttempts,
		LastVerifiedAt: settings.LastVerifiedAt,
	}
	if status.Locked {
		until := settings.LockedUntil.UTC()
		status.LockedUntil = &until
	}

	if status.BackupCodesRemaining, err = s.repo.CountUnusedBackupCodes(ctx, settings.ID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListWhitelistEntries(ctx, settings.ID, true)
	if err != nil {
		return nil, err
	}
	status.WhitelistEntries = len(entries)
	return status, nil
}

// --- Helpers ---

func (s *MFAService) getSettings(ctx context.Context, userID string) (*model.MFASettings, error) {
	settings, err := s.repo.GetSettings(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotEnabled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load MFA settings: %w", err)
	}
	return settings, nil
}

func (s *MFAService) requireEnabled(ctx context.Context, userID string) (*model.MFASettings, error) {
	settings, err := s.getSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !settings.IsEnabled {
		return nil, ErrNotEnabled
	}
	return settings, nil
}

// notify emails the recovery address, if one is set. Delivery problems are
// logged and otherwise ignored.
func (s *MFAService) notify(ctx context.Context, settings *model.MFASettings, build func(to string) email.Message) {
	if s.mailer == nil || settings.RecoveryEmail == nil || *settings.RecoveryEmail == "" {
		return
	}
	if err := s.mailer.Send(ctx, build(*settings.RecoveryEmail)); err != nil {
		s.log.Error().Err(err).Str("user_id", settings.UserID).Msg("failed to send security notification")
	}
}
