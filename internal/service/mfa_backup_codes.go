package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/carenest/authcore/internal/metrics"
	"github.com/carenest/authcore/internal/model"
)

// backupCodeAlphabet leaves out 0, O, 1, I and L
const (
	backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	backupCodeLength   = 8
)

// GenerateBackupCodes replaces every existing backup code with count new
// ones. A current TOTP code is required; a wrong one counts toward lockout.
// The plaintext codes are returned once and only their hashes are stored.
// A count of zero means the configured default.
func (s *MFAService) GenerateBackupCodes(ctx context.Context, userID, code string, count int) (*model.BackupCodesResponse, error) {
	if count < 0 || count > maxBackupCodeCount {
		return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidCount, maxBackupCodeCount)
	}
	if count == 0 {
		count = s.cfg.BackupCodeCount
	}

	settings, err := s.requireEnabled(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := s.VerifyTOTP(ctx, userID, code, false)
	if err != nil {
		return nil, err
	}
	if !result.Verified {
		if result.LockedUntil != nil {
			return nil, &LockoutError{LockedUntil: *result.LockedUntil}
		}
		return nil, fmt.Errorf("%w: %d attempts remaining", ErrInvalidCode, result.RemainingAttempts)
	}

	now := s.now()
	plain := make([]string, 0, count)
	rows := make([]*model.BackupCode, 0, count)
	for i := 0; i < count; i++ {
		c, err := generateBackupCode()
		if err != nil {
			return nil, err
		}
		plain = append(plain, c)
		rows = append(rows, &model.BackupCode{
			ID:         generateID("bkc"),
			SettingsID: settings.ID,
			CodeHash:   hashBackupCode(c),
			CreatedAt:  now,
		})
	}

	if err := s.repo.ReplaceBackupCodes(ctx, settings.ID, rows); err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}

	s.log.Info().Str("user_id", userID).Int("count", count).Msg("backup codes generated")
	s.log.AuditLog(userID, model.AuditActionMFABackupCodesGen, model.AuditResourceMFA, settings.ID, map[string]interface{}{
		"count": count,
	})

	return &model.BackupCodesResponse{
		Codes:       plain,
		GeneratedAt: now,
		Count:       count,
	}, nil
}

// VerifyBackupCode spends a backup code. Input is case-insensitive and may
// include the display hyphen. Each code works exactly once, even when two
// requests race for it; a miss is booked like a wrong TOTP code.
func (s *MFAService) VerifyBackupCode(ctx context.Context, userID, code string) (*model.VerifyResult, error) {
	settings, err := s.loadForVerification(ctx, userID, false)
	if err != nil {
		return nil, err
	}

	now := s.now()
	consumed, err := s.repo.ConsumeBackupCode(ctx, settings.ID, hashBackupCode(code), now)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return s.recordFailure(ctx, settings, "backup_code", now)
	}

	if err := s.repo.RecordSuccess(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("failed to record MFA success: %w", err)
	}

	metrics.MFAVerificationsTotal.WithLabelValues("backup_code", metrics.OutcomeSuccess).Inc()
	s.log.AuditLog(userID, model.AuditActionMFABackupCodeUsed, model.AuditResourceMFA, settings.ID, nil)
	return &model.VerifyResult{Verified: true, RemainingAttempts: s.cfg.Lockout.MaxFailedAttempts}, nil
}

func generateBackupCode() (string, error) {
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	var b strings.Builder
	b.Grow(backupCodeLength + 1)
	for i := 0; i < backupCodeLength; i++ {
		if i == backupCodeLength/2 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate backup code: %w", err)
		}
		b.WriteByte(backupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

func hashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(normalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}
