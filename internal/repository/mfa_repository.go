package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/carenest/authcore/internal/database"
	"github.com/carenest/authcore/internal/model"
	"github.com/jmoiron/sqlx"
)

// MFARepository handles MFA settings, backup codes and IP whitelist
// persistence. Every state change is a single statement or a transaction so
// concurrent requests for the same user cannot lose updates.
type MFARepository struct {
	db *database.DB
}

// NewMFARepository creates a new MFARepository
func NewMFARepository(db *database.DB) *MFARepository {
	return &MFARepository{db: db}
}

const settingsColumns = `id, user_id, is_enabled, method, secret_key, recovery_email,
	failed_attempts, locked_until, last_verified_at, created_at, updated_at`

// --- Settings ---

// GetSettings retrieves the MFA settings row for a user
func (r *MFARepository) GetSettings(ctx context.Context, userID string) (*model.MFASettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM mfa_settings WHERE user_id = ?`

	var s model.MFASettings
	err := r.db.GetContext(ctx, &s, r.db.Rebind(query), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get MFA settings: %w", err)
	}
	return &s, nil
}

// SaveSetup creates the settings row or replaces the pending secret on an
// existing one. The update only applies while MFA is disabled; ErrConflict
// means MFA was enabled in the meantime. A nil recovery email keeps the
// stored one.
func (r *MFARepository) SaveSetup(ctx context.Context, s *model.MFASettings) error {
	query := `
		INSERT INTO mfa_settings (` + settingsColumns + `)
		VALUES (?, ?, FALSE, ?, ?, ?, 0, NULL, NULL, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			method = excluded.method,
			secret_key = excluded.secret_key,
			recovery_email = COALESCE(excluded.recovery_email, mfa_settings.recovery_email),
			updated_at = excluded.updated_at
		WHERE mfa_settings.is_enabled = FALSE
	`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		s.ID,
		s.UserID,
		s.Method,
		s.SecretKey,
		s.RecoveryEmail,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save MFA setup: %w", err)
	}
	return requireAffected(res, ErrConflict)
}

// Enable turns MFA on after a successful setup verification and resets the
// failure counters.
func (r *MFARepository) Enable(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE mfa_settings
		SET is_enabled = TRUE, failed_attempts = 0, locked_until = NULL,
		    last_verified_at = ?, updated_at = ?
		WHERE user_id = ? AND is_enabled = FALSE AND secret_key IS NOT NULL
	`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), at, at, userID)
	if err != nil {
		return fmt.Errorf("failed to enable MFA: %w", err)
	}
	return requireAffected(res, ErrConflict)
}

// RecordSuccess clears the failure counters and stamps the verification time
func (r *MFARepository) RecordSuccess(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE mfa_settings
		SET failed_attempts = 0, locked_until = NULL, last_verified_at = ?, updated_at = ?
		WHERE user_id = ?
	`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), at, at, userID)
	if err != nil {
		return fmt.Errorf("failed to record MFA success: %w", err)
	}
	return requireAffected(res, ErrNotFound)
}

// RecordFailure increments the failed attempt counter in one statement and
// returns the new count.
func (r *MFARepository) RecordFailure(ctx context.Context, userID string, at time.Time) (int, error) {
	query := `
		UPDATE mfa_settings
		SET failed_attempts = failed_attempts + 1, updated_at = ?
		WHERE user_id = ?
		RETURNING failed_attempts
	`
	var attempts int
	err := r.db.GetContext(ctx, &attempts, r.db.Rebind(query), at, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record MFA failure: %w", err)
	}
	return attempts, nil
}

// Lock stamps locked_until, keyed on the attempt count the caller observed
// from RecordFailure. It reports false when another failure was booked in
// between; that request stamps the lock instead.
func (r *MFARepository) Lock(ctx context.Context, userID string, attempts int, until time.Time) (bool, error) {
	query := `
		UPDATE mfa_settings
		SET locked_until = ?, updated_at = ?
		WHERE user_id = ? AND failed_attempts = ?
	`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), until, until, userID, attempts)
	if err != nil {
		return false, fmt.Errorf("failed to lock MFA: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// ClearExpiredLock resets counters for a lock that has run out. The update
// is keyed on the observed locked_until so a fresh lock is never cleared.
func (r *MFARepository) ClearExpiredLock(ctx context.Context, userID string, lockedUntil time.Time, at time.Time) error {
	query := `
		UPDATE mfa_settings
		SET failed_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE user_id = ? AND locked_until = ?
	`
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), at, userID, lockedUntil); err != nil {
		return fmt.Errorf("failed to clear expired MFA lock: %w", err)
	}
	return nil
}

// ResetLockout zeroes the counters regardless of lock state
func (r *MFARepository) ResetLockout(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE mfa_settings
		SET failed_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE user_id = ?
	`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), at, userID)
	if err != nil {
		return fmt.Errorf("failed to reset MFA lockout: %w", err)
	}
	return requireAffected(res, ErrNotFound)
}

// Disable turns MFA off, drops the secret and counters and deletes every
// backup code in one transaction.
func (r *MFARepository) Disable(ctx context.Context, settingsID string, at time.Time) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE mfa_settings
			SET is_enabled = FALSE, secret_key = NULL, failed_attempts = 0,
			    locked_until = NULL, updated_at = ?
			WHERE id = ?
		`
		res, err := tx.ExecContext(ctx, tx.Rebind(query), at, settingsID)
		if err != nil {
			return fmt.Errorf("failed to disable MFA: %w", err)
		}
		if err := requireAffected(res, ErrNotFound); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM mfa_backup_codes WHERE settings_id = ?`), settingsID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		return nil
	})
}

// --- Backup codes ---

// ReplaceBackupCodes deletes every existing code for the settings row and
// inserts the new set in one transaction.
func (r *MFARepository) ReplaceBackupCodes(ctx context.Context, settingsID string, codes []*model.BackupCode) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM mfa_backup_codes WHERE settings_id = ?`), settingsID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}

		insert := tx.Rebind(`
			INSERT INTO mfa_backup_codes (id, settings_id, code_hash, is_used, used_at, created_at)
			VALUES (?, ?, ?, FALSE, NULL, ?)
		`)
		for _, c := range codes {
			if _, err := tx.ExecContext(ctx, insert, c.ID, settingsID, c.CodeHash, c.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert backup code: %w", err)
			}
		}
		return nil
	})
}

// ConsumeBackupCode marks a matching unused code as used. It reports false
// when no unused code matches, including when a concurrent request spent it
// first.
func (r *MFARepository) ConsumeBackupCode(ctx context.Context, settingsID, codeHash string, at time.Time) (bool, error) {
	query := `
		UPDATE mfa_backup_codes
		SET is_used = TRUE, used_at = ?
		WHERE id = (
			SELECT id FROM mfa_backup_codes
			WHERE settings_id = ? AND code_hash = ? AND is_used = FALSE
			LIMIT 1
		) AND is_used = FALSE
	`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), at, settingsID, codeHash)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// CountUnusedBackupCodes returns how many backup codes remain spendable
func (r *MFARepository) CountUnusedBackupCodes(ctx context.Context, settingsID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM mfa_backup_codes WHERE settings_id = ? AND is_used = FALSE`
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(query), settingsID); err != nil {
		return 0, fmt.Errorf("failed to count backup codes: %w", err)
	}
	return count, nil
}

// --- IP whitelist ---

// CreateWhitelistEntry inserts a new whitelist entry
func (r *MFARepository) CreateWhitelistEntry(ctx context.Context, e *model.IPWhitelistEntry) error {
	query := `
		INSERT INTO mfa_ip_whitelist (id, settings_id, ip_address, description, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		e.ID,
		e.SettingsID,
		e.IPAddress,
		e.Description,
		e.IsActive,
		e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create whitelist entry: %w", err)
	}
	return nil
}

// DeleteWhitelistEntry removes an entry belonging to the settings row
func (r *MFARepository) DeleteWhitelistEntry(ctx context.Context, settingsID, entryID string) error {
	query := `DELETE FROM mfa_ip_whitelist WHERE id = ? AND settings_id = ?`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), entryID, settingsID)
	if err != nil {
		return fmt.Errorf("failed to delete whitelist entry: %w", err)
	}
	return requireAffected(res, ErrNotFound)
}

// ListWhitelistEntries returns the entries for a settings row, oldest first
func (r *MFARepository) ListWhitelistEntries(ctx context.Context, settingsID string, activeOnly bool) ([]*model.IPWhitelistEntry, error) {
	query := `
		SELECT id, settings_id, ip_address, description, is_active, created_at
		FROM mfa_ip_whitelist
		WHERE settings_id = ?
	`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	entries := []*model.IPWhitelistEntry{}
	if err := r.db.SelectContext(ctx, &entries, r.db.Rebind(query), settingsID); err != nil {
		return nil, fmt.Errorf("failed to list whitelist entries: %w", err)
	}
	return entries, nil
}

func requireAffected(res sql.Result, notMatched error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notMatched
	}
	return nil
}
