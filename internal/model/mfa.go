package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// MFAMethod is the second factor a user enrolled with
type MFAMethod string

const (
	MFAMethodTOTP MFAMethod = "totp"
)

// ParseMFAMethod converts a stored or submitted value into an MFAMethod.
// An empty string selects TOTP.
func ParseMFAMethod(s string) (MFAMethod, error) {
	switch MFAMethod(s) {
	case "", MFAMethodTOTP:
		return MFAMethodTOTP, nil
	}
	return "", fmt.Errorf("unknown MFA method %q", s)
}

// Scan implements sql.Scanner
func (m *MFAMethod) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
	default:
		return fmt.Errorf("cannot scan %T into MFAMethod", src)
	}
	parsed, err := ParseMFAMethod(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value implements driver.Valuer
func (m MFAMethod) Value() (driver.Value, error) {
	parsed, err := ParseMFAMethod(string(m))
	if err != nil {
		return nil, err
	}
	return string(parsed), nil
}

// MFASettings is the per-user MFA configuration row
type MFASettings struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"userId"`
	IsEnabled      bool       `db:"is_enabled" json:"isEnabled"`
	Method         MFAMethod  `db:"method" json:"method"`
	SecretKey      *string    `db:"secret_key" json:"-"` // never expose
	RecoveryEmail  *string    `db:"recovery_email" json:"recoveryEmail,omitempty"`
	FailedAttempts int        `db:"failed_attempts" json:"failedAttempts"`
	LockedUntil    *time.Time `db:"locked_until" json:"lockedUntil,omitempty"`
	LastVerifiedAt *time.Time `db:"last_verified_at" json:"lastVerifiedAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// HasSecret reports whether a TOTP secret has been provisioned
func (s *MFASettings) HasSecret() bool {
	return s.SecretKey != nil && *s.SecretKey != ""
}

// IsLocked reports whether the lockout is still in force at now. Instants are
// compared, so the zone a timestamp was stored or scanned in is irrelevant.
func (s *MFASettings) IsLocked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// BackupCode is a single-use recovery code. Only the hash is stored.
type BackupCode struct {
	ID         string     `db:"id" json:"id"`
	SettingsID string     `db:"settings_id" json:"-"`
	CodeHash   string     `db:"code_hash" json:"-"`
	IsUsed     bool       `db:"is_used" json:"isUsed"`
	UsedAt     *time.Time `db:"used_at" json:"usedAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// IPWhitelistEntry allows logins from a trusted address or network to skip
// the MFA challenge
type IPWhitelistEntry struct {
	ID          string    `db:"id" json:"id"`
	SettingsID  string    `db:"settings_id" json:"-"`
	IPAddress   string    `db:"ip_address" json:"ipAddress"`
	Description *string   `db:"description" json:"description,omitempty"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// VerifyResult is the outcome of checking a TOTP or backup code
type VerifyResult struct {
	Verified          bool       `json:"verified"`
	RemainingAttempts int        `json:"remainingAttempts"`
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
}

// MFASetupResponse is returned when provisioning a TOTP secret
type MFASetupResponse struct {
	Secret string    `json:"secret"`
	QRURI  string    `json:"qrUri"`
	QRCode string    `json:"qrCode"` // base64-encoded PNG
	Method MFAMethod `json:"method"`
	Issuer string    `json:"issuer"`
}

// BackupCodesResponse carries freshly generated plaintext codes. They are
// shown once and never retrievable again.
type BackupCodesResponse struct {
	Codes       []string  `json:"codes"`
	GeneratedAt time.Time `json:"generatedAt"`
	Count       int       `json:"count"`
}

// WhitelistCheckResult reports whether an address matched an active entry
type WhitelistCheckResult struct {
	IsWhitelisted bool              `json:"isWhitelisted"`
	MatchedEntry  *IPWhitelistEntry `json:"matchedEntry,omitempty"`
}

// MFAStatus summarizes a user's MFA state
type MFAStatus struct {
	Enabled              bool       `json:"enabled"`
	Configured           bool       `json:"configured"`
	Method               *MFAMethod `json:"method,omitempty"`
	Locked               bool       `json:"locked"`
	LockedUntil          *time.Time `json:"lockedUntil,omitempty"`
	FailedAttempts       int        `json:"failedAttempts"`
	BackupCodesRemaining int        `json:"backupCodesRemaining"`
	WhitelistEntries     int        `json:"whitelistEntries"`
	LastVerifiedAt       *time.Time `json:"lastVerifiedAt,omitempty"`
}

// MFAChallenge is returned from login when a second factor is required
type MFAChallenge struct {
	Status         string    `json:"status"` // "mfa_required"
	ChallengeToken string    `json:"challengeToken"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Methods        []string  `json:"methods"`
}
