package model

// Audit action constants
const (
	AuditActionLogin              = "user.login"
	AuditActionLoginFailed        = "user.login_failed"
	AuditActionLoginIPBypass      = "user.login_ip_bypass"
	AuditActionLogout             = "user.logout"
	AuditActionUserCreated        = "user.created"
	AuditActionTokenRefresh       = "token.refresh"
	AuditActionTokenRevoked       = "token.revoked"
	AuditActionTokenUnrevoked     = "token.unrevoked"
	AuditActionMFASetup           = "mfa.setup"
	AuditActionMFAEnabled         = "mfa.enabled"
	AuditActionMFADisabled        = "mfa.disabled"
	AuditActionMFAVerified        = "mfa.verified"
	AuditActionMFAVerifyFailed    = "mfa.verify_failed"
	AuditActionMFALocked          = "mfa.locked"
	AuditActionMFALockoutReset    = "mfa.lockout_reset"
	AuditActionMFABackupCodesGen  = "mfa.backup_codes_generated"
	AuditActionMFABackupCodeUsed  = "mfa.backup_code_used"
	AuditActionMFAWhitelistAdd    = "mfa.whitelist_added"
	AuditActionMFAWhitelistRemove = "mfa.whitelist_removed"
)

// Audit resource types
const (
	AuditResourceUser    = "user"
	AuditResourceMFA     = "mfa_settings"
	AuditResourceSession = "session"
)
