package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/repository"
)

// AddIPToWhitelist trusts an address or CIDR range for MFA-free logins
func (s *MFAService) AddIPToWhitelist(ctx context.Context, userID, ipAddress string, description *string) (*model.IPWhitelistEntry, error) {
	settings, err := s.requireEnabled(ctx, userID)
	if err != nil {
		return nil, err
	}

	ipAddress = strings.TrimSpace(ipAddress)
	if !isValidWhitelistValue(ipAddress) {
		return nil, ErrInvalidIP
	}

	entry := &model.IPWhitelistEntry{
		ID:          generateID("ipw"),
		SettingsID:  settings.ID,
		IPAddress:   ipAddress,
		Description: description,
		IsActive:    true,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateWhitelistEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to add whitelist entry: %w", err)
	}

	s.log.AuditLog(userID, model.AuditActionMFAWhitelistAdd, model.AuditResourceMFA, entry.ID, map[string]interface{}{
		"ip_address": ipAddress,
	})
	return entry, nil
}

// RemoveIPFromWhitelist deletes one of the user's whitelist entries
func (s *MFAService) RemoveIPFromWhitelist(ctx context.Context, userID, entryID string) error {
	settings, err := s.requireEnabled(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteWhitelistEntry(ctx, settings.ID, entryID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrWhitelistEntryNotFound
		}
		return fmt.Errorf("failed to remove whitelist entry: %w", err)
	}

	s.log.AuditLog(userID, model.AuditActionMFAWhitelistRemove, model.AuditResourceMFA, entryID, nil)
	return nil
}

// GetIPWhitelist lists every whitelist entry, active or not
func (s *MFAService) GetIPWhitelist(ctx context.Context, userID string) ([]*model.IPWhitelistEntry, error) {
	settings, err := s.requireEnabled(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListWhitelistEntries(ctx, settings.ID, false)
}

// CheckIPWhitelisted reports whether ip matches an active entry
func (s *MFAService) CheckIPWhitelisted(ctx context.Context, userID, ip string) (*model.WhitelistCheckResult, error) {
	settings, err := s.requireEnabled(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.ListWhitelistEntries(ctx, settings.ID, true)
	if err != nil {
		return nil, err
	}

	if match := matchWhitelist(entries, ip); match != nil {
		return &model.WhitelistCheckResult{IsWhitelisted: true, MatchedEntry: match}, nil
	}
	return &model.WhitelistCheckResult{IsWhitelisted: false}, nil
}

// matchWhitelist returns the first active entry that equals ip or whose CIDR
// range contains it. Entries or addresses that fail to parse never match.
func matchWhitelist(entries []*model.IPWhitelistEntry, ip string) *model.IPWhitelistEntry {
	ip = strings.TrimSpace(ip)
	addr, addrErr := netip.ParseAddr(ip)
	if addrErr == nil {
		addr = addr.Unmap()
	}

	for _, e := range entries {
		if !e.IsActive {
			continue
		}
		if e.IPAddress == ip {
			return e
		}
		if addrErr != nil {
			continue
		}

		if strings.Contains(e.IPAddress, "/") {
			prefix, err := netip.ParsePrefix(e.IPAddress)
			if err == nil && prefix.Contains(addr) {
				return e
			}
			continue
		}

		// same address, different spelling, e.g. "::1" and "0:0::1"
		if other, err := netip.ParseAddr(e.IPAddress); err == nil && other.Unmap() == addr {
			return e
		}
	}
	return nil
}

func isValidWhitelistValue(v string) bool {
	if strings.Contains(v, "/") {
		_, err := netip.ParsePrefix(v)
		return err == nil
	}
	_, err := netip.ParseAddr(v)
	return err == nil
}
