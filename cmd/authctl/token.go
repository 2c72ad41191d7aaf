package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/carenest/authcore/internal/auth"
	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/repository"
	"github.com/carenest/authcore/internal/service"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Revoke and inspect issued tokens",
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke [token]",
	Short: "Blacklist a token until it expires",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenRevoke,
}

var tokenUnrevokeCmd = &cobra.Command{
	Use:   "unrevoke [token]",
	Short: "Remove a token from the blacklist",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenUnrevoke,
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect [token]",
	Short: "Validate a token and show its claims and revocation state",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenInspect,
}

func init() {
	tokenCmd.AddCommand(tokenRevokeCmd, tokenUnrevokeCmd, tokenInspectCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenRevoke(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openDB(); err != nil {
		return err
	}
	if err := e.openRedis(); err != nil {
		return err
	}

	tokens, err := auth.NewTokenService(e.cfg.Security.Tokens, e.log)
	if err != nil {
		return err
	}
	sessions := service.NewSessionService(tokens, repository.NewBlacklistRepository(e.rdb), repository.NewUserRepository(e.db), e.log)
	if err := sessions.Revoke(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "token revoked")
	return nil
}

func runTokenUnrevoke(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openRedis(); err != nil {
		return err
	}

	removed, err := repository.NewBlacklistRepository(e.rdb).Remove(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintln(cmd.OutOrStdout(), "token was not revoked")
		return nil
	}
	e.log.AuditLog("authctl", model.AuditActionTokenUnrevoked, model.AuditResourceSession, "", nil)
	fmt.Fprintln(cmd.OutOrStdout(), "revocation removed")
	return nil
}

type tokenInspection struct {
	Valid     bool                   `json:"valid"`
	Subject   string                 `json:"subject,omitempty"`
	Type      string                 `json:"type,omitempty"`
	IssuedAt  *time.Time             `json:"issuedAt,omitempty"`
	ExpiresAt *time.Time             `json:"expiresAt,omitempty"`
	Claims    map[string]interface{} `json:"claims,omitempty"`
	Revoked   bool                   `json:"revoked"`
	RevokedBy string                 `json:"revokedBy,omitempty"`
	RevokedAt *time.Time             `json:"revokedAt,omitempty"`
	TTL       string                 `json:"revocationTtl,omitempty"`
}

func runTokenInspect(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openRedis(); err != nil {
		return err
	}

	tokens, err := auth.NewTokenService(e.cfg.Security.Tokens, e.log)
	if err != nil {
		return err
	}

	out := tokenInspection{}
	if claims, err := tokens.DecodeToken(args[0]); err == nil {
		out.Valid = true
		out.Subject = claims.Subject
		out.Type = string(claims.Type)
		out.IssuedAt = &claims.IssuedAt
		out.ExpiresAt = &claims.ExpiresAt
		out.Claims = claims.Raw
	}

	info, err := repository.NewBlacklistRepository(e.rdb).Info(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if info != nil {
		out.Revoked = true
		out.RevokedBy = info.UserID
		if !info.BlacklistedAt.IsZero() {
			out.RevokedAt = &info.BlacklistedAt
		}
		out.TTL = info.TTL.String()
	}
	return printJSON(cmd, out)
}
