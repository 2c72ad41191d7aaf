package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/repository"
	"github.com/carenest/authcore/internal/service"
)

var mfaCmd = &cobra.Command{
	Use:   "mfa",
	Short: "Inspect and support users' MFA",
}

var mfaStatusCmd = &cobra.Command{
	Use:   "status [user-id]",
	Short: "Show a user's MFA status",
	Args:  cobra.ExactArgs(1),
	RunE:  runMFAStatus,
}

var mfaResetLockoutCmd = &cobra.Command{
	Use:   "reset-lockout [user-id]",
	Short: "Clear failed attempts and any active MFA lock",
	Args:  cobra.ExactArgs(1),
	RunE:  runMFAResetLockout,
}

func init() {
	mfaCmd.AddCommand(mfaStatusCmd, mfaResetLockoutCmd)
	rootCmd.AddCommand(mfaCmd)
}

func newMFAService() (*service.MFAService, *env, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, nil, err
	}
	if err := e.openDB(); err != nil {
		return nil, nil, err
	}
	return service.NewMFAService(repository.NewMFARepository(e.db), e.cfg, nil, e.log), e, nil
}

func runMFAStatus(cmd *cobra.Command, args []string) error {
	svc, e, err := newMFAService()
	if err != nil {
		return err
	}
	defer e.Close()

	status, err := svc.GetStatus(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, status)
}

func runMFAResetLockout(cmd *cobra.Command, args []string) error {
	svc, e, err := newMFAService()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := svc.ResetLockout(cmd.Context(), args[0]); err != nil {
		return err
	}
	e.log.AuditLog("authctl", model.AuditActionMFALockoutReset, model.AuditResourceMFA, args[0], nil)
	fmt.Fprintln(cmd.OutOrStdout(), "MFA lockout reset for", args[0])
	return nil
}
