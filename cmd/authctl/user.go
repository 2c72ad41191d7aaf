package main

import (
	"github.com/spf13/cobra"

	"github.com/carenest/authcore/internal/model"
	"github.com/carenest/authcore/internal/repository"
	"github.com/carenest/authcore/internal/service"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage staff accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a staff account",
	RunE:  runUserCreate,
}

var (
	userEmail    string
	userPassword string
	userRole     string
)

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "account email")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "initial password")
	userCreateCmd.Flags().StringVar(&userRole, "role", string(model.RoleStaff), "role: staff or admin")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("password")

	userCmd.AddCommand(userCreateCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openDB(); err != nil {
		return err
	}

	// account creation touches neither MFA nor sessions
	authSvc, err := service.NewAuthService(repository.NewUserRepository(e.db), nil, nil, nil, e.cfg, e.log)
	if err != nil {
		return err
	}

	user, err := authSvc.CreateUser(cmd.Context(), userEmail, userPassword, model.Role(userRole))
	if err != nil {
		return err
	}
	return printJSON(cmd, user)
}
