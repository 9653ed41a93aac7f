package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/auth"
	"github.com/fieldsales/backend/internal/ingestion"
	"github.com/fieldsales/backend/internal/middleware/validation"
	"github.com/fieldsales/backend/internal/quota"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/internal/storage/sqlite"
	"github.com/fieldsales/backend/pkg/config"
	appLogger "github.com/fieldsales/backend/pkg/logger"
)

var (
	cfg *config.Config

	provincesFile string

	newUser struct {
		Username string `json:"username" validate:"notblank,max=80"`
		Password string `json:"password" validate:"min=6"`
		Role     string `json:"role" validate:"role"`
		FullName string `json:"full_name" validate:"max=120"`
		Email    string `json:"email" validate:"omitempty,email,max=120"`
	}
)

var rootCmd = &cobra.Command{
	Use:   "fieldsales-admin",
	Short: "Maintenance commands for the field sales database",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		return appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	},
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create missing tables and the bootstrap admin account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, db *sqlite.Client) error {
			svc := auth.NewService(db, cfg.Auth.JWTSecret, 0)
			created, err := svc.EnsureAdmin(ctx, cfg.Auth.BootstrapAdminPassword)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (admin created: %t)\n", created)
			return nil
		})
	},
}

var seedProvincesCmd = &cobra.Command{
	Use:   "seed-provinces",
	Short: "Load province populations from a CSV/XLSX file or the built-in census list",
	RunE: func(cmd *cobra.Command, args []string) error {
		var provinces []models.Province
		if provincesFile != "" {
			data, err := os.ReadFile(provincesFile)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", provincesFile, err)
			}
			table, err := ingestion.Parse(filepath.Base(provincesFile), data, cfg.Upload.MaxRows)
			if err != nil {
				return err
			}
			provinces, err = ingestion.ProvincesFromTable(table)
			if err != nil {
				return err
			}
		}

		return withDB(cmd.Context(), func(ctx context.Context, db *sqlite.Client) error {
			n, err := quota.NewService(db, cfg.Grading.UngradedWeight).SeedProvinces(ctx, provinces)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d provinces loaded\n", n)
			return nil
		})
	},
}

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create an active user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validation.Struct(&newUser); err != nil {
			return err
		}
		hash, err := auth.HashPassword(newUser.Password)
		if err != nil {
			return err
		}

		return withDB(cmd.Context(), func(ctx context.Context, db *sqlite.Client) error {
			u := &models.User{
				Username:     newUser.Username,
				Email:        newUser.Email,
				FullName:     newUser.FullName,
				PasswordHash: hash,
				Role:         newUser.Role,
				IsActive:     true,
			}
			if err := db.CreateUser(ctx, u); err != nil {
				return fmt.Errorf("failed to create user %q: %w", newUser.Username, err)
			}
			appLogger.Info("User created", zap.Int64("user_id", u.ID), zap.String("role", u.Role))
			fmt.Fprintf(cmd.OutOrStdout(), "user %s created with id %d\n", u.Username, u.ID)
			return nil
		})
	},
}

func withDB(ctx context.Context, fn func(ctx context.Context, db *sqlite.Client) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		return err
	}
	return fn(ctx, db)
}

func init() {
	seedProvincesCmd.Flags().StringVar(&provincesFile, "file", "", "CSV or XLSX file with province and population columns")

	createUserCmd.Flags().StringVar(&newUser.Username, "username", "", "login name")
	createUserCmd.Flags().StringVar(&newUser.Password, "password", "", "initial password")
	createUserCmd.Flags().StringVar(&newUser.Role, "role", models.RoleMarketer, "admin, marketer or observer")
	createUserCmd.Flags().StringVar(&newUser.FullName, "full-name", "", "display name")
	createUserCmd.Flags().StringVar(&newUser.Email, "email", "", "contact email")
	_ = createUserCmd.MarkFlagRequired("username")
	_ = createUserCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(migrateCmd, seedProvincesCmd, createUserCmd)
}

func main() {
	defer appLogger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
