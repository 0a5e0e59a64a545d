// Package cli implements parkctl, the operator command line for the booking backend.
package cli

import (
	"fmt"
	"os"

	"github.com/parkflow/parking-booking-backend/internal/config"
	"github.com/parkflow/parking-booking-backend/internal/database"
	"github.com/parkflow/parking-booking-backend/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// NewRootCmd builds the parkctl command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "parkctl",
		Short:         "Operator tooling for the parking booking backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newGenerateSecretsCmd())
	root.AddCommand(newIssueTokenCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedLotsCmd())
	root.AddCommand(newSweepHoldsCmd())
	root.AddCommand(newReconcilePendingCmd())

	return root
}

// Execute runs parkctl and exits non-zero on failure
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "parkctl %s (built=%s)\n", Version, BuildTime)
		},
	}
}

// env is what every database-backed command needs
type env struct {
	cfg    *config.Config
	db     *database.PostgresDB
	logger *logrus.Logger
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Server.LogLevel, cfg.Logging)

	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, db: db, logger: logger}, nil
}

func (e *env) Close() {
	if err := e.db.Close(); err != nil {
		e.logger.WithError(err).Warn("Failed to close database")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
