package cli

import (
	"encoding/json"
	"fmt"

	"github.com/parkflow/parking-booking-backend/internal/database"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/parkflow/parking-booking-backend/internal/services"
	"github.com/parkflow/parking-booking-backend/pkg/clock"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			return database.Migrate(cmd.Context(), e.db.DB, e.logger)
		},
	}
}

func newSweepHoldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-holds",
		Short: "Delete expired holds once",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			sweeper := services.NewExpirySweeper(database.NewHoldRepository(e.db.DB), clock.New(), e.logger)
			n, err := sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swept %d expired holds\n", n)
			return nil
		},
	}
}

func newReconcilePendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-pending",
		Short: "Poll providers for stale PENDING payments and apply final results",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			clk := clock.New()
			cfg := e.cfg
			gateways := services.NewGatewayRegistry(
				models.PaymentProvider(cfg.Payment.DefaultProvider),
				services.NewRapydGateway(&cfg.Payment.Rapyd, clk, e.logger),
				services.NewNetgiroGateway(&cfg.Payment.Netgiro, e.logger),
			)
			notifier := services.NewConfiguredNotifier(cfg, e.logger)

			reconciliation := services.NewReconciliationService(
				database.NewTxManager(e.db.DB, e.logger),
				database.NewBookingRepository(e.db.DB),
				database.NewPaymentRepository(e.db.DB),
				database.NewPaymentAuditRepository(e.db.DB, e.logger),
				gateways,
				notifier,
				nil,
				clk,
				e.logger,
				services.ReconciliationConfig{
					StatusTimeout:         cfg.Payment.StatusTimeout,
					PendingReconcileAfter: cfg.Payment.PendingReconcileAfter,
				},
			)

			summary, err := reconciliation.ReconcilePendingPayments(cmd.Context())
			reconciliation.Drain()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
