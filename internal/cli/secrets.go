package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parkflow/parking-booking-backend/internal/utils"
	"github.com/parkflow/parking-booking-backend/pkg/jwt"
	"github.com/spf13/cobra"
)

func newGenerateSecretsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-secrets",
		Short: "Generate JWT_SECRET and SESSION_SECRET values",
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets, err := utils.GenerateSecrets()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "JWT_SECRET=%s\n", secrets.JWTSecret)
			fmt.Fprintf(out, "SESSION_SECRET=%s\n", secrets.SessionSecret)
			return nil
		},
	}
}

func newIssueTokenCmd() *cobra.Command {
	var (
		secret string
		userID string
		email  string
		roles  []string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue an access token, e.g. for lot staff tooling",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user-id: %w", err)
			}
			for _, role := range roles {
				switch role {
				case jwt.RoleCustomer, jwt.RoleStaff, jwt.RoleAdmin:
				default:
					return fmt.Errorf("unknown role %q", role)
				}
			}

			token, err := jwt.NewService(secret, ttl).GenerateAccessToken(id, email, roles)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", envOr("JWT_SECRET", ""), "HMAC secret (defaults to $JWT_SECRET)")
	cmd.Flags().StringVar(&userID, "user-id", "", "subject user id")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringSliceVar(&roles, "role", []string{jwt.RoleStaff}, "role claim, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
