package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/parkflow/parking-booking-backend/internal/database"
	"github.com/parkflow/parking-booking-backend/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type lotsFile struct {
	Lots []struct {
		Code        string `yaml:"code"`
		Name        string `yaml:"name"`
		TotalSpaces int    `yaml:"total_spaces"`
	} `yaml:"lots"`
}

// parseLots reads a YAML lot list and validates every entry
func parseLots(data []byte) ([]*models.Lot, error) {
	var file lotsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid lots file: %w", err)
	}
	if len(file.Lots) == 0 {
		return nil, fmt.Errorf("lots file defines no lots")
	}

	seen := make(map[string]bool, len(file.Lots))
	lots := make([]*models.Lot, 0, len(file.Lots))
	for _, entry := range file.Lots {
		lot := &models.Lot{Code: entry.Code, Name: entry.Name, TotalSpaces: entry.TotalSpaces}
		if err := lot.Validate(); err != nil {
			return nil, err
		}
		if seen[lot.Code] {
			return nil, fmt.Errorf("lot %s is defined twice", lot.Code)
		}
		seen[lot.Code] = true
		lots = append(lots, lot)
	}
	return lots, nil
}

func newSeedLotsCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "seed-lots",
		Short: "Create or update lots from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			lots, err := parseLots(data)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			repo := database.NewLotRepository(e.db.DB)
			tx := database.NewTxManager(e.db.DB, e.logger)
			err = tx.WithTx(ctx, func(ctx context.Context) error {
				for _, lot := range lots {
					if err := repo.UpsertLot(ctx, lot); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			for _, lot := range lots {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d spaces\t%s\n", lot.Code, lot.Name, lot.TotalSpaces, lot.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", "lots.yaml", "YAML file with a top-level lots list")
	return cmd
}
