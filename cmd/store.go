package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cadence-import/internal/fieldmap"
	"github.com/sells-group/cadence-import/internal/order"
)

var reconcileCadenceID int64

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rewrite a cadence's lead order as a dense 1..N sequence",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := order.NewReconciler(st).Reconcile(ctx, reconcileCadenceID); err != nil {
			return eris.Wrapf(err, "reconcile cadence %d", reconcileCadenceID)
		}
		zap.L().Info("cadence order reconciled", zap.Int64("cadence_id", reconcileCadenceID))
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var fieldmapCmd = &cobra.Command{
	Use:   "fieldmap",
	Short: "Manage per-company field maps",
}

var fieldmapSeedFile string

var fieldmapSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load field maps from a YAML file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		maps, err := fieldmap.LoadFile(fieldmapSeedFile)
		if err != nil {
			return err
		}

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		for i := range maps {
			fm := &maps[i]
			if err := st.SaveFieldMap(ctx, fm); err != nil {
				return eris.Wrapf(err, "save field map company=%d type=%s", fm.CompanyID, fm.IntegrationType)
			}
			zap.L().Info("field map saved",
				zap.Int64("company_id", fm.CompanyID),
				zap.String("integration_type", string(fm.IntegrationType)),
			)
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Int64Var(&reconcileCadenceID, "cadence", 0, "cadence id (required)")
	_ = reconcileCmd.MarkFlagRequired("cadence")

	fieldmapSeedCmd.Flags().StringVar(&fieldmapSeedFile, "file", "", "path to field map YAML (required)")
	_ = fieldmapSeedCmd.MarkFlagRequired("file")
	fieldmapCmd.AddCommand(fieldmapSeedCmd)

	rootCmd.AddCommand(reconcileCmd, migrateCmd, fieldmapCmd)
}
