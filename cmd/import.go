package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cadence-import/internal/importer"
	"github.com/sells-group/cadence-import/internal/model"
	"github.com/sells-group/cadence-import/internal/source"
)

var (
	importFile         string
	importCadenceID    int64
	importCompanyID    int64
	importType         string
	importSessionID    string
	importStopPrevious bool
	importOutput       string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import leads from an .xlsx or .csv file into a cadence",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		records, it, err := source.ReadFile(ctx, importFile)
		if err != nil {
			return eris.Wrap(err, "read import file")
		}
		if importType != "" {
			it = model.IntegrationType(importType)
		}

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Importer.Prepare(ctx, importer.Request{
			CompanyID:            importCompanyID,
			CadenceID:            importCadenceID,
			IntegrationType:      it,
			SessionID:            importSessionID,
			StopPreviousCadences: importStopPrevious,
			Records:              records,
		})
		if err != nil {
			return eris.Wrap(err, "prepare import")
		}

		result := env.Importer.Run(ctx, job)

		zap.L().Info("import complete",
			zap.String("session_id", job.SessionID),
			zap.String("file", importFile),
			zap.Int("success", result.TotalSuccess),
			zap.Int("error", result.TotalError),
			zap.Int("skipped", result.TotalSkipped),
		)

		if importOutput != "" {
			return writeResult(importOutput, result)
		}
		return nil
	},
}

func writeResult(path string, result model.BatchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal result")
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	return eris.Wrap(os.WriteFile(path, data, 0o644), "write result")
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to .xlsx or .csv file (required)")
	importCmd.Flags().Int64Var(&importCadenceID, "cadence", 0, "target cadence id (required)")
	importCmd.Flags().Int64Var(&importCompanyID, "company", 0, "company id (required)")
	importCmd.Flags().StringVar(&importType, "type", "", "integration type override (default from file extension)")
	importCmd.Flags().StringVar(&importSessionID, "session", "", "session id (default random)")
	importCmd.Flags().BoolVar(&importStopPrevious, "stop-previous", false, "stop the leads' other active cadences")
	importCmd.Flags().StringVar(&importOutput, "output", "", "write the batch result as JSON to this path (- for stdout)")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("cadence")
	_ = importCmd.MarkFlagRequired("company")
	rootCmd.AddCommand(importCmd)
}
