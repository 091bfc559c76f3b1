// Package source loads raw records for an import from spreadsheet files or
// from Salesforce.
package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cadence-import/internal/model"
	"github.com/sells-group/cadence-import/internal/normalize"
)

// ErrUnsupportedFile is returned for file extensions other than .xlsx and .csv.
var ErrUnsupportedFile = eris.New("source: unsupported file type")

// ReadFile loads header-keyed records from an .xlsx or .csv file and reports
// the integration type matching the file.
func ReadFile(ctx context.Context, path string) ([]model.RawRecord, model.IntegrationType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err := ReadXLSX(path, XLSXOptions{})
		if err != nil {
			return nil, "", err
		}
		return Records(rows), model.IntegrationExcel, nil
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, "", eris.Wrap(err, "csv: open file")
		}
		defer f.Close() //nolint:errcheck

		rows, err := ReadCSV(ctx, f, CSVOptions{TrimSpace: true})
		if err != nil {
			return nil, "", err
		}
		return Records(rows), model.IntegrationCSV, nil
	default:
		return nil, "", eris.Wrapf(ErrUnsupportedFile, "source: %s", filepath.Base(path))
	}
}

// Records turns sheet rows into records keyed by the header row. Each record
// carries its 1-based sheet row number under normalize.RowKey, so the first
// data row is 2. Empty header cells are skipped and short rows leave the
// missing columns unset.
func Records(rows [][]string) []model.RawRecord {
	if len(rows) == 0 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	out := make([]model.RawRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec := model.RawRecord{normalize.RowKey: i + 2}
		for j, cell := range row {
			if j >= len(header) || header[j] == "" {
				continue
			}
			rec[header[j]] = cell
		}
		out = append(out, rec)
	}
	return out
}
