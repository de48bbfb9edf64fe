package pipeline

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"

	"invoicewatch/internal"
	"invoicewatch/internal/ledger"
	"invoicewatch/internal/storage"
)

// ExportLogRows writes stored ledger rows to a standalone workbook, with the
// category colors of the rows carried over as fills.
func ExportLogRows(rows []storage.StoredLogRow, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := append(append([]string{}, internal.LogHeader...), "category")
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	styles := map[string]int{}
	for i, row := range rows {
		r := i + 2
		values := append(row.Values(), string(row.Category))
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, r)
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return errors.Wrapf(err, "set %s", cell)
			}
		}

		color := ledger.ColorFor(row.Category)
		if color == "" {
			continue
		}
		style, ok := styles[color]
		if !ok {
			var err error
			style, err = f.NewStyle(&excelize.Style{
				Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}},
			})
			if err != nil {
				return errors.Wrap(err, "create fill style")
			}
			styles[color] = style
		}
		first, _ := excelize.CoordinatesToCellName(1, r)
		last, _ := excelize.CoordinatesToCellName(len(headers), r)
		if err := f.SetCellStyle(sheet, first, last, style); err != nil {
			return errors.Wrapf(err, "style row %d", r)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return errors.Wrap(err, "create export dir")
	}
	return errors.Wrap(f.SaveAs(outputPath), "save export")
}
