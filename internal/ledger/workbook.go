package ledger

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"

	"invoicewatch/internal"
	"invoicewatch/internal/util"
)

const LogSheet = "log"

const (
	messageIDColumn = 2
	notesColumn     = 10
)

// Workbook keeps the ledger in the log sheet of an xlsx file. The same file holds the
// configuration sheet. Every mutation is saved through a temp file and rename.
type Workbook struct {
	path   string
	file   *excelize.File
	offset int
	size   int
	styles map[internal.Category][2]int
}

func OpenWorkbook(path string) (*Workbook, error) {
	w := &Workbook{path: path, styles: map[internal.Category][2]int{}}
	if err := w.load(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Workbook) load() error {
	var f *excelize.File
	if _, err := os.Stat(w.path); err == nil {
		f, err = excelize.OpenFile(w.path)
		if err != nil {
			return errors.Wrapf(err, "open workbook %s", w.path)
		}
	} else if os.IsNotExist(err) {
		f = excelize.NewFile()
		if err := f.SetSheetName(f.GetSheetName(0), LogSheet); err != nil {
			return errors.Wrap(err, "name log sheet")
		}
	} else {
		return err
	}

	idx, err := f.GetSheetIndex(LogSheet)
	if err != nil {
		return errors.Wrap(err, "lookup log sheet")
	}
	if idx < 0 {
		if _, err := f.NewSheet(LogSheet); err != nil {
			return errors.Mark(errors.Wrap(err, "create log sheet"), internal.ErrConfiguration)
		}
	}

	if w.file != nil {
		_ = w.file.Close()
	}
	w.file = f
	w.styles = map[internal.Category][2]int{}
	return nil
}

// File exposes the underlying workbook for the configuration sheet.
func (w *Workbook) File() *excelize.File { return w.file }

func (w *Workbook) Path() string { return w.path }

func (w *Workbook) Close() error { return w.file.Close() }

// Save writes the workbook to a temp file next to the target and renames it into place.
func (w *Workbook) Save() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := w.file.WriteTo(&buf); err != nil {
		return errors.Wrap(err, "encode workbook")
	}
	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".ledger-*.xlsx")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "replace workbook %s", w.path)
	}
	return nil
}

// rows returns the log sheet rows, writing the header when the sheet is empty.
func (w *Workbook) rows() ([][]string, error) {
	rows, err := w.file.GetRows(LogSheet)
	if err != nil {
		return nil, errors.Wrap(err, "read log sheet")
	}
	if len(rows) > 0 && !isBlank(rows[0]) {
		return rows, nil
	}
	header := make([]any, len(internal.LogHeader))
	for i, h := range internal.LogHeader {
		header[i] = h
	}
	if err := w.file.SetSheetRow(LogSheet, "A1", &header); err != nil {
		return nil, errors.Wrap(err, "write log header")
	}
	// Rows below a blank header are still ledger entries.
	out := [][]string{internal.LogHeader}
	if len(rows) > 1 {
		out = append(out, rows[1:]...)
	}
	return out, nil
}

// EnsureHeader writes the log header when the first row of the log sheet is blank.
func (w *Workbook) EnsureHeader() error {
	_, err := w.rows()
	return err
}

func (w *Workbook) ProcessedIDs(_ context.Context) (map[string]struct{}, error) {
	rows, err := w.rows()
	if err != nil {
		return nil, err
	}
	out := map[string]struct{}{}
	for _, row := range rows[1:] {
		if len(row) > messageIDColumn && row[messageIDColumn] != "" {
			out[row[messageIDColumn]] = struct{}{}
		}
	}
	return out, nil
}

func (w *Workbook) Append(_ context.Context, logRows []internal.LogRow) error {
	if len(logRows) == 0 {
		w.offset, w.size = 0, 0
		return nil
	}
	rows, err := w.rows()
	if err != nil {
		return err
	}

	offset := len(rows) + 1
	for i, r := range logRows {
		values := fitCells(r.Values())
		cell, _ := excelize.CoordinatesToCellName(1, offset+i)
		if err := w.file.SetSheetRow(LogSheet, cell, &values); err != nil {
			return w.discard(errors.Wrapf(err, "write log row %d", offset+i))
		}
	}
	if err := w.Save(); err != nil {
		return w.discard(errors.Wrap(err, "save workbook"))
	}

	w.offset, w.size = offset, len(logRows)
	return nil
}

// fitCells cuts text cells to the xlsx cell limit and names the cut columns in
// the notes cell.
func fitCells(values []any) []any {
	var cut []string
	for j, v := range values {
		s, ok := v.(string)
		if !ok || utf8.RuneCountInString(s) <= excelize.TotalCellChars {
			continue
		}
		cut = append(cut, internal.LogHeader[j])
		if j != notesColumn {
			values[j] = util.Truncate(s, excelize.TotalCellChars)
		}
	}
	if len(cut) == 0 {
		return values
	}
	notes := fmt.Sprintf("[%s truncated to %d characters]", strings.Join(cut, ", "), excelize.TotalCellChars)
	if prev, _ := values[notesColumn].(string); prev != "" {
		notes += "\n" + prev
	}
	values[notesColumn] = util.Truncate(notes, excelize.TotalCellChars)
	return values
}

// discard drops unsaved changes by reloading the workbook from disk.
func (w *Workbook) discard(cause error) error {
	if err := w.load(); err != nil {
		return errors.WithSecondaryError(cause, err)
	}
	return cause
}

func (w *Workbook) Colorize(_ context.Context, indices []int, category internal.Category) error {
	if ColorFor(category) == "" || len(indices) == 0 {
		return nil
	}
	styles, err := w.style(category)
	if err != nil {
		return err
	}

	for _, i := range indices {
		if i < 0 || i >= w.size {
			return errors.Newf("row index %d outside last batch of %d rows", i, w.size)
		}
		r := w.offset + i
		dateCell, _ := excelize.CoordinatesToCellName(1, r)
		if err := w.file.SetCellStyle(LogSheet, dateCell, dateCell, styles[0]); err != nil {
			return err
		}
		first, _ := excelize.CoordinatesToCellName(2, r)
		last, _ := excelize.CoordinatesToCellName(len(internal.LogHeader), r)
		if err := w.file.SetCellStyle(LogSheet, first, last, styles[1]); err != nil {
			return err
		}
	}
	return w.Save()
}

// style returns the fill styles of a category: one for the date column, one for the rest.
func (w *Workbook) style(category internal.Category) ([2]int, error) {
	if s, ok := w.styles[category]; ok {
		return s, nil
	}
	fill := excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{ColorFor(category)}}
	dateStyle, err := w.file.NewStyle(&excelize.Style{Fill: fill, NumFmt: 22})
	if err != nil {
		return [2]int{}, err
	}
	textStyle, err := w.file.NewStyle(&excelize.Style{Fill: fill})
	if err != nil {
		return [2]int{}, err
	}
	w.styles[category] = [2]int{dateStyle, textStyle}
	return w.styles[category], nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
