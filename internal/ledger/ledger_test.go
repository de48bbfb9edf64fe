package ledger

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"invoicewatch/internal"
	"invoicewatch/internal/storage"
	"invoicewatch/internal/util"
)

func sampleRows(ids ...string) []internal.LogRow {
	now := time.Date(2026, 2, 8, 10, 0, 0, 0, time.UTC)
	out := make([]internal.LogRow, 0, len(ids))
	for _, id := range ids {
		out = append(out, internal.LogRow{
			Date:           now,
			ThreadID:       "thread-" + id,
			MessageID:      id,
			SearchURL:      "https://mail.example/" + id,
			Sender:         "billing@example.com",
			Subject:        "Invoice " + id,
			HasInvoice:     util.BoolPtr(true),
			IsValidInvoice: util.BoolPtr(true),
			ParsedInvoice:  util.StringPtr(`{"check":{"invoice":true,"invalidCheck":false}}`),
			Category:       internal.CategoryDone,
		})
	}
	return out
}

func TestWorkbookAppendAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.xlsx")

	w, err := OpenWorkbook(path)
	require.NoError(t, err)

	ids, err := w.ProcessedIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, w.Append(ctx, sampleRows("m1", "m2")))
	require.NoError(t, w.Colorize(ctx, []int{0, 1}, internal.CategoryDone))
	require.Error(t, w.Colorize(ctx, []int{2}, internal.CategoryDone))
	require.NoError(t, w.Close())

	w, err = OpenWorkbook(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(ctx, sampleRows("m3")))

	ids, err = w.ProcessedIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Contains(t, ids, "m3")

	rows, err := w.File().GetRows(LogSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, internal.LogHeader, rows[0])
	assert.Equal(t, "m1", rows[1][2])
	assert.Equal(t, "m3", rows[3][2])

	styleID, err := w.File().GetCellStyle(LogSheet, "B2")
	require.NoError(t, err)
	assert.NotZero(t, styleID)
}

func TestWorkbookBlankHeaderKeepsProcessedIDs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.xlsx")

	w, err := OpenWorkbook(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, sampleRows("m1", "m2")))
	require.NoError(t, w.Close())

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	for col := 1; col <= len(internal.LogHeader); col++ {
		cell, err := excelize.CoordinatesToCellName(col, 1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(LogSheet, cell, ""))
	}
	require.NoError(t, f.Save())
	require.NoError(t, f.Close())

	w, err = OpenWorkbook(path)
	require.NoError(t, err)
	defer w.Close()

	ids, err := w.ProcessedIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "m1")
	assert.Contains(t, ids, "m2")

	require.NoError(t, w.Append(ctx, sampleRows("m3")))
	rows, err := w.File().GetRows(LogSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, internal.LogHeader, rows[0])
	assert.Equal(t, "m2", rows[2][2])
	assert.Equal(t, "m3", rows[3][2])
}

func TestFitCellsNotesTruncation(t *testing.T) {
	row := sampleRows("m1")[0]
	row.ParsedInvoice = util.StringPtr(strings.Repeat("é", excelize.TotalCellChars+10))
	row.Notes = util.StringPtr("model output")

	values := fitCells(row.Values())

	parsed, ok := values[9].(string)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(parsed))
	assert.Equal(t, excelize.TotalCellChars, utf8.RuneCountInString(parsed))
	assert.True(t, strings.HasSuffix(parsed, "..."))

	notes, ok := values[notesColumn].(string)
	require.True(t, ok)
	assert.Contains(t, notes, "parsedInvoice truncated to 32767 characters")
	assert.Contains(t, notes, "model output")
	assert.Equal(t, "m1", values[messageIDColumn])
}

func TestFitCellsLeavesShortRows(t *testing.T) {
	values := fitCells(sampleRows("m1")[0].Values())
	assert.Nil(t, values[notesColumn])
}

func TestWorkbookEmptyAppendIsNoop(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.xlsx")

	w, err := OpenWorkbook(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(ctx, nil))
	require.NoError(t, w.Colorize(ctx, nil, internal.CategoryDone))
	assert.NoFileExists(t, path)
}

func TestWorkbookUnknownRowsStayUncolored(t *testing.T) {
	ctx := context.Background()
	w, err := OpenWorkbook(filepath.Join(t.TempDir(), "ledger.xlsx"))
	require.NoError(t, err)
	defer w.Close()

	rows := sampleRows("m1")
	rows[0].Category = internal.CategoryUnknown
	require.NoError(t, w.Append(ctx, rows))
	require.NoError(t, w.Colorize(ctx, []int{0}, internal.CategoryUnknown))

	styleID, err := w.File().GetCellStyle(LogSheet, "B2")
	require.NoError(t, err)
	assert.Zero(t, styleID)
}

func TestWorkbookKeepsExistingSheets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.xlsx")
	f := excelize.NewFile()
	_, err := f.NewSheet("configuration")
	require.NoError(t, err)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	w, err := OpenWorkbook(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(context.Background(), sampleRows("m1")))
	assert.Contains(t, w.File().GetSheetList(), "configuration")
	assert.Contains(t, w.File().GetSheetList(), LogSheet)
}

func TestSQLLedger(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	defer db.Close()

	l := NewSQL(db)
	require.NoError(t, l.Append(ctx, sampleRows("m1", "m2")))
	require.NoError(t, l.Colorize(ctx, []int{1}, internal.CategoryInvalid))
	require.Error(t, l.Colorize(ctx, []int{5}, internal.CategoryInvalid))

	ids, err := l.ProcessedIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	stored, err := db.ListLogRows(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Nil(t, stored[0].Color)
	require.NotNil(t, stored[1].Color)
	assert.Equal(t, ColorFor(internal.CategoryInvalid), *stored[1].Color)
}
