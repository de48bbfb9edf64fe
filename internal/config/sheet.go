package config

import (
	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"

	"invoicewatch/internal"
)

const ConfigurationSheet = "configuration"

// The configuration sheet has two header rows followed by key, value, description rows.
const sheetHeaderRows = 2

var defaultSheet = [][]any{
	{"Configuration", "", ""},
	{"Names of values", "Your values", "Descriptions"},
	{KeyAPIKey, "", "This API key is used for requesting Gemini API."},
	{KeyUseAccessToken, false, "Default is FALSE. When TRUE, an access token from the Google OAuth credentials is used and the API key is ignored."},
	{KeyModel, DefaultModel, "Model name used for generating content. Default is \"" + DefaultModel + "\"."},
	{KeyVersion, DefaultVersion, "Version of Gemini API. Default is " + DefaultVersion + "."},
	{KeyLabelName, "", "Label (mailbox) searched for emails with invoices. When empty, " + DefaultLabel + " is searched."},
	{KeyCycleMinutes, DefaultCycleMinutes, "Unit is minutes. Default is 10. Cycle of the scheduled run; use one of 5, 10, 15 or 30."},
	{KeyLookbackMinutes, "", "Unit is minutes. Extra look-back added to the scan window so missed emails are retried. When empty, twice the cycle is used."},
	{KeyMainFunctionName, DefaultMainFunctionName, "Name of the scheduled handler. Default is \"" + DefaultMainFunctionName + "\"."},
	{KeyNotifyOnDefect, false, "Default is FALSE. When TRUE, a reply listing the modification points is sent to the sender of an invalid invoice."},
}

// LoadSheet reads Settings from the configuration sheet of f, creating and filling
// the sheet with defaults when it is missing or empty. bootstrapped reports whether
// f was modified and needs saving.
func LoadSheet(f *excelize.File) (s Settings, bootstrapped bool, err error) {
	rows, bootstrapped, err := ensureSheet(f)
	if err != nil {
		return Settings{}, false, err
	}

	s = DefaultSettings()
	if len(rows) <= sheetHeaderRows {
		return s, bootstrapped, nil
	}
	for _, row := range rows[sheetHeaderRows:] {
		if len(row) < 2 {
			continue
		}
		if s, err = s.With(row[0], row[1]); err != nil {
			return Settings{}, false, err
		}
	}
	return s, bootstrapped, nil
}

// Bootstrap writes the default configuration table when the sheet is empty.
func Bootstrap(f *excelize.File) (bool, error) {
	_, bootstrapped, err := ensureSheet(f)
	return bootstrapped, err
}

func ensureSheet(f *excelize.File) ([][]string, bool, error) {
	idx, err := f.GetSheetIndex(ConfigurationSheet)
	if err != nil {
		return nil, false, errors.Wrap(err, "lookup configuration sheet")
	}
	if idx < 0 {
		if _, err := f.NewSheet(ConfigurationSheet); err != nil {
			return nil, false, errors.Mark(errors.Wrap(err, "create configuration sheet"), internal.ErrConfiguration)
		}
	}

	rows, err := f.GetRows(ConfigurationSheet)
	if err != nil {
		return nil, false, errors.Wrap(err, "read configuration sheet")
	}
	if !isEmpty(rows) {
		return rows, false, nil
	}

	for i, row := range defaultSheet {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		values := row
		if err := f.SetSheetRow(ConfigurationSheet, cell, &values); err != nil {
			return nil, false, errors.Wrap(err, "write default configuration")
		}
	}
	rows, err = f.GetRows(ConfigurationSheet)
	if err != nil {
		return nil, false, errors.Wrap(err, "read configuration sheet")
	}
	return rows, true, nil
}

func isEmpty(rows [][]string) bool {
	for _, row := range rows {
		for _, cell := range row {
			if cell != "" {
				return false
			}
		}
	}
	return true
}
