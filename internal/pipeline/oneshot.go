package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"invoicewatch/internal"
	"invoicewatch/internal/config"
	"invoicewatch/internal/verdict"
)

// CheckFile classifies a single PDF from disk without touching the ledger.
func CheckFile(ctx context.Context, c Classifier, path string, settings config.Settings) (verdict.Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return verdict.Outcome{}, errors.Wrapf(err, "read %s", path)
	}
	payload := internal.Payload{
		Name:      filepath.Base(path),
		MediaType: internal.MediaTypePDF,
		Data:      data,
	}
	raw, err := c.Classify(ctx, payload, settings)
	if err != nil {
		return verdict.Outcome{}, err
	}
	outcome := verdict.Decode(raw)
	if outcome.Kind == verdict.KindDecodeError {
		return outcome, outcome.Err
	}
	return outcome, nil
}
