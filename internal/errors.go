package internal

import "github.com/cockroachdb/errors"

// Error kinds. Concrete errors are marked with one of these and tested with errors.Is.
var (
	ErrConfiguration        = errors.New("configuration error")
	ErrSourceUnavailable    = errors.New("item source unavailable")
	ErrClassificationFailed = errors.New("classification failed")
	ErrMalformedVerdict     = errors.New("malformed verdict")
	ErrRunInProgress        = errors.New("run already in progress")
)
