package config

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"

	"invoicewatch/internal"
)

// Configuration sheet keys.
const (
	KeyAPIKey           = "apiKey"
	KeyUseAccessToken   = "useAccessToken"
	KeyModel            = "model"
	KeyVersion          = "version"
	KeyLabelName        = "labelName"
	KeyCycleMinutes     = "cycleMinTimeDrivenTrigger"
	KeyLookbackMinutes  = "extraTime"
	KeyMainFunctionName = "mainFunctionName"
	KeyNotifyOnDefect   = "notifyModificationpointsToSender"
)

const (
	DefaultModel            = "models/gemini-1.5-flash-latest"
	DefaultVersion          = "v1beta"
	DefaultCycleMinutes     = 10
	DefaultMainFunctionName = "main"
	DefaultLabel            = "INBOX"
)

// Credential holds exactly one of an API key or a bearer token source.
type Credential struct {
	APIKey      string
	TokenSource oauth2.TokenSource
}

func (c Credential) IsToken() bool { return c.TokenSource != nil }

// Settings is the per-run snapshot of tunables. Methods return modified copies.
type Settings struct {
	APIKey                   string
	UseAccessToken           bool
	Model                    string
	Version                  string
	LabelName                string
	CycleMinutes             int
	LookbackExtensionMinutes int
	MainFunctionName         string
	NotifyOnDefect           bool

	Credential Credential

	lookbackSet bool
}

func DefaultSettings() Settings {
	return Settings{
		Model:            DefaultModel,
		Version:          DefaultVersion,
		CycleMinutes:     DefaultCycleMinutes,
		MainFunctionName: DefaultMainFunctionName,
	}
}

// Lookback returns the look-back extension in minutes; twice the cycle unless set explicitly.
func (s Settings) Lookback() int {
	if s.lookbackSet {
		return s.LookbackExtensionMinutes
	}
	return s.CycleMinutes * 2
}

// Label returns the mailbox label to scan.
func (s Settings) Label() string {
	if strings.TrimSpace(s.LabelName) == "" {
		return DefaultLabel
	}
	return strings.TrimSpace(s.LabelName)
}

// With returns a copy of s with the sheet key set from its textual value.
// Empty values keep the current setting; unknown keys are ignored.
func (s Settings) With(key, value string) (Settings, error) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if value == "" {
		return s, nil
	}

	invalid := func() (Settings, error) {
		return s, errors.Mark(errors.Newf("invalid value %q for %s", value, key), internal.ErrConfiguration)
	}

	switch key {
	case KeyAPIKey:
		s.APIKey = value
	case KeyUseAccessToken:
		b, ok := parseBool(value)
		if !ok {
			return invalid()
		}
		s.UseAccessToken = b
	case KeyModel:
		s.Model = value
	case KeyVersion:
		s.Version = value
	case KeyLabelName:
		s.LabelName = value
	case KeyCycleMinutes:
		n, err := strconv.Atoi(value)
		if err != nil {
			return invalid()
		}
		s.CycleMinutes = n
	case KeyLookbackMinutes:
		n, err := strconv.Atoi(value)
		if err != nil {
			return invalid()
		}
		s.LookbackExtensionMinutes = n
		s.lookbackSet = true
	case KeyMainFunctionName:
		s.MainFunctionName = value
	case KeyNotifyOnDefect:
		b, ok := parseBool(value)
		if !ok {
			return invalid()
		}
		s.NotifyOnDefect = b
	}
	return s, nil
}

func (s Settings) Validate() error {
	hasKey := s.Credential.APIKey != ""
	hasToken := s.Credential.TokenSource != nil
	if hasKey == hasToken {
		err := errors.Mark(errors.New("exactly one of an API key or an access token must be configured"), internal.ErrConfiguration)
		return errors.WithHint(err, "Please set your API key for using Gemini API.")
	}
	if s.CycleMinutes <= 0 {
		return errors.Mark(errors.Newf("cycle minutes must be positive, got %d", s.CycleMinutes), internal.ErrConfiguration)
	}
	if s.Lookback() < 0 {
		return errors.Mark(errors.Newf("look-back extension must not be negative, got %d", s.Lookback()), internal.ErrConfiguration)
	}
	if strings.TrimSpace(s.Model) == "" || strings.TrimSpace(s.Version) == "" {
		return errors.Mark(errors.New("model and version must be set"), internal.ErrConfiguration)
	}
	return nil
}
