package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"invoicewatch/internal"
)

const generativeLanguageScope = "https://www.googleapis.com/auth/generative-language"

type Config struct {
	DBPath       string
	WorkbookPath string
	LogLevel     string

	LedgerBackend string
	MailProvider  string

	GeminiBaseURL      string
	GeminiTimeoutMs    int
	GeminiRateLimitRPS int
	PayloadPauseSec    int

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string

	SendGridAPIKey      string
	SendGridFromName    string
	SendGridFromAddress string

	SchedulerPollSec int
	LeaseTTLMinutes  int

	// SettingOverrides holds run settings set through the environment, keyed by sheet key.
	SettingOverrides map[string]string
}

// settingEnv maps configuration sheet keys to the environment variables that override them.
var settingEnv = map[string]string{
	KeyAPIKey:           "GEMINI_API_KEY",
	KeyUseAccessToken:   "GEMINI_USE_ACCESS_TOKEN",
	KeyModel:            "GEMINI_MODEL",
	KeyVersion:          "GEMINI_API_VERSION",
	KeyLabelName:        "MAIL_LABEL",
	KeyCycleMinutes:     "CYCLE_MINUTES",
	KeyLookbackMinutes:  "LOOKBACK_EXTENSION_MINUTES",
	KeyMainFunctionName: "MAIN_FUNCTION_NAME",
	KeyNotifyOnDefect:   "NOTIFY_ON_DEFECT",
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:       getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		WorkbookPath: getEnv("WORKBOOK_PATH", filepath.Join(cwd, "data", "invoices.xlsx")),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		LedgerBackend: strings.ToLower(getEnv("LEDGER_BACKEND", "workbook")),
		MailProvider:  strings.ToLower(getEnv("MAIL_PROVIDER", "gmail")),

		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiTimeoutMs:    getEnvInt("GEMINI_TIMEOUT_MS", 120000),
		GeminiRateLimitRPS: getEnvInt("GEMINI_RATE_LIMIT_RPS", 2),
		PayloadPauseSec:    getEnvInt("PAYLOAD_PAUSE_SEC", 5),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GoogleRefreshToken: getEnv("GOOGLE_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),

		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		SendGridFromName:    getEnv("SENDGRID_FROM_NAME", "Invoice checker"),
		SendGridFromAddress: getEnv("SENDGRID_FROM_ADDRESS", ""),

		SchedulerPollSec: getEnvInt("SCHEDULER_POLL_SEC", 30),
		LeaseTTLMinutes:  getEnvInt("RUN_LEASE_TTL_MINUTES", 30),

		SettingOverrides: map[string]string{},
	}

	for key, env := range settingEnv {
		if value, ok := os.LookupEnv(env); ok {
			cfg.SettingOverrides[key] = value
		}
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.Mark(errors.Newf("missing required env var: %s", name), internal.ErrConfiguration)
	}
	return nil
}

// GoogleTokenSource builds a refreshing token source from the Google OAuth client credentials.
func (c Config) GoogleTokenSource(ctx context.Context, scopes ...string) (oauth2.TokenSource, error) {
	for name, value := range map[string]string{
		"GOOGLE_CLIENT_ID":     c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": c.GoogleClientSecret,
		"GOOGLE_REFRESH_TOKEN": c.GoogleRefreshToken,
	} {
		if err := c.Require(name, value); err != nil {
			return nil, err
		}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     c.GoogleClientID,
		ClientSecret: c.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  c.GoogleRedirectURI,
		Scopes:       scopes,
	}
	return oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: c.GoogleRefreshToken}), nil
}

// ApplyOverrides sets the settings given through the environment on s.
func (c Config) ApplyOverrides(s Settings) (Settings, error) {
	for key, value := range c.SettingOverrides {
		var err error
		if s, err = s.With(key, value); err != nil {
			return Settings{}, err
		}
	}
	return s, nil
}

// Resolve applies environment overrides to settings and attaches the credential
// the classifier will use. The returned snapshot is used unchanged for the whole run.
func (c Config) Resolve(ctx context.Context, s Settings) (Settings, error) {
	s, err := c.ApplyOverrides(s)
	if err != nil {
		return Settings{}, err
	}

	switch {
	case s.UseAccessToken:
		ts, err := c.GoogleTokenSource(ctx, generativeLanguageScope)
		if err != nil {
			return Settings{}, errors.WithHint(err, "useAccessToken is TRUE; set the Google OAuth credentials or switch to an API key")
		}
		s.Credential = Credential{TokenSource: ts}
	case strings.TrimSpace(s.APIKey) != "":
		s.Credential = Credential{APIKey: strings.TrimSpace(s.APIKey)}
	default:
		s.Credential = Credential{}
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	parsed, ok := parseBool(getEnv(key, ""))
	if !ok {
		return fallback
	}
	return parsed
}

func parseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
