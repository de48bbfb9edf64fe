// Package app assembles the pipeline from configuration for the command line entry points.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"invoicewatch/internal"
	"invoicewatch/internal/classifier"
	"invoicewatch/internal/config"
	"invoicewatch/internal/connectors"
	gmailconnector "invoicewatch/internal/connectors/gmail"
	imapconnector "invoicewatch/internal/connectors/imap"
	"invoicewatch/internal/ledger"
	"invoicewatch/internal/notify"
	"invoicewatch/internal/pipeline"
	"invoicewatch/internal/scheduler"
	"invoicewatch/internal/storage"
)

type App struct {
	Cfg config.Config
	Log *zap.Logger
	DB  *storage.DB
}

func Open(cfg config.Config, log *zap.Logger) (*App, error) {
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", cfg.DBPath)
	}
	return &App{Cfg: cfg, Log: log, DB: db}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// Init bootstraps the configuration sheet and the ledger header of the workbook.
func (a *App) Init() (bool, error) {
	wb, err := ledger.OpenWorkbook(a.Cfg.WorkbookPath)
	if err != nil {
		return false, err
	}
	defer wb.Close()

	bootstrapped, err := config.Bootstrap(wb.File())
	if err != nil {
		return false, err
	}
	if err := wb.EnsureHeader(); err != nil {
		return false, err
	}
	return bootstrapped, wb.Save()
}

// SheetSettings reads the configuration sheet with environment overrides applied,
// without resolving credentials.
func (a *App) SheetSettings() (config.Settings, error) {
	wb, err := ledger.OpenWorkbook(a.Cfg.WorkbookPath)
	if err != nil {
		return config.Settings{}, err
	}
	defer wb.Close()

	s, _, err := a.loadSettings(wb)
	return s, err
}

func (a *App) loadSettings(wb *ledger.Workbook) (config.Settings, bool, error) {
	s, bootstrapped, err := config.LoadSheet(wb.File())
	if err != nil {
		return config.Settings{}, false, err
	}
	if bootstrapped {
		if err := wb.Save(); err != nil {
			return config.Settings{}, false, errors.Wrap(err, "save bootstrapped configuration")
		}
		a.Log.Info("configuration sheet created with defaults", zap.String("path", wb.Path()))
	}
	s, err = a.Cfg.ApplyOverrides(s)
	return s, bootstrapped, err
}

// RunOnce reads a fresh settings snapshot and runs the pipeline a single time.
func (a *App) RunOnce(ctx context.Context) (pipeline.RunResult, error) {
	wb, err := ledger.OpenWorkbook(a.Cfg.WorkbookPath)
	if err != nil {
		return pipeline.RunResult{}, err
	}
	defer wb.Close()

	sheet, _, err := a.loadSettings(wb)
	if err != nil {
		return pipeline.RunResult{}, err
	}
	settings, err := a.Cfg.Resolve(ctx, sheet)
	if err != nil {
		return pipeline.RunResult{}, err
	}

	svc, err := a.Pipeline(ctx, a.ledger(wb))
	if err != nil {
		return pipeline.RunResult{}, err
	}
	return svc.Run(ctx, settings)
}

// ResolvedSettings returns the settings snapshot a run would use.
func (a *App) ResolvedSettings(ctx context.Context) (config.Settings, error) {
	s, err := a.SheetSettings()
	if err != nil {
		return config.Settings{}, err
	}
	return a.Cfg.Resolve(ctx, s)
}

func (a *App) Pipeline(ctx context.Context, l ledger.Ledger) (*pipeline.Service, error) {
	source, err := a.Source(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.NewService(pipeline.Deps{
		Source:     source,
		Ledger:     l,
		Classifier: a.Classifier(),
		Notifier:   notify.NewReplyNotifier(a.Log),
		Pauser:     pipeline.IntervalPauser(time.Duration(a.Cfg.PayloadPauseSec) * time.Second),
		Runs:       a.DB,
		Log:        a.Log.Named("pipeline"),
	}), nil
}

func (a *App) Classifier() *classifier.Client {
	return classifier.NewClient(a.Cfg, a.Log)
}

func (a *App) ledger(wb *ledger.Workbook) ledger.Ledger {
	if a.Cfg.LedgerBackend == "sqlite" {
		return ledger.NewSQL(a.DB)
	}
	return wb
}

// Source builds the item source of the configured mail provider.
func (a *App) Source(ctx context.Context) (connectors.ItemSource, error) {
	switch strings.ToLower(strings.TrimSpace(a.Cfg.MailProvider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, a.Cfg, a.Log)
	case "imap":
		var replier connectors.ReplierFactory
		if strings.TrimSpace(a.Cfg.SendGridAPIKey) != "" {
			sg, err := notify.NewSendGrid(a.Cfg, a.Log)
			if err != nil {
				return nil, err
			}
			replier = sg.Replier
		}
		return imapconnector.NewConnector(a.Cfg, replier, a.Log)
	default:
		return nil, errors.Mark(errors.Newf("unsupported mail provider: %s", a.Cfg.MailProvider), internal.ErrConfiguration)
	}
}

func (a *App) Registry() *scheduler.Registry {
	return scheduler.NewRegistry(a.DB)
}

// Scheduler hosts the trigger of handler, which runs the pipeline. report receives
// the result of every successful run; when nil the summary is logged.
func (a *App) Scheduler(handler string, report func(pipeline.RunResult)) *scheduler.Service {
	if report == nil {
		report = func(result pipeline.RunResult) {
			a.Log.Info("scheduled run finished", zap.String("summary", result.Summary()))
		}
	}
	handlers := map[string]scheduler.RunFunc{
		handler: func(ctx context.Context) error {
			result, err := a.RunOnce(ctx)
			if err != nil {
				return err
			}
			report(result)
			return nil
		},
	}
	return scheduler.NewService(a.DB, handlers,
		time.Duration(a.Cfg.SchedulerPollSec)*time.Second,
		time.Duration(a.Cfg.LeaseTTLMinutes)*time.Minute,
		a.Log)
}
