// Package pipeline drives one idempotent scan-classify-log run.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"invoicewatch/internal"
	"invoicewatch/internal/config"
	"invoicewatch/internal/connectors"
	"invoicewatch/internal/ledger"
	"invoicewatch/internal/logger"
	"invoicewatch/internal/notify"
	"invoicewatch/internal/storage"
	"invoicewatch/internal/util"
	"invoicewatch/internal/verdict"
)

// Classifier returns the raw JSON verdict for one document.
type Classifier interface {
	Classify(ctx context.Context, payload internal.Payload, s config.Settings) (json.RawMessage, error)
}

// RunRecorder keeps an audit trail of runs.
type RunRecorder interface {
	InsertRun(ctx context.Context, run storage.RunRecord) error
}

type Deps struct {
	Source     connectors.ItemSource
	Ledger     ledger.Ledger
	Classifier Classifier
	Notifier   notify.Notifier
	Pauser     Pauser
	Runs       RunRecorder
	Log        *zap.Logger
	Now        func() time.Time
}

type Service struct {
	source     connectors.ItemSource
	ledger     ledger.Ledger
	classifier Classifier
	notifier   notify.Notifier
	pauser     Pauser
	runs       RunRecorder
	log        *zap.Logger
	now        func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		source:     d.Source,
		ledger:     d.Ledger,
		classifier: d.Classifier,
		notifier:   d.Notifier,
		pauser:     d.Pauser,
		runs:       d.Runs,
		log:        d.Log,
		now:        d.Now,
	}
	if s.pauser == nil {
		s.pauser = IntervalPauser(5 * time.Second)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run scans for new messages, classifies every document of each one in order and
// appends all resulting rows to the ledger in a single write. Any error before the
// write leaves the ledger untouched; those messages are offered again next cycle.
func (s *Service) Run(ctx context.Context, settings config.Settings) (RunResult, error) {
	result := RunResult{RunID: uuid.NewString()}
	started := s.now()
	log := s.log.With(zap.String(logger.FieldRunID, result.RunID))
	timings := map[string]float64{}

	err := s.run(ctx, settings, started, log, &result, timings)
	timings["totalMs"] = float64(s.now().Sub(started).Milliseconds())
	s.record(ctx, log, result, started, timings, err)
	if err != nil {
		log.Error("run failed", zap.Error(err))
		return RunResult{RunID: result.RunID}, err
	}
	log.Info(result.Summary(),
		zap.Int(logger.FieldCount, len(result.Rows)),
		zap.Int("done", result.Counts.Done),
		zap.Int("invalid", result.Counts.Invalid),
		zap.Int("unrelated", result.Counts.Unrelated),
		zap.Int("unknown", result.Counts.Unknown),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *Service) run(ctx context.Context, settings config.Settings, started time.Time, log *zap.Logger, result *RunResult, timings map[string]float64) error {
	since := LowerBound(started, settings.CycleMinutes, settings.Lookback())

	processed, err := s.ledger.ProcessedIDs(ctx)
	if err != nil {
		return errors.Wrap(err, "read processed ids")
	}

	mark := s.now()
	items, err := s.source.Search(ctx, since, settings.Label())
	if err != nil {
		return errors.Wrap(err, "search items")
	}
	timings["searchMs"] = float64(s.now().Sub(mark).Milliseconds())
	log.Debug("candidates found", zap.Int(logger.FieldCount, len(items)), zap.Time("since", since))

	mark = s.now()
	for _, item := range items {
		if _, ok := processed[item.MessageID]; ok {
			result.Skipped++
			continue
		}
		// A message listed twice by the source is handled once.
		processed[item.MessageID] = struct{}{}

		if err := s.processItem(ctx, settings, started, log, item, result); err != nil {
			return err
		}
	}
	timings["classifyMs"] = float64(s.now().Sub(mark).Milliseconds())

	if len(result.Rows) == 0 {
		return nil
	}

	mark = s.now()
	if err := s.ledger.Append(ctx, result.Rows); err != nil {
		return errors.Wrap(err, "append log rows")
	}
	for _, category := range internal.ColoredCategories {
		indices := result.Indices(category)
		if len(indices) == 0 {
			continue
		}
		if err := s.ledger.Colorize(ctx, indices, category); err != nil {
			log.Warn("colorize rows failed", zap.String(logger.FieldCategory, string(category)), zap.Error(err))
		}
	}
	timings["appendMs"] = float64(s.now().Sub(mark).Milliseconds())
	return nil
}

// processItem classifies every payload of item. Rows carry the run start time.
func (s *Service) processItem(ctx context.Context, settings config.Settings, started time.Time, log *zap.Logger, item internal.CandidateItem, result *RunResult) error {
	log = log.With(zap.String(logger.FieldMessageID, item.MessageID), zap.String(logger.FieldThreadID, item.ThreadID))
	base := internal.LogRow{
		Date:      started,
		ThreadID:  item.ThreadID,
		MessageID: item.MessageID,
		SearchURL: item.SearchURL,
		Sender:    item.Sender,
		Subject:   item.Subject,
	}

	for i, payload := range item.Payloads {
		if i > 0 {
			if err := s.pauser.Pause(ctx); err != nil {
				return errors.Wrap(err, "pause between documents")
			}
		}

		raw, err := s.classifier.Classify(ctx, payload, settings)
		if err != nil {
			return errors.Wrapf(err, "classify %s of message %s", payload.Name, item.MessageID)
		}
		outcome := verdict.Decode(raw)
		if outcome.Kind == verdict.KindDecodeError {
			return errors.Wrapf(outcome.Err, "decode verdict for %s of message %s", payload.Name, item.MessageID)
		}
		if outcome.Err != nil {
			log.Warn("unrecognized verdict", zap.String(logger.FieldPayload, payload.Name), zap.Error(outcome.Err))
		}

		row := outcome.Apply(base)
		result.add(row)
		log.Info("document classified", zap.String(logger.FieldPayload, payload.Name), zap.String(logger.FieldCategory, string(row.Category)))

		if outcome.Kind == verdict.KindInvalid && settings.NotifyOnDefect && s.notifier != nil {
			if err := s.notifier.Notify(ctx, item, util.DerefString(outcome.Defects)); err != nil {
				log.Warn("notify sender failed", zap.Error(err))
			}
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, log *zap.Logger, result RunResult, started time.Time, timings map[string]float64, runErr error) {
	if s.runs == nil {
		return
	}
	rec := storage.RunRecord{
		RunID:     result.RunID,
		StartedAt: started,
		Status:    "ok",
		Timings:   timings,
		Counts: map[string]int{
			"classified": len(result.Rows),
			"done":       result.Counts.Done,
			"invalid":    result.Counts.Invalid,
			"unrelated":  result.Counts.Unrelated,
			"unknown":    result.Counts.Unknown,
			"skipped":    result.Skipped,
		},
	}
	if runErr != nil {
		rec.Status = "failed"
		rec.Error = runErr.Error()
	}
	if err := s.runs.InsertRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("record run failed", zap.Error(err))
	}
}
