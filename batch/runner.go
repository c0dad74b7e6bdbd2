// Package batch translates a corpus of records with bounded concurrency,
// persisting each result as soon as it is known.
package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ownlingo/catalog-translate/corpus"
	"github.com/ownlingo/catalog-translate/metrics"
	"github.com/ownlingo/catalog-translate/translator"
)

// Saver persists finished records
type Saver interface {
	Save(ctx context.Context, rec *corpus.Record) error
}

// Options controls a batch run
type Options struct {
	Concurrency int
	TargetLang  string
	Force       bool // re-translate records that already have a translation
	DryRun      bool // count pending work without calling providers

	// Progress, when set, is called once per record reaching a terminal
	// state. Calls are never concurrent.
	Progress func(Event)

	Logger *logrus.Logger
}

// Event reports one finished record
type Event struct {
	Key      string
	State    corpus.State
	Provider string
	Duration time.Duration
	Reason   string
	Done     int
	Total    int
}

// Summary reports run execution counters
type Summary struct {
	RunID        string            `json:"run_id"`
	Total        int               `json:"total"`
	Succeeded    int               `json:"succeeded"`
	Failed       int               `json:"failed"`
	Skipped      int               `json:"skipped"`
	Pending      int               `json:"pending"`
	Canceled     int               `json:"canceled"`
	PeakInFlight int               `json:"peak_in_flight"`
	Duration     time.Duration     `json:"duration"`
	Failures     map[string]string `json:"failures,omitempty"`
}

// Runner drives records through a translator and into a store
type Runner struct {
	chain  translator.Translator
	store  Saver
	opts   Options
	logger *logrus.Logger

	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewRunner creates a runner. Concurrency below 1 is treated as 1.
func NewRunner(chain translator.Translator, store Saver, opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		chain:  chain,
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// InFlight returns the number of records currently being translated
func (r *Runner) InFlight() int {
	return int(r.inFlight.Load())
}

// PeakInFlight returns the highest in-flight count seen so far
func (r *Runner) PeakInFlight() int {
	return int(r.peak.Load())
}

type outcome struct {
	rec         *corpus.Record
	err         error
	interrupted bool
}

// Run translates every pending record. It returns an *corpus.OutputError if
// a result could not be persisted, the context error if ctx was cancelled,
// and nil otherwise; individual translation failures are only counted.
func (r *Runner) Run(ctx context.Context, records []*corpus.Record) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		RunID:    uuid.NewString(),
		Total:    len(records),
		Failures: make(map[string]string),
	}
	log := r.logger.WithField("run_id", summary.RunID)

	done := 0
	pending := make([]*corpus.Record, 0, len(records))
	for _, rec := range records {
		reason := r.skipReason(rec)
		if reason == "" {
			pending = append(pending, rec)
			continue
		}

		if err := rec.Advance(corpus.StateSkipped); err != nil {
			log.WithError(err).Warn("Unexpected record state")
		}
		summary.Skipped++
		done++
		metrics.BatchRecords.WithLabelValues(string(corpus.StateSkipped)).Inc()
		r.emit(Event{Key: rec.Key(), State: corpus.StateSkipped, Reason: reason, Done: done, Total: len(records)})
	}

	log.WithFields(logrus.Fields{
		"total":       len(records),
		"pending":     len(pending),
		"skipped":     summary.Skipped,
		"concurrency": r.opts.Concurrency,
	}).Info("Starting batch run")

	if r.opts.DryRun {
		summary.Pending = len(pending)
		summary.Duration = time.Since(start)
		return summary, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	finished := make(chan outcome)
	var writeErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Results that completed before an interrupt are still worth keeping.
		saveCtx := context.WithoutCancel(ctx)
		for o := range finished {
			done++
			rec := o.rec
			event := Event{Key: rec.Key(), State: rec.State(), Done: done, Total: len(records)}

			if o.interrupted || writeErr != nil {
				summary.Canceled++
				event.Reason = "canceled"
				r.emit(event)
				continue
			}

			if err := r.store.Save(saveCtx, rec); err != nil {
				writeErr = err
				cancel()
				summary.Failed++
				summary.Failures[rec.Key()] = err.Error()
				event.State = corpus.StateFailed
				event.Reason = err.Error()
				log.WithError(err).WithField("key", rec.Key()).Error("Failed to save record, stopping run")
				r.emit(event)
				continue
			}

			metrics.BatchRecords.WithLabelValues(string(rec.State())).Inc()
			if o.err != nil {
				summary.Failed++
				summary.Failures[rec.Key()] = rec.Error
				event.Reason = rec.Error
			} else {
				summary.Succeeded++
				event.Provider = rec.Translation.Provider
				event.Duration = time.Duration(rec.Translation.DurationMs) * time.Millisecond
			}
			r.emit(event)
		}
	}()

	dispatched := 0
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Concurrency)
	for _, rec := range pending {
		if runCtx.Err() != nil {
			break
		}
		dispatched++
		g.Go(func() error {
			finished <- r.process(runCtx, rec)
			return nil
		})
	}
	_ = g.Wait()
	close(finished)
	wg.Wait()

	summary.Pending = len(pending) - dispatched
	summary.PeakInFlight = r.PeakInFlight()
	summary.Duration = time.Since(start)

	log.WithFields(logrus.Fields{
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
		"canceled":  summary.Canceled,
		"duration":  summary.Duration.Round(time.Millisecond),
	}).Info("Batch run finished")

	if writeErr != nil {
		return summary, asOutputError(writeErr)
	}
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

// skipReason returns why a record needs no provider call, or "" if it does.
// It fills in default target and detected source languages.
func (r *Runner) skipReason(rec *corpus.Record) string {
	if !r.opts.Force && rec.Translated() {
		return "already translated"
	}
	if strings.TrimSpace(rec.Text) == "" {
		return "empty text"
	}

	if rec.TargetLang == "" {
		rec.TargetLang = r.opts.TargetLang
	}
	if rec.TargetLang == "" {
		return "no target language"
	}
	if rec.SourceLang == "" {
		rec.SourceLang = translator.DetectLanguage(rec.Text)
	}
	if translator.SameLanguage(rec.SourceLang, rec.TargetLang) {
		return "source and target language are the same"
	}
	return ""
}

func (r *Runner) process(ctx context.Context, rec *corpus.Record) outcome {
	if err := ctx.Err(); err != nil {
		return outcome{rec: rec, err: err, interrupted: true}
	}
	if err := rec.Advance(corpus.StateInFlight); err != nil {
		return outcome{rec: rec, err: err}
	}

	r.enter()
	defer r.leave()

	resp, err := r.chain.Translate(ctx, &translator.TranslationRequest{
		Text:           rec.Text,
		SourceLanguage: rec.SourceLang,
		TargetLanguage: rec.TargetLang,
	})

	if err != nil {
		interrupted := ctx.Err() != nil
		if !interrupted {
			rec.Error = err.Error()
		}
		_ = rec.Advance(corpus.StateFailed)
		r.logger.WithFields(logrus.Fields{
			"key":     rec.Key(),
			"outcome": translator.Outcome(err),
		}).Debug("Record failed")
		return outcome{rec: rec, err: err, interrupted: interrupted}
	}

	rec.Translation = &corpus.Translation{
		Text:       resp.TranslatedText,
		Provider:   resp.Provider,
		DurationMs: resp.DurationMs(),
	}
	rec.Error = ""
	_ = rec.Advance(corpus.StateTranslated)
	return outcome{rec: rec}
}

func (r *Runner) enter() {
	n := r.inFlight.Add(1)
	metrics.BatchInFlight.Inc()
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (r *Runner) leave() {
	r.inFlight.Add(-1)
	metrics.BatchInFlight.Dec()
}

func (r *Runner) emit(e Event) {
	if r.opts.Progress != nil {
		r.opts.Progress(e)
	}
}

func asOutputError(err error) error {
	if _, ok := err.(*corpus.OutputError); ok {
		return err
	}
	return &corpus.OutputError{Err: fmt.Errorf("save record: %w", err)}
}
