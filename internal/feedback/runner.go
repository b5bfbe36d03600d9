package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/traceloupe/traceloupe/internal/database"
)

// evalBatchSize caps how many backlogged records one definition
// evaluates per pass, so a cold start does not burn the API budget in
// one poll.
const evalBatchSize = 50

// Runner evaluates feedback definitions against completed records.
// Records already holding a result for a definition are never
// re-evaluated; failed evaluations stay failed until rescored manually.
type Runner struct {
	store     database.Store
	providers map[string]Provider
	logger    *log.Logger
	interval  time.Duration
	batch     int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRunner creates a runner polling at the given interval. A nil
// logger falls back to a stderr logger.
func NewRunner(store database.Store, logger *log.Logger, interval time.Duration) *Runner {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "traceloupe-feedback"})
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Runner{
		store:     store,
		providers: make(map[string]Provider),
		logger:    logger,
		interval:  interval,
		batch:     evalBatchSize,
	}
}

// Register makes a provider available under its name. Definitions
// naming a provider that was never registered are skipped.
func (r *Runner) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Start begins polling in the background until the context is canceled
// or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop cancels polling and waits for the in-flight pass to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// First pass immediately so a fresh daemon doesn't idle a full interval
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("feedback pass failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("feedback pass failed", "err", err)
			}
		}
	}
}

// RunOnce evaluates every definition's backlog once and returns how
// many records were scored. The CLI uses this for synchronous scoring.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	defs, err := r.store.GetFeedbackDefs()
	if err != nil {
		return 0, fmt.Errorf("loading feedback definitions: %w", err)
	}

	evaluated := 0
	for _, def := range defs {
		provider, ok := r.providers[def.Provider]
		if !ok {
			continue
		}

		recs, err := r.store.RecordsMissingFeedback(def.FeedbackDefID, r.batch)
		if err != nil {
			r.logger.Error("querying backlog", "feedback", def.Name, "err", err)
			continue
		}

		for _, rec := range recs {
			select {
			case <-ctx.Done():
				return evaluated, ctx.Err()
			default:
			}

			if err := r.evaluate(ctx, provider, def, rec); err != nil {
				r.logger.Error("evaluation failed",
					"feedback", def.Name, "record", rec.RecordID, "err", err)
				continue
			}
			evaluated++
		}
	}

	return evaluated, nil
}

// evaluate scores one record, walking the result row through
// running → done, or running → failed with the error preserved.
func (r *Runner) evaluate(ctx context.Context, provider Provider, def *database.FeedbackDef, rec *database.Record) error {
	fr := &database.FeedbackResult{
		FeedbackResultID: uuid.NewString(),
		RecordID:         rec.RecordID,
		FeedbackDefID:    def.FeedbackDefID,
		Name:             def.Name,
		Status:           database.FeedbackStatusRunning,
	}
	if err := r.store.InsertFeedbackResult(fr); err != nil {
		return fmt.Errorf("marking feedback running: %w", err)
	}

	result, err := provider.Score(ctx, def, rec)
	if err != nil {
		msg := err.Error()
		fr.Status = database.FeedbackStatusFailed
		fr.ErrorMessage = &msg
		if uerr := r.store.InsertFeedbackResult(fr); uerr != nil {
			return fmt.Errorf("marking feedback failed: %w", uerr)
		}
		return err
	}

	fr.Score = result.Score
	fr.Status = database.FeedbackStatusDone
	fr.CostUSD = result.CostUSD
	if result.Explanation != "" {
		if detail, merr := json.Marshal(map[string]string{"explanation": result.Explanation}); merr == nil {
			s := string(detail)
			fr.CallsJSON = &s
		}
	}
	if err := r.store.InsertFeedbackResult(fr); err != nil {
		return fmt.Errorf("storing feedback result: %w", err)
	}

	r.logger.Info("scored",
		"feedback", def.Name, "record", rec.RecordID, "score", result.Score)
	return nil
}
