package importer

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cadence-import/internal/access"
	"github.com/sells-group/cadence-import/internal/model"
	"github.com/sells-group/cadence-import/internal/normalize"
	"github.com/sells-group/cadence-import/internal/owner"
	"github.com/sells-group/cadence-import/internal/resilience"
)

// batch holds the state owned by one Run. Nothing in it is shared with other
// runs, even for the same cadence.
type batch struct {
	Job
	owners    *owner.Cache
	accounts  *accountCache
	nextOrder atomic.Int64
	log       *zap.Logger
}

// itemResult is what a worker hands back for one record.
type itemResult struct {
	index   int
	skipped bool
	success *model.SuccessOutcome
	failure *model.ErrorOutcome
}

// tally is the running fold of item results.
type tally struct {
	processed int
	skipped   int
	successes []model.SuccessOutcome
	failures  []model.ErrorOutcome
}

func (t tally) add(r itemResult) tally {
	t.processed++
	switch {
	case r.skipped:
		t.skipped++
	case r.success != nil:
		t.successes = append(t.successes, *r.success)
	case r.failure != nil:
		t.failures = append(t.failures, *r.failure)
	}
	return t
}

func (t tally) result() model.BatchResult {
	successes := append([]model.SuccessOutcome(nil), t.successes...)
	failures := append([]model.ErrorOutcome(nil), t.failures...)
	sort.Slice(successes, func(i, j int) bool { return successes[i].Index < successes[j].Index })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
	if successes == nil {
		successes = []model.SuccessOutcome{}
	}
	if failures == nil {
		failures = []model.ErrorOutcome{}
	}
	return model.BatchResult{
		TotalSuccess:   len(successes),
		TotalError:     len(failures),
		TotalSkipped:   t.skipped,
		ElementSuccess: successes,
		ElementError:   failures,
	}
}

// Run processes every record of the job and returns the folded result. It
// never fails as a whole: each record ends as a success, an error outcome, or
// a skipped blank row. Progress and the final result go to the reporter.
func (im *Importer) Run(ctx context.Context, job Job) model.BatchResult {
	log := zap.L().With(
		zap.String("session_id", job.SessionID),
		zap.Int64("cadence_id", job.Cadence.ID),
	)
	b := &batch{
		Job:      job,
		owners:   owner.NewCache(),
		accounts: newAccountCache(),
		log:      log,
	}

	maxOrder, err := im.store.MaxLinkOrder(ctx, job.Cadence.ID)
	if err != nil {
		log.Warn("importer: read max order, starting at 0", zap.Error(err))
	}
	b.nextOrder.Store(int64(maxOrder))

	size := len(job.Records)
	results := make(chan itemResult, im.cfg.Concurrency)

	go func() {
		g := new(errgroup.Group)
		g.SetLimit(im.cfg.Concurrency)
		for idx, raw := range job.Records {
			g.Go(func() error {
				results <- im.process(ctx, b, idx, raw)
				return nil // a record never aborts the batch
			})
		}
		_ = g.Wait()
		close(results)
	}()

	var t tally
	for r := range results {
		t = t.add(r)
		if t.processed%im.cfg.CheckpointInterval == 0 {
			im.checkpoint(ctx, b, t.processed, size)
		}
	}
	if t.processed%im.cfg.CheckpointInterval != 0 {
		im.reporter.Progress(ctx, job.SessionID, t.processed, size)
	}

	im.reconcile(ctx, b)
	result := t.result()
	im.reporter.Result(ctx, job.SessionID, result)

	log.Info("import complete",
		zap.Int("total_success", result.TotalSuccess),
		zap.Int("total_error", result.TotalError),
		zap.Int("total_skipped", result.TotalSkipped),
	)
	return result
}

// checkpoint runs while workers keep going; results queue up in the channel.
func (im *Importer) checkpoint(ctx context.Context, b *batch, index, size int) {
	im.reconcile(ctx, b)
	im.reporter.Progress(ctx, b.SessionID, index, size)
}

func (im *Importer) reconcile(ctx context.Context, b *batch) {
	err := resilience.Do(ctx, im.cfg.Retry, func(ctx context.Context) error {
		return im.reconciler.Reconcile(ctx, b.Cadence.ID)
	})
	if err != nil {
		b.log.Warn("importer: reconcile failed", zap.Error(err))
	}
}

// process runs one record through normalize, owner, access and write.
func (im *Importer) process(ctx context.Context, b *batch, idx int, raw model.RawRecord) (res itemResult) {
	var draft model.DraftRecord
	defer func() {
		if p := recover(); p != nil {
			b.log.Error("importer: panic processing record",
				zap.Int("index", idx),
				zap.Any("panic", p),
			)
			res = b.reject(idx, draft, eris.Errorf("importer: panic: %v", p))
		}
	}()

	draft, err := normalize.Normalize(b.IntegrationType, raw, b.FieldMap)
	if errors.Is(err, normalize.ErrBlankRecord) {
		return itemResult{index: idx, skipped: true}
	}
	draft.Index = idx
	draft.CadenceID = b.Cadence.ID
	if err != nil {
		return b.reject(idx, draft, err)
	}

	user, err := im.owners.Resolve(ctx, draft.OwnerID, b.CompanyID, b.owners)
	if err != nil {
		return b.reject(idx, draft, err)
	}

	decision, err := im.checker.Check(ctx, draft, user, b.Cadence)
	if err != nil {
		return b.reject(idx, draft, err)
	}

	var action model.Action
	var leadID int64
	switch decision.Kind {
	case access.AccessDenied:
		return b.reject(idx, draft, access.ErrAccessDenied)
	case access.PresentLinkExisting:
		leadID = decision.Lead.ID
		action, err = im.linkExisting(ctx, b, decision, user)
	case access.AbsentCreateNew:
		leadID, err = im.createNew(ctx, b, draft, user)
		action = model.ActionCreated
	}
	if err != nil {
		return b.reject(idx, draft, err)
	}

	b.log.Debug("importer: record done",
		zap.Int("index", idx),
		zap.String("external_id", draft.IntegrationID),
		zap.String("action", string(action)),
	)
	return itemResult{index: idx, success: &model.SuccessOutcome{
		ExternalID: draft.IntegrationID,
		LeadID:     leadID,
		CadenceID:  b.Cadence.ID,
		Action:     action,
		Index:      idx,
	}}
}

func (b *batch) reject(idx int, draft model.DraftRecord, err error) itemResult {
	kind, msg := classify(draft, err)
	if kind == model.ErrKindInternal || kind == model.ErrKindUpstream {
		b.log.Warn("importer: record failed", zap.Int("index", idx), zap.Error(err))
	}
	var ext *string
	if draft.IntegrationID != "" {
		id := draft.IntegrationID
		ext = &id
	}
	return itemResult{index: idx, failure: &model.ErrorOutcome{
		ExternalID: ext,
		CadenceID:  b.Cadence.ID,
		Message:    msg,
		Kind:       kind,
		Index:      idx,
	}}
}
