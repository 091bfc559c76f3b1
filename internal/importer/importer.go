// Package importer runs bulk record imports into a cadence: it validates the
// request, answers immediately, and processes the batch in the background.
package importer

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cadence-import/internal/access"
	"github.com/sells-group/cadence-import/internal/fieldmap"
	"github.com/sells-group/cadence-import/internal/model"
	"github.com/sells-group/cadence-import/internal/order"
	"github.com/sells-group/cadence-import/internal/owner"
	"github.com/sells-group/cadence-import/internal/progress"
	"github.com/sells-group/cadence-import/internal/resilience"
	"github.com/sells-group/cadence-import/internal/store"
	"github.com/sells-group/cadence-import/internal/tasks"
)

var (
	// ErrInvalidRequest is returned by Start for malformed requests.
	ErrInvalidRequest = eris.New("importer: invalid request")
	// ErrCadenceNotFound is returned by Start when the cadence does not exist
	// in the requesting company.
	ErrCadenceNotFound = eris.New("importer: cadence not found")
)

const (
	defaultConcurrency        = 5
	defaultCheckpointInterval = 10

	// StatusStarted is the acknowledgement status of an accepted batch.
	StatusStarted = "started"
)

// Config tunes the worker pool and checkpoints.
type Config struct {
	Concurrency        int
	CheckpointInterval int
	Retry              resilience.RetryConfig
}

// Request is a start-import request.
type Request struct {
	CompanyID            int64                 `json:"company_id" validate:"required,gt=0"`
	CadenceID            int64                 `json:"cadence_id" validate:"required,gt=0"`
	IntegrationType      model.IntegrationType `json:"integration_type" validate:"required"`
	SessionID            string                `json:"session_id,omitempty" validate:"omitempty,max=128"`
	StopPreviousCadences bool                  `json:"stop_previous_cadences,omitempty"`
	Records              []model.RawRecord     `json:"records" validate:"required,min=1"`
}

// Ack is the immediate answer to an accepted request.
type Ack struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Size      int    `json:"size"`
}

// Job is a validated batch ready to run.
type Job struct {
	SessionID            string
	CompanyID            int64
	Cadence              *model.Cadence
	IntegrationType      model.IntegrationType
	FieldMap             *model.FieldMap
	Records              []model.RawRecord
	StopPreviousCadences bool
}

// Importer wires the pipeline stages together.
type Importer struct {
	store      store.Store
	fieldMaps  *fieldmap.Resolver
	owners     *owner.Resolver
	checker    *access.Checker
	reconciler *order.Reconciler
	reporter   progress.Reporter
	notifier   tasks.Notifier
	validate   *validator.Validate
	cfg        Config

	running sync.WaitGroup
}

// New creates an Importer. A nil reporter logs events; a nil notifier drops
// task notifications.
func New(st store.Store, reporter progress.Reporter, notifier tasks.Notifier, cfg Config) *Importer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = defaultCheckpointInterval
	}
	if reporter == nil {
		reporter = progress.LogReporter{}
	}
	if notifier == nil {
		notifier = tasks.Nop{}
	}
	return &Importer{
		store:      st,
		fieldMaps:  fieldmap.NewResolver(st),
		owners:     owner.NewResolver(st),
		checker:    access.NewChecker(st),
		reconciler: order.NewReconciler(st),
		reporter:   reporter,
		notifier:   notifier,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		cfg:        cfg,
	}
}

// Prepare validates a request and loads everything the batch needs. Errors
// here are request-level: nothing has been written.
func (im *Importer) Prepare(ctx context.Context, req Request) (Job, error) {
	if err := im.validate.Struct(req); err != nil {
		return Job{}, eris.Wrap(ErrInvalidRequest, describeValidation(err))
	}
	if !req.IntegrationType.Valid() {
		return Job{}, eris.Wrapf(ErrInvalidRequest, "unknown integration type %q", req.IntegrationType)
	}

	fm, err := im.fieldMaps.Resolve(ctx, req.CompanyID, req.IntegrationType)
	if err != nil {
		return Job{}, err
	}

	cadence, err := im.store.GetCadence(ctx, req.CadenceID)
	if err != nil {
		return Job{}, eris.Wrapf(err, "importer: load cadence %d", req.CadenceID)
	}
	if cadence == nil || cadence.CompanyID != req.CompanyID {
		return Job{}, eris.Wrapf(ErrCadenceNotFound, "importer: cadence %d", req.CadenceID)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return Job{
		SessionID:            sessionID,
		CompanyID:            req.CompanyID,
		Cadence:              cadence,
		IntegrationType:      req.IntegrationType,
		FieldMap:             fm,
		Records:              req.Records,
		StopPreviousCadences: req.StopPreviousCadences,
	}, nil
}

// Start prepares the request and runs the batch detached from ctx. The
// caller gets the acknowledgement before any record is processed; outcomes
// are delivered through the reporter only.
func (im *Importer) Start(ctx context.Context, req Request) (*Ack, error) {
	job, err := im.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	im.running.Add(1)
	go func() {
		defer im.running.Done()
		im.Run(runCtx, job)
	}()

	zap.L().Info("import started",
		zap.String("session_id", job.SessionID),
		zap.Int64("cadence_id", job.Cadence.ID),
		zap.String("integration_type", string(job.IntegrationType)),
		zap.Int("records", len(job.Records)),
	)
	return &Ack{Status: StatusStarted, SessionID: job.SessionID, Size: len(job.Records)}, nil
}

// Wait blocks until every batch launched by Start has finished.
func (im *Importer) Wait() {
	im.running.Wait()
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
