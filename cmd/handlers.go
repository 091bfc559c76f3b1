package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/cadence-import/internal/fieldmap"
	"github.com/sells-group/cadence-import/internal/importer"
	"github.com/sells-group/cadence-import/internal/model"
	"github.com/sells-group/cadence-import/internal/progress"
	"github.com/sells-group/cadence-import/internal/resilience"
	"github.com/sells-group/cadence-import/internal/source"
)

// maxBodyBytes caps an import request body.
const maxBodyBytes = 32 << 20

type importStarter interface {
	Start(ctx context.Context, req importer.Request) (*importer.Ack, error)
}

type fieldMapResolver interface {
	Resolve(ctx context.Context, companyID int64, t model.IntegrationType) (*model.FieldMap, error)
}

type recordFetcher interface {
	Fetch(ctx context.Context, t model.IntegrationType, fm *model.FieldMap, ids []string) ([]model.RawRecord, error)
}

type eventSubscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan progress.Event, error)
}

// server holds the HTTP handlers' collaborators. salesforce and events are
// optional and their routes answer 503 when unset.
type server struct {
	imports    importStarter
	fieldMaps  fieldMapResolver
	salesforce recordFetcher
	events     eventSubscriber
	validate   *validator.Validate
}

// salesforceRequest starts an import from Salesforce record ids.
type salesforceRequest struct {
	CompanyID            int64    `json:"company_id" validate:"required,gt=0"`
	CadenceID            int64    `json:"cadence_id" validate:"required,gt=0"`
	Object               string   `json:"object" validate:"required,oneof=Lead Contact"`
	IDs                  []string `json:"ids" validate:"required,min=1,max=2000,dive,required,max=18"`
	SessionID            string   `json:"session_id,omitempty" validate:"omitempty,max=128"`
	StopPreviousCadences bool     `json:"stop_previous_cadences,omitempty"`
}

func (s *server) routes(allowedOrigins []string) http.Handler {
	if s.validate == nil {
		s.validate = validator.New(validator.WithRequiredStructEnabled())
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/imports", s.handleImport)
	r.Post("/imports/salesforce", s.handleSalesforceImport)
	r.Get("/imports/{session_id}/events", s.handleEvents)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importer.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.start(w, r, req)
}

func (s *server) handleSalesforceImport(w http.ResponseWriter, r *http.Request) {
	if s.salesforce == nil {
		writeError(w, http.StatusServiceUnavailable, "salesforce is not configured")
		return
	}

	var req salesforceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, describeValidation(err))
		return
	}

	it, err := source.ObjectType(req.Object)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fm, err := s.fieldMaps.Resolve(r.Context(), req.CompanyID, it)
	if err != nil {
		s.fail(w, err)
		return
	}
	records, err := s.salesforce.Fetch(r.Context(), it, fm, req.IDs)
	if err != nil {
		s.fail(w, err)
		return
	}

	s.start(w, r, importer.Request{
		CompanyID:            req.CompanyID,
		CadenceID:            req.CadenceID,
		IntegrationType:      it,
		SessionID:            req.SessionID,
		StopPreviousCadences: req.StopPreviousCadences,
		Records:              records,
	})
}

func (s *server) start(w http.ResponseWriter, r *http.Request, req importer.Request) {
	ack, err := s.imports.Start(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// handleEvents bridges a session's pub/sub events to server-sent events. The
// stream ends after the result event or when the client goes away.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "progress events are not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := chi.URLParam(r, "session_id")
	events, err := s.events.Subscribe(r.Context(), sessionID)
	if err != nil {
		zap.L().Warn("events: subscribe failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "progress events unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// fail maps request-level errors to HTTP statuses.
func (s *server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, importer.ErrInvalidRequest), errors.Is(err, source.ErrUnsupportedObject):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, fieldmap.ErrNotConfigured):
		status, msg = http.StatusUnprocessableEntity, "no field map configured for this integration"
	case errors.Is(err, importer.ErrCadenceNotFound):
		status, msg = http.StatusNotFound, "cadence not found"
	case errors.Is(err, resilience.ErrCircuitOpen), resilience.IsTransient(err):
		status, msg = http.StatusBadGateway, "upstream service unavailable"
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("import request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, msg)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msg := "invalid request:"
	for i, fe := range verrs {
		if i > 0 {
			msg += ","
		}
		msg += " " + fe.Field() + " failed " + fe.Tag()
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
