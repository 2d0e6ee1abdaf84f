// Package labapi is the thin HTTP boundary: it exposes the operations the
// lab information system and the instrument callback need, and nothing
// else.
package labapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/plateflow/internal/acquisition"
)

// Completer receives the ids of reads whose status callback reported
// COMPLETED, so the post-read pipeline can run outside the request.
type Completer interface {
	NotifyReadCompleted(readID string)
}

// API holds dependencies for the HTTP handlers.
type API struct {
	logger    log.Logger
	svc       *acquisition.Service
	completer Completer
}

// New creates the boundary API.
func New(logger log.Logger, svc *acquisition.Service, completer Completer) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("acquisition service is required"))
	}
	return &API{logger: logger, svc: svc, completer: completer}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/wellplates", a.handleCreateWellplate)
		r.Put("/wellplates/{id}/location", a.handleUpdateLocation)
		r.Post("/acquisitions", a.handleCreateAcquisition)
		r.Get("/acquisitions/{id}", a.handleGetAcquisition)
		r.Post("/plans", a.handleCreatePlan)
		r.Post("/acquisitions/{id}/analysis-plan", a.handleCreateAnalysisPlan)
		r.Post("/analysis-plans/{id}/specs", a.handleAddAnalysisSpec)
		r.Put("/reads/{id}/status", a.handleUpdateReadStatus)
	})
}

func (a *API) handleCreateWellplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	wp, err := a.svc.CreateWellplate(r.Context(), req.Name)
	if err != nil {
		a.writeServiceError(w, r, err, "create wellplate")
		return
	}
	writeJSON(w, http.StatusCreated, wp)
}

func (a *API) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Location acquisition.PlateLocation `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	wp, err := a.svc.UpdateWellplateLocation(r.Context(), id, req.Location)
	if err != nil {
		a.writeServiceError(w, r, err, "update wellplate location")
		return
	}
	writeJSON(w, http.StatusOK, wp)
}

func (a *API) handleCreateAcquisition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		Instrument string `json:"instrument"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	acq, err := a.svc.CreateAcquisition(r.Context(), req.Name, req.Instrument)
	if err != nil {
		a.writeServiceError(w, r, err, "create acquisition")
		return
	}
	writeJSON(w, http.StatusCreated, acq)
}

func (a *API) handleGetAcquisition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("plateflow.acquisition.id", id))

	acq, ok, err := a.svc.Store().GetAcquisition(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "get acquisition")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	collections, err := a.svc.Store().ListCollections(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "list collections")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"acquisition": acq,
		"collections": collections,
	})
}

func (a *API) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AcquisitionID   string                    `json:"acquisition_id"`
		WellplateID     string                    `json:"wellplate_id"`
		StorageLocation acquisition.PlateLocation `json:"storage_location"`
		ProtocolName    string                    `json:"protocol_name"`
		NReads          int                       `json:"n_reads"`
		IntervalSecs    int64                     `json:"interval_secs"`
		DeadlineSecs    *int64                    `json:"deadline_offset_secs,omitempty"`
		Priority        acquisition.Priority      `json:"priority,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	params := acquisition.PlanParams{
		AcquisitionID:   req.AcquisitionID,
		WellplateID:     req.WellplateID,
		StorageLocation: req.StorageLocation,
		ProtocolName:    req.ProtocolName,
		NReads:          req.NReads,
		Interval:        time.Duration(req.IntervalSecs) * time.Second,
		Priority:        req.Priority,
	}
	if req.DeadlineSecs != nil {
		d := time.Duration(*req.DeadlineSecs) * time.Second
		params.DeadlineOffset = &d
	}
	p, err := a.svc.CreatePlan(r.Context(), params)
	if err != nil {
		a.writeServiceError(w, r, err, "create plan")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleCreateAnalysisPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ap, err := a.svc.CreateAnalysisPlan(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "create analysis plan")
		return
	}
	writeJSON(w, http.StatusCreated, ap)
}

func (a *API) handleAddAnalysisSpec(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Trigger      acquisition.TriggerKind `json:"trigger"`
		TriggerValue *int                    `json:"trigger_value,omitempty"`
		Command      string                  `json:"command"`
		Args         []string                `json:"args,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	spec, err := a.svc.AddAnalysisSpec(r.Context(), id, req.Trigger, req.TriggerValue, req.Command, req.Args)
	if err != nil {
		a.writeServiceError(w, r, err, "add analysis spec")
		return
	}
	writeJSON(w, http.StatusCreated, spec)
}

// handleUpdateReadStatus is the instrument callback. A COMPLETED report is
// acknowledged as soon as the status is persisted; the post-read pipeline
// runs asynchronously.
func (a *API) handleUpdateReadStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Status acquisition.ReadStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("plateflow.read.id", id),
		attribute.String("plateflow.read.status", string(req.Status)),
	)

	read, err := a.svc.UpdateReadStatus(r.Context(), id, req.Status)
	if err != nil {
		a.writeServiceError(w, r, err, "update read status")
		return
	}
	if read.Status == acquisition.ReadCompleted && a.completer != nil {
		a.completer.NotifyReadCompleted(read.ID)
	}
	writeJSON(w, http.StatusOK, read)
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, acquisition.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, acquisition.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, acquisition.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
