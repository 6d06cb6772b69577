// Package handler exposes the case lifecycle over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kycflow/internal/caseflow"
	"kycflow/pkg/domain"
	"kycflow/pkg/platform/httputil"
	"kycflow/pkg/requestcontext"
)

// Service defines the case operations the handler needs.
type Service interface {
	Create(ctx context.Context, input caseflow.CreateInput) (*caseflow.Case, error)
	Get(ctx context.Context, id domain.CaseID) (*caseflow.Case, error)
}

// Handler wires case endpoints to the orchestrator service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a case handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts case endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/kyc/cases", h.HandleCreate)
	r.Get("/kyc/cases/{case_id}", h.HandleGet)
}

// HandleCreate handles POST /kyc/cases. A case that settles on the
// first attempt answers 200 with the decision; one still in flight
// answers 202.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[CreateCaseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	c, err := h.service.Create(ctx, caseflow.CreateInput{
		SubjectID:  req.ParsedSubjectID(),
		Required:   req.ParsedCapabilities(),
		Attributes: req.Attributes,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "case creation failed",
			"request_id", requestID,
			"subject_id", req.SubjectID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "case create handled",
		"request_id", requestID,
		"case_id", c.ID,
		"state", c.State,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	status := http.StatusAccepted
	if c.Terminal() {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, FromCase(c))
}

// HandleGet handles GET /kyc/cases/{case_id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseCaseID(chi.URLParam(r, "case_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	c, err := h.service.Get(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCase(c))
}
