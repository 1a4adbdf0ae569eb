package quota

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/converso-ai/converso/internal/api"
)

// Handler exposes the admission and accounting operations to in-cluster
// collaborators (chat backend, upload service). Caller authentication is
// handled upstream at the service mesh; user identity arrives in the body.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler creates a new quota Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

type checkRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
	Metric string `json:"metric" validate:"required"`
	Amount int64  `json:"amount" validate:"gte=0"`
}

type recordRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
	Metric string `json:"metric" validate:"required"`
	Amount int64  `json:"amount" validate:"gte=0"`
}

// Check handles POST /v1/quota/check. It returns a Decision with status 200
// whether allowed or denied; callers branch on the decision, not the status.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	userID, metric, ok := h.parseSubject(w, req.UserID, req.Metric)
	if !ok {
		return
	}

	decision, err := h.svc.Admit(r.Context(), userID, metric, req.Amount)
	if err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	api.JSON(w, http.StatusOK, decision)
}

// Record handles POST /v1/quota/usage, persisting consumption for a
// completed action.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	userID, metric, ok := h.parseSubject(w, req.UserID, req.Metric)
	if !ok {
		return
	}

	if err := h.svc.Record(r.Context(), userID, metric, req.Amount); err != nil {
		if errors.Is(err, ErrUnknownMetric) || errors.Is(err, ErrNegativeAmount) {
			api.HandleError(w, api.NewValidationError(err.Error()))
			return
		}
		slog.Error("recording usage", "error", err, "user_id", userID, "metric", metric)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Usage handles GET /v1/quota/usage?user_id=...&day=2006-01-02. The day
// defaults to today (UTC).
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user_id"))
		return
	}

	day := time.Now().UTC()
	if d := r.URL.Query().Get("day"); d != "" {
		day, err = time.Parse("2006-01-02", d)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid day, expected YYYY-MM-DD"))
			return
		}
	}

	usage, err := h.svc.DailyUsage(r.Context(), userID, day)
	if err != nil {
		slog.Error("reading daily usage", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, usage)
}

// Limits handles GET /v1/quota/limits?user_id=....
func (h *Handler) Limits(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user_id"))
		return
	}

	api.JSON(w, http.StatusOK, h.svc.LimitsFor(r.Context(), userID))
}

func (h *Handler) parseSubject(w http.ResponseWriter, rawUser, rawMetric string) (uuid.UUID, Metric, bool) {
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user_id"))
		return uuid.Nil, "", false
	}
	metric, err := ParseMetric(rawMetric)
	if err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return uuid.Nil, "", false
	}
	return userID, metric, true
}
