package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"fuelstation-cloud/internal/auth"
	"fuelstation-cloud/internal/shift/application"
	shift "fuelstation-cloud/internal/shift/domain"
)

// IdempotencyHeader carries the close idempotency key.
const IdempotencyHeader = "Idempotency-Key"

const maxBodyBytes = 1 << 20

// ShiftService is the part of the shift controller the handler calls.
type ShiftService interface {
	OpenShift(ctx context.Context, cmd application.OpenShiftCommand) (*shift.Report, error)
	CloseShift(ctx context.Context, cmd application.CloseShiftCommand) (*shift.Report, error)
	GetCurrentOpenShift(ctx context.Context, stationID string) (*shift.Report, error)
	GetShift(ctx context.Context, shiftID string) (*shift.Report, error)
}

// Handler serves the shift endpoints.
type Handler struct {
	service ShiftService
	logger  *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service ShiftService, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("shift handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}, nil
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1/stations/{stationID}/shifts", func(r chi.Router) {
		r.Post("/", h.OpenShift)
		r.Get("/current", h.GetCurrentOpenShift)
	})
	r.Route("/api/v1/shifts/{shiftID}", func(r chi.Router) {
		r.Get("/", h.GetShift)
		r.Post("/close", h.CloseShift)
	})
}

// OpenShift handles POST /api/v1/stations/{stationID}/shifts.
func (h *Handler) OpenShift(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")
	userID, ok := h.authorize(w, r, stationID)
	if !ok {
		return
	}

	var req openShiftRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, shift.InvalidInput("invalid request body", err))
		return
	}
	shiftDate, err := shift.ParseDate(req.ShiftDate)
	if err != nil {
		WriteError(w, shift.InvalidInput("shiftDate must be YYYY-MM-DD", err))
		return
	}

	report, err := h.service.OpenShift(r.Context(), application.OpenShiftCommand{
		StationID: stationID,
		ShiftDate: shiftDate,
		ShiftType: strings.TrimSpace(req.ShiftType),
		UserID:    userID,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, ToDTO(report))
}

// GetCurrentOpenShift handles GET /api/v1/stations/{stationID}/shifts/current.
// It answers null when the station has no open shift.
func (h *Handler) GetCurrentOpenShift(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")
	if _, ok := h.authorize(w, r, stationID); !ok {
		return
	}
	report, err := h.service.GetCurrentOpenShift(r.Context(), stationID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ToDTO(report))
}

// GetShift handles GET /api/v1/shifts/{shiftID}.
func (h *Handler) GetShift(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetShift(r.Context(), chi.URLParam(r, "shiftID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := auth.EnsureStationScope(r.Context(), report.StationID); err != nil {
		writeAuthError(w, http.StatusForbidden, codeForbidden, "station outside your scope")
		return
	}
	WriteJSON(w, http.StatusOK, ToDTO(report))
}

// CloseShift handles POST /api/v1/shifts/{shiftID}/close.
func (h *Handler) CloseShift(w http.ResponseWriter, r *http.Request) {
	shiftID := chi.URLParam(r, "shiftID")
	userID, ok := h.authorize(w, r, "")
	if !ok {
		return
	}

	var req closeShiftRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, shift.InvalidInput("invalid request body", err))
		return
	}

	if scope := auth.StationIDFromContext(r.Context()); scope != "" {
		current, err := h.service.GetShift(r.Context(), shiftID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if err := auth.EnsureStationScope(r.Context(), current.StationID); err != nil {
			writeAuthError(w, http.StatusForbidden, codeForbidden, "station outside your scope")
			return
		}
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	cmd, err := req.toCommand(shiftID, userID, key)
	if err != nil {
		WriteError(w, err)
		return
	}

	report, err := h.service.CloseShift(r.Context(), cmd)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ToDTO(report))
}

// authorize resolves the acting user and, when stationID is set, checks the
// caller's station scope. It writes the error response itself.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, stationID string) (string, bool) {
	userID := auth.SubjectFromContext(r.Context())
	if userID == "" {
		writeAuthError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return "", false
	}
	if stationID != "" {
		if err := auth.EnsureStationScope(r.Context(), stationID); err != nil {
			h.logger.Info("station scope rejected",
				zap.String("user_id", userID),
				zap.String("station_id", stationID),
			)
			writeAuthError(w, http.StatusForbidden, codeForbidden, "station outside your scope")
			return "", false
		}
	}
	return userID, true
}

// DecodeBody decodes a bounded JSON body into dst and rejects unknown fields.
func DecodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
