package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fuelstation-cloud/internal/auth"
	"fuelstation-cloud/internal/delivery/application"
	shift "fuelstation-cloud/internal/shift/domain"
	shifthttp "fuelstation-cloud/internal/shift/interfaces/http"
)

// Recorder is the delivery operation the handler calls.
type Recorder interface {
	Record(ctx context.Context, tankID string, volume decimal.Decimal, userID string) (*application.Receipt, error)
}

// Handler serves POST /api/v1/tanks/{tankID}/deliveries.
type Handler struct {
	recorder Recorder
}

// NewHandler constructs a Handler.
func NewHandler(recorder Recorder) (*Handler, error) {
	if recorder == nil {
		return nil, errors.New("delivery handler: nil recorder")
	}
	return &Handler{recorder: recorder}, nil
}

// Routes mounts the endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/v1/tanks/{tankID}/deliveries", h.Record)
}

type deliveryRequest struct {
	Volume decimal.Decimal `json:"volume"`
}

type receiptDTO struct {
	TankID        string          `json:"tankId"`
	StationID     string          `json:"stationId"`
	Volume        decimal.Decimal `json:"volume"`
	PreviousLevel decimal.Decimal `json:"previousLevel"`
	NewLevel      decimal.Decimal `json:"newLevel"`
	Version       int64           `json:"version"`
	ShiftID       string          `json:"shiftId,omitempty"`
	RecordedAt    time.Time       `json:"recordedAt"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Record handles the delivery request.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	userID := auth.SubjectFromContext(r.Context())
	if userID == "" {
		writePlainError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}
	var req deliveryRequest
	if err := shifthttp.DecodeBody(r, &req); err != nil {
		shifthttp.WriteError(w, shift.InvalidInput("invalid request body", err))
		return
	}

	receipt, err := h.recorder.Record(r.Context(), chi.URLParam(r, "tankID"), req.Volume, userID)
	if errors.Is(err, application.ErrForbidden) {
		writePlainError(w, http.StatusForbidden, "FORBIDDEN", "station outside your scope")
		return
	}
	if err != nil {
		shifthttp.WriteError(w, err)
		return
	}
	shifthttp.WriteJSON(w, http.StatusCreated, receiptDTO{
		TankID:        receipt.TankID,
		StationID:     receipt.StationID,
		Volume:        receipt.Volume,
		PreviousLevel: receipt.PreviousLevel,
		NewLevel:      receipt.NewLevel,
		Version:       receipt.Version,
		ShiftID:       receipt.ShiftID,
		RecordedAt:    receipt.RecordedAt,
	})
}

func writePlainError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	shifthttp.WriteJSON(w, status, body)
}
