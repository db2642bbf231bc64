package http

import (
	"encoding/json"
	"net/http"

	shift "fuelstation-cloud/internal/shift/domain"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

const (
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
)

// WriteJSON encodes body with status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError renders err in the error envelope. Errors outside the
// business taxonomy are reported as INTERNAL_ERROR without their text.
func WriteError(w http.ResponseWriter, err error) {
	be, ok := shift.AsBusinessError(err)
	if !ok {
		be = shift.Internal(err)
	}
	WriteJSON(w, be.Status, errorBody{Error: errorPayload{
		Code:      string(be.Code),
		Message:   be.Message,
		Details:   be.Details,
		Retryable: be.Retryable,
	}})
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorBody{Error: errorPayload{Code: code, Message: message}})
}
