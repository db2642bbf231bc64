package shift

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyStationID is returned when a station id is empty.
	ErrEmptyStationID = errors.New("shift: empty station id")
	// ErrEmptyShiftType is returned when a shift type is empty.
	ErrEmptyShiftType = errors.New("shift: empty shift type")
	// ErrInvalidShiftDate is returned when the shift date is zero.
	ErrInvalidShiftDate = errors.New("shift: invalid shift date")
	// ErrNotOpen is returned when a transition needs an open shift.
	ErrNotOpen = errors.New("shift: not open")
	// ErrInvalidMeterIndex is returned for negative or out-of-range meter readings.
	ErrInvalidMeterIndex = errors.New("shift: invalid meter index")
	// ErrNegativeVolume means the meter modulus is smaller than a recorded index.
	ErrNegativeVolume = errors.New("shift: negative volume after rollover")
	// ErrNegativeAmount is returned for negative cash inputs.
	ErrNegativeAmount = errors.New("shift: negative amount")
	// ErrInvalidMeterMax is returned for a non-positive meter modulus.
	ErrInvalidMeterMax = errors.New("shift: meter max must be positive")
)

// Code is a stable machine-readable business error code.
type Code string

const (
	CodeStationNotFound       Code = "BIZ_STATION_NOT_FOUND"
	CodeShiftNotFound         Code = "BIZ_SHIFT_NOT_FOUND"
	CodeNozzleNotInShift      Code = "BIZ_NOZZLE_NOT_IN_SHIFT"
	CodeTankNotInShift        Code = "BIZ_TANK_NOT_IN_SHIFT"
	CodeTankNotFound          Code = "BIZ_TANK_NOT_FOUND"
	CodeShiftDuplicate        Code = "BIZ_SHIFT_DUPLICATE"
	CodePreviousShiftOpen     Code = "BIZ_PREVIOUS_SHIFT_OPEN"
	CodeShiftNotOpen          Code = "BIZ_SHIFT_NOT_OPEN"
	CodeNoActivePrices        Code = "BIZ_NO_ACTIVE_PRICES"
	CodeJustificationRequired Code = "BIZ_JUSTIFICATION_REQUIRED"
	CodeInvalidInput          Code = "BIZ_INVALID_INPUT"
	CodeTankLevelOutOfRange   Code = "BIZ_TANK_LEVEL_OUT_OF_RANGE"
	CodeConcurrencyFail       Code = "BIZ_CONCURRENCY_FAIL"
	CodeTimeout               Code = "BIZ_TIMEOUT"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// BusinessError is a structured failure returned by shift operations.
type BusinessError struct {
	Code      Code
	Message   string
	Status    int
	Details   map[string]any
	Retryable bool
	cause     error
}

func (e *BusinessError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *BusinessError) Unwrap() error { return e.cause }

// Is matches another BusinessError by code.
func (e *BusinessError) Is(target error) bool {
	var other *BusinessError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func newBusinessError(code Code, status int, message string) *BusinessError {
	return &BusinessError{Code: code, Status: status, Message: message}
}

// StationNotFound reports a missing or inactive station.
func StationNotFound(stationID string) *BusinessError {
	return newBusinessError(CodeStationNotFound, http.StatusNotFound,
		fmt.Sprintf("station %s not found or inactive", stationID))
}

// ShiftNotFound reports a missing shift.
func ShiftNotFound(shiftID string) *BusinessError {
	return newBusinessError(CodeShiftNotFound, http.StatusNotFound,
		fmt.Sprintf("shift %s not found", shiftID))
}

// NozzleNotInShift reports a reading for a nozzle without a stub.
func NozzleNotInShift(nozzleID string) *BusinessError {
	err := newBusinessError(CodeNozzleNotInShift, http.StatusNotFound,
		fmt.Sprintf("nozzle %s is not part of this shift", nozzleID))
	err.Details = map[string]any{"nozzleId": nozzleID}
	return err
}

// TankNotInShift reports a dip for a tank without a stub.
func TankNotInShift(tankID string) *BusinessError {
	err := newBusinessError(CodeTankNotInShift, http.StatusNotFound,
		fmt.Sprintf("tank %s is not part of this shift", tankID))
	err.Details = map[string]any{"tankId": tankID}
	return err
}

// TankNotFound reports a missing or inactive tank.
func TankNotFound(tankID string) *BusinessError {
	return newBusinessError(CodeTankNotFound, http.StatusNotFound,
		fmt.Sprintf("tank %s not found or inactive", tankID))
}

// ShiftDuplicate reports an existing shift for the same station, date and type.
func ShiftDuplicate(stationID, shiftDate, shiftType string) *BusinessError {
	return newBusinessError(CodeShiftDuplicate, http.StatusConflict,
		fmt.Sprintf("shift %s %s already exists for station %s", shiftDate, shiftType, stationID))
}

// PreviousShiftOpen reports another open shift at the station.
func PreviousShiftOpen(openShiftID string) *BusinessError {
	err := newBusinessError(CodePreviousShiftOpen, http.StatusConflict,
		"another shift is still open for this station")
	if openShiftID != "" {
		err.Details = map[string]any{"openShiftId": openShiftID}
	}
	return err
}

// ShiftNotOpen reports a close attempt on a closed shift.
func ShiftNotOpen(shiftID string) *BusinessError {
	return newBusinessError(CodeShiftNotOpen, http.StatusConflict,
		fmt.Sprintf("shift %s is not open", shiftID))
}

// NoActivePrices reports missing prices. missing lists the fuel types without
// a price; it is empty when no price exists at all.
func NoActivePrices(missing []string) *BusinessError {
	err := newBusinessError(CodeNoActivePrices, http.StatusUnprocessableEntity,
		"no active fuel price for this station")
	if len(missing) > 0 {
		err.Details = map[string]any{"missingFuelTypes": missing}
	}
	return err
}

// JustificationRequired carries the variances that triggered the requirement.
func JustificationRequired(cashVariance, totalStockVariance decimal.Decimal) *BusinessError {
	err := newBusinessError(CodeJustificationRequired, http.StatusUnprocessableEntity,
		"a justification is required when variances are not zero")
	err.Details = map[string]any{
		"cashVariance":       cashVariance,
		"totalStockVariance": totalStockVariance,
	}
	return err
}

// InvalidInput reports malformed request data.
func InvalidInput(message string, cause error) *BusinessError {
	err := newBusinessError(CodeInvalidInput, http.StatusBadRequest, message)
	err.cause = cause
	return err
}

// TankLevelOutOfRange reports a dip outside [0, capacity].
func TankLevelOutOfRange(tankID string, level, capacity decimal.Decimal) *BusinessError {
	err := newBusinessError(CodeTankLevelOutOfRange, http.StatusUnprocessableEntity,
		fmt.Sprintf("tank %s level is outside its capacity", tankID))
	err.Details = map[string]any{"tankId": tankID, "level": level, "capacity": capacity}
	return err
}

// ConcurrencyFail reports a lost race; the caller should retry the whole operation.
func ConcurrencyFail(message string, cause error) *BusinessError {
	err := newBusinessError(CodeConcurrencyFail, http.StatusConflict, message)
	err.Retryable = true
	err.cause = cause
	return err
}

// Timeout reports an exceeded lock-wait or statement deadline.
func Timeout(cause error) *BusinessError {
	err := newBusinessError(CodeTimeout, http.StatusServiceUnavailable, "operation timed out, retry later")
	err.Retryable = true
	err.cause = cause
	return err
}

// Internal wraps an unexpected failure. Its message never exposes the cause.
func Internal(cause error) *BusinessError {
	err := newBusinessError(CodeInternal, http.StatusInternalServerError, "internal error")
	err.cause = cause
	return err
}

// AsBusinessError extracts a BusinessError from err.
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	be, ok := AsBusinessError(err)
	return ok && be.Code == code
}
