package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuelstation-cloud/internal/auth"
	masterdata "fuelstation-cloud/internal/masterdata/domain"
	pricing "fuelstation-cloud/internal/pricing/domain"
	"fuelstation-cloud/internal/pricing/infrastructure/fixed"
	"fuelstation-cloud/internal/shift/application"
	"fuelstation-cloud/internal/shift/infrastructure/memory"
	shifthttp "fuelstation-cloud/internal/shift/interfaces/http"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type envelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memory.NewStore()
	store.SaveStation(masterdata.Station{ID: "st-1", Name: "Plateau", Active: true, ManagerID: "mgr-1"})
	store.SaveTank(masterdata.Tank{
		ID:           "tk-1",
		StationID:    "st-1",
		FuelType:     "SUPER",
		Capacity:     decimal.NewFromInt(20000),
		CurrentLevel: decimal.NewFromInt(5000),
		Active:       true,
	})
	store.SavePump(masterdata.Pump{ID: "pm-1", StationID: "st-1", TankID: "tk-1", Active: true})
	store.SaveNozzle(masterdata.Nozzle{ID: "nz-1", PumpID: "pm-1", MeterIndex: decimal.NewFromInt(1000), Active: true})

	prices, err := fixed.NewPriceProvider(pricing.Snapshot{"SUPER": decimal.NewFromInt(750)})
	require.NoError(t, err)
	service, err := application.NewService(store, prices,
		application.WithClock(fixedClock{now: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)}))
	require.NoError(t, err)
	handler, err := shifthttp.NewHandler(service, nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	handler.Routes(r)
	return r
}

func do(t *testing.T, router http.Handler, id *auth.Identity, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if id != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *id))
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

var manager = &auth.Identity{Subject: "mgr-1", Role: auth.RoleStationManager, StationID: "st-1"}

func openShift(t *testing.T, router http.Handler) shifthttp.ShiftReportDTO {
	t.Helper()
	resp := do(t, router, manager, http.MethodPost, "/api/v1/stations/st-1/shifts",
		`{"shiftDate":"2026-03-10","shiftType":"MORNING"}`, nil)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var dto shifthttp.ShiftReportDTO
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &dto))
	return dto
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func TestOpenShiftAndQueries(t *testing.T) {
	router := newRouter(t)
	opened := openShift(t, router)

	assert.Equal(t, "OPEN", opened.Status)
	assert.Equal(t, "2026-03-10", opened.ShiftDate)
	assert.Equal(t, "mgr-1", opened.OpenedBy)
	require.Len(t, opened.Sales, 1)
	assert.True(t, decimal.NewFromInt(1000).Equal(opened.Sales[0].OpeningIndex))
	assert.False(t, opened.Sales[0].ClosingIndex.Valid)
	require.Len(t, opened.TankDips, 1)

	resp := do(t, router, manager, http.MethodGet, "/api/v1/stations/st-1/shifts/current", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var current shifthttp.ShiftReportDTO
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &current))
	assert.Equal(t, opened.ID, current.ID)

	resp = do(t, router, manager, http.MethodGet, "/api/v1/shifts/"+opened.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = do(t, router, manager, http.MethodPost, "/api/v1/stations/st-1/shifts",
		`{"shiftDate":"2026-03-10","shiftType":"MORNING"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "BIZ_SHIFT_DUPLICATE", decodeError(t, resp).Error.Code)
}

func TestCurrentShiftNullWhenNoneOpen(t *testing.T) {
	router := newRouter(t)
	resp := do(t, router, manager, http.MethodGet, "/api/v1/stations/st-1/shifts/current", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "null", strings.TrimSpace(resp.Body.String()))
}

func TestOpenShiftRejectsBadDate(t *testing.T) {
	router := newRouter(t)
	resp := do(t, router, manager, http.MethodPost, "/api/v1/stations/st-1/shifts",
		`{"shiftDate":"10/03/2026","shiftType":"MORNING"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "BIZ_INVALID_INPUT", decodeError(t, resp).Error.Code)
}

func TestCloseShiftRequiresJustification(t *testing.T) {
	router := newRouter(t)
	opened := openShift(t, router)

	body := `{"sales":[{"nozzleId":"nz-1","closingIndex":"1100"}],
		"tankDips":[{"tankId":"tk-1","physicalLevel":"4900"}],
		"cash":{"counted":"74500","card":"0","expenses":"0"}}`
	resp := do(t, router, manager, http.MethodPost, "/api/v1/shifts/"+opened.ID+"/close", body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	failure := decodeError(t, resp)
	assert.Equal(t, "BIZ_JUSTIFICATION_REQUIRED", failure.Error.Code)
	assert.Equal(t, "-500", failure.Error.Details["cashVariance"])
	assert.Equal(t, "0", failure.Error.Details["totalStockVariance"])
}

func TestCloseShiftIdempotentByHeader(t *testing.T) {
	router := newRouter(t)
	opened := openShift(t, router)

	body := `{"sales":[{"nozzleId":"nz-1","closingIndex":1100}],
		"tankDips":[{"tankId":"tk-1","physicalLevel":4900}],
		"cash":{"counted":75000,"card":0,"expenses":0}}`
	headers := map[string]string{shifthttp.IdempotencyHeader: "close-1"}
	resp := do(t, router, manager, http.MethodPost, "/api/v1/shifts/"+opened.ID+"/close", body, headers)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var closed shifthttp.ShiftReportDTO
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &closed))
	assert.Equal(t, "CLOSED", closed.Status)
	assert.True(t, decimal.NewFromInt(75000).Equal(closed.TotalRevenue))
	require.NotNil(t, closed.ClosedAt)

	resp = do(t, router, manager, http.MethodPost, "/api/v1/shifts/"+opened.ID+"/close", body, headers)
	require.Equal(t, http.StatusOK, resp.Code)
	var replayed shifthttp.ShiftReportDTO
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &replayed))
	assert.True(t, closed.TotalRevenue.Equal(replayed.TotalRevenue))

	resp = do(t, router, manager, http.MethodPost, "/api/v1/shifts/"+opened.ID+"/close",
		`{"cash":{"counted":1,"card":0,"expenses":0}}`, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "BIZ_SHIFT_NOT_OPEN", decodeError(t, resp).Error.Code)
}

func TestUnknownShiftIsNotFound(t *testing.T) {
	router := newRouter(t)
	resp := do(t, router, manager, http.MethodGet, "/api/v1/shifts/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "BIZ_SHIFT_NOT_FOUND", decodeError(t, resp).Error.Code)
}

func TestRequiresIdentityAndStationScope(t *testing.T) {
	router := newRouter(t)
	resp := do(t, router, nil, http.MethodPost, "/api/v1/stations/st-1/shifts",
		`{"shiftDate":"2026-03-10","shiftType":"MORNING"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	other := &auth.Identity{Subject: "mgr-2", Role: auth.RoleStationManager, StationID: "st-2"}
	resp = do(t, router, other, http.MethodPost, "/api/v1/stations/st-1/shifts",
		`{"shiftDate":"2026-03-10","shiftType":"MORNING"}`, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, resp).Error.Code)
}

func TestCloseRejectsUnknownFields(t *testing.T) {
	router := newRouter(t)
	opened := openShift(t, router)
	resp := do(t, router, manager, http.MethodPost, "/api/v1/shifts/"+opened.ID+"/close", `{"cashh":{}}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCloseRejectsMissingReadingValues(t *testing.T) {
	router := newRouter(t)
	opened := openShift(t, router)

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{
			name:  "omitted closing index",
			body:  `{"sales":[{"nozzleId":"nz-1"}],"tankDips":[{"tankId":"tk-1","physicalLevel":"4900"}],"cash":{"counted":"0","card":"0","expenses":"0"},"justification":"x"}`,
			field: "sales[0].closingIndex",
		},
		{
			name:  "null closing index",
			body:  `{"sales":[{"nozzleId":"nz-1","closingIndex":null}],"cash":{"counted":"0","card":"0","expenses":"0"},"justification":"x"}`,
			field: "sales[0].closingIndex",
		},
		{
			name:  "omitted physical level",
			body:  `{"sales":[{"nozzleId":"nz-1","closingIndex":"1100"}],"tankDips":[{"tankId":"tk-1"}],"cash":{"counted":"0","card":"0","expenses":"0"},"justification":"x"}`,
			field: "tankDips[0].physicalLevel",
		},
		{
			name:  "omitted card amount",
			body:  `{"sales":[{"nozzleId":"nz-1","closingIndex":"1100"}],"cash":{"counted":"75000","expenses":"0"}}`,
			field: "cash.card",
		},
		{
			name:  "omitted cash block",
			body:  `{"sales":[{"nozzleId":"nz-1","closingIndex":"1100"}],"justification":"x"}`,
			field: "cash.counted",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, router, manager, http.MethodPost, "/api/v1/shifts/"+opened.ID+"/close", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
			failure := decodeError(t, resp)
			assert.Equal(t, "BIZ_INVALID_INPUT", failure.Error.Code)
			assert.Equal(t, tc.field, failure.Error.Details["field"])
		})
	}

	resp := do(t, router, manager, http.MethodGet, "/api/v1/shifts/"+opened.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var current shifthttp.ShiftReportDTO
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &current))
	assert.Equal(t, "OPEN", current.Status)
	require.Len(t, current.Sales, 1)
	assert.False(t, current.Sales[0].ClosingIndex.Valid)
	require.Len(t, current.TankDips, 1)
	assert.False(t, current.TankDips[0].ClosingLevel.Valid)
}

func TestCloseAcceptsExplicitZeroReadings(t *testing.T) {
	router := newRouter(t)
	opened := openShift(t, router)

	body := `{"sales":[{"nozzleId":"nz-1","closingIndex":"1000"}],
		"tankDips":[{"tankId":"tk-1","physicalLevel":"5000"}],
		"cash":{"counted":"0","card":"0","expenses":"0"}}`
	resp := do(t, router, manager, http.MethodPost, "/api/v1/shifts/"+opened.ID+"/close", body, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var closed shifthttp.ShiftReportDTO
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &closed))
	assert.Equal(t, "CLOSED", closed.Status)
	assert.True(t, closed.TotalRevenue.IsZero())
}
