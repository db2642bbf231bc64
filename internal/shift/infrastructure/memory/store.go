package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	masterdata "fuelstation-cloud/internal/masterdata/domain"
	"fuelstation-cloud/internal/shift/application"
	shift "fuelstation-cloud/internal/shift/domain"
)

var errShiftMissing = errors.New("memory store: shift not found")

// Tables is the in-memory dataset. Callers mutate it only through Store.
type Tables struct {
	Stations map[string]masterdata.Station
	Tanks    map[string]masterdata.Tank
	Pumps    map[string]masterdata.Pump
	Nozzles  map[string]masterdata.Nozzle
	Shifts   map[string]*shift.Report
}

func newTables() *Tables {
	return &Tables{
		Stations: make(map[string]masterdata.Station),
		Tanks:    make(map[string]masterdata.Tank),
		Pumps:    make(map[string]masterdata.Pump),
		Nozzles:  make(map[string]masterdata.Nozzle),
		Shifts:   make(map[string]*shift.Report),
	}
}

func (t *Tables) clone() *Tables {
	out := newTables()
	for k, v := range t.Stations {
		out.Stations[k] = v
	}
	for k, v := range t.Tanks {
		out.Tanks[k] = v
	}
	for k, v := range t.Pumps {
		out.Pumps[k] = v
	}
	for k, v := range t.Nozzles {
		out.Nozzles[k] = v
	}
	for k, v := range t.Shifts {
		out.Shifts[k] = v.Clone()
	}
	return out
}

// Store is an in-memory application.Store. Transactions are fully serialized
// and run against a working copy that replaces the committed data on success.
type Store struct {
	mu         sync.Mutex
	data       *Tables
	interleave func(tankID string, committed *Tables)
}

var _ application.Store = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{data: newTables()}
}

// SetInterleave installs a hook run inside SwapTankLevel, just before the
// version check, with direct access to committed data. It stands in for a
// writer that commits between a transaction's read and its conditional update.
func (s *Store) SetInterleave(fn func(tankID string, committed *Tables)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interleave = fn
}

// SaveStation upserts a station.
func (s *Store) SaveStation(station masterdata.Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Stations[station.ID] = station
}

// SaveTank upserts a tank.
func (s *Store) SaveTank(tank masterdata.Tank) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Tanks[tank.ID] = tank
}

// SavePump upserts a pump.
func (s *Store) SavePump(pump masterdata.Pump) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Pumps[pump.ID] = pump
}

// SaveNozzle upserts a nozzle, resolving station, tank and fuel type through
// its pump when they are not set.
func (s *Store) SaveNozzle(nozzle masterdata.Nozzle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pump, ok := s.data.Pumps[nozzle.PumpID]; ok {
		if nozzle.StationID == "" {
			nozzle.StationID = pump.StationID
		}
		if nozzle.TankID == "" {
			nozzle.TankID = pump.TankID
		}
	}
	if tank, ok := s.data.Tanks[nozzle.TankID]; ok && nozzle.FuelType == "" {
		nozzle.FuelType = tank.FuelType
	}
	s.data.Nozzles[nozzle.ID] = nozzle
}

// Tank returns the committed tank.
func (s *Store) Tank(id string) (masterdata.Tank, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tank, ok := s.data.Tanks[id]
	return tank, ok
}

// Nozzle returns the committed nozzle.
func (s *Store) Nozzle(id string) (masterdata.Nozzle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nozzle, ok := s.data.Nozzles[id]
	return nozzle, ok
}

// RunInTx implements application.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) error {
	if fn == nil {
		return errors.New("memory store: nil tx func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: s, data: s.data.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

// GetShift implements application.Reader.
func (s *Store) GetShift(ctx context.Context, shiftID string) (*shift.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Shifts[shiftID].Clone(), nil
}

// FindByIdempotencyKey implements application.Reader.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*shift.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findByKey(s.data, key), nil
}

// FindOpenShift implements application.Reader.
func (s *Store) FindOpenShift(ctx context.Context, stationID string) (*shift.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findOpen(s.data, stationID), nil
}

// ListOpenShifts implements application.Reader.
func (s *Store) ListOpenShifts(ctx context.Context) ([]shift.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []shift.Report
	for _, report := range s.data.Shifts {
		if report.IsOpen() {
			open = append(open, *report.Clone())
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].OpenedAt.Before(open[j].OpenedAt) })
	return open, nil
}

func findByKey(data *Tables, key string) *shift.Report {
	if key == "" {
		return nil
	}
	for _, report := range data.Shifts {
		if report.IdempotencyKey == key {
			return report.Clone()
		}
	}
	return nil
}

func findOpen(data *Tables, stationID string) *shift.Report {
	for _, report := range data.Shifts {
		if report.StationID == stationID && report.IsOpen() {
			return report.Clone()
		}
	}
	return nil
}

// closedShifts returns the station's closed shifts, oldest close first.
func closedShifts(data *Tables, stationID string) []*shift.Report {
	var closed []*shift.Report
	for _, report := range data.Shifts {
		if report.StationID == stationID && report.Status == shift.StatusClosed && report.ClosedAt != nil {
			closed = append(closed, report)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].ClosedAt.Before(*closed[j].ClosedAt) })
	return closed
}

type memTx struct {
	store *Store
	data  *Tables
}

func (t *memTx) GetStation(ctx context.Context, stationID string) (*masterdata.Station, error) {
	station, ok := t.data.Stations[stationID]
	if !ok {
		return nil, nil
	}
	return &station, nil
}

func (t *memTx) ListActiveNozzles(ctx context.Context, stationID string) ([]masterdata.Nozzle, error) {
	var nozzles []masterdata.Nozzle
	for _, nozzle := range t.data.Nozzles {
		if nozzle.StationID != stationID || !nozzle.Active {
			continue
		}
		if pump, ok := t.data.Pumps[nozzle.PumpID]; ok && !pump.Active {
			continue
		}
		nozzles = append(nozzles, nozzle)
	}
	sort.Slice(nozzles, func(i, j int) bool { return nozzles[i].ID < nozzles[j].ID })
	return nozzles, nil
}

func (t *memTx) ListActiveTanks(ctx context.Context, stationID string) ([]masterdata.Tank, error) {
	var tanks []masterdata.Tank
	for _, tank := range t.data.Tanks {
		if tank.StationID == stationID && tank.Active {
			tanks = append(tanks, tank)
		}
	}
	sort.Slice(tanks, func(i, j int) bool { return tanks[i].ID < tanks[j].ID })
	return tanks, nil
}

func (t *memTx) GetTank(ctx context.Context, tankID string) (*masterdata.Tank, error) {
	tank, ok := t.data.Tanks[tankID]
	if !ok {
		return nil, nil
	}
	return &tank, nil
}

func (t *memTx) ShiftExists(ctx context.Context, stationID string, shiftDate time.Time, shiftType string) (bool, error) {
	day := shift.NormalizeDate(shiftDate)
	for _, report := range t.data.Shifts {
		if report.StationID == stationID && report.ShiftDate.Equal(day) && report.ShiftType == shiftType {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) FindOpenShift(ctx context.Context, stationID string) (*shift.Report, error) {
	return findOpen(t.data, stationID), nil
}

func (t *memTx) FindByIdempotencyKey(ctx context.Context, key string) (*shift.Report, error) {
	return findByKey(t.data, key), nil
}

func (t *memTx) LastClosingIndexes(ctx context.Context, stationID string) (map[string]decimal.Decimal, error) {
	indexes := make(map[string]decimal.Decimal)
	for _, report := range closedShifts(t.data, stationID) {
		for _, sale := range report.Sales {
			if sale.ClosingIndex.Valid {
				indexes[sale.NozzleID] = sale.ClosingIndex.Decimal
			}
		}
	}
	return indexes, nil
}

func (t *memTx) LastClosingLevels(ctx context.Context, stationID string) (map[string]decimal.Decimal, error) {
	levels := make(map[string]decimal.Decimal)
	for _, report := range closedShifts(t.data, stationID) {
		for _, dip := range report.TankDips {
			if dip.ClosingLevel.Valid {
				levels[dip.TankID] = dip.ClosingLevel.Decimal
			}
		}
	}
	return levels, nil
}

func (t *memTx) InsertShift(ctx context.Context, report *shift.Report) error {
	if report == nil {
		return errors.New("memory store: nil shift")
	}
	for _, existing := range t.data.Shifts {
		if existing.StationID != report.StationID {
			continue
		}
		if existing.ShiftDate.Equal(report.ShiftDate) && existing.ShiftType == report.ShiftType {
			return shift.ShiftDuplicate(report.StationID, report.ShiftDate.Format(shift.DateLayout), report.ShiftType)
		}
		if existing.IsOpen() && report.IsOpen() {
			return shift.PreviousShiftOpen(existing.ID)
		}
	}
	t.data.Shifts[report.ID] = report.Clone()
	return nil
}

func (t *memTx) LockShift(ctx context.Context, shiftID string) (*shift.Report, error) {
	return t.data.Shifts[shiftID].Clone(), nil
}

func (t *memTx) UpdateSale(ctx context.Context, sale shift.Sale) error {
	report, ok := t.data.Shifts[sale.ShiftID]
	if !ok {
		return errShiftMissing
	}
	for i := range report.Sales {
		if report.Sales[i].ID == sale.ID {
			report.Sales[i] = sale
			return nil
		}
	}
	return errors.New("memory store: sale not found")
}

func (t *memTx) UpdateTankDip(ctx context.Context, dip shift.TankDip) error {
	report, ok := t.data.Shifts[dip.ShiftID]
	if !ok {
		return errShiftMissing
	}
	for i := range report.TankDips {
		if report.TankDips[i].ID == dip.ID {
			// Deliveries belong to the delivery path; keep what is stored.
			dip.Deliveries = report.TankDips[i].Deliveries
			report.TankDips[i] = dip
			return nil
		}
	}
	return errors.New("memory store: tank dip not found")
}

func (t *memTx) AddDipDeliveries(ctx context.Context, shiftID, tankID string, volume decimal.Decimal) error {
	report, ok := t.data.Shifts[shiftID]
	if !ok {
		return errShiftMissing
	}
	for i := range report.TankDips {
		if report.TankDips[i].TankID == tankID {
			report.TankDips[i].Deliveries = shift.Round4(report.TankDips[i].Deliveries.Add(volume))
			return nil
		}
	}
	return nil
}

func (t *memTx) SwapTankLevel(ctx context.Context, tankID string, expectedVersion int64, level decimal.Decimal) (bool, error) {
	if hook := t.store.interleave; hook != nil {
		hook(tankID, t.store.data)
	}
	tank, ok := t.data.Tanks[tankID]
	if !ok {
		return false, nil
	}
	if committed, ok := t.store.data.Tanks[tankID]; ok && committed.Version != expectedVersion {
		return false, nil
	}
	if tank.Version != expectedVersion {
		return false, nil
	}
	tank.CurrentLevel = level
	tank.Version++
	t.data.Tanks[tankID] = tank
	return true, nil
}

func (t *memTx) MarkClosed(ctx context.Context, report *shift.Report) error {
	stored, ok := t.data.Shifts[report.ID]
	if !ok {
		return errShiftMissing
	}
	if !stored.IsOpen() {
		return shift.ShiftNotOpen(report.ID)
	}
	if report.IdempotencyKey != "" {
		if other := findByKey(t.data, report.IdempotencyKey); other != nil && other.ID != report.ID {
			return shift.InvalidInput("idempotency key already used for another shift", nil)
		}
	}
	closed := report.Clone()
	closed.Sales = stored.Sales
	closed.TankDips = stored.TankDips
	t.data.Shifts[report.ID] = closed
	return nil
}

func (t *memTx) UpdateNozzleMeterIndex(ctx context.Context, nozzleID string, index decimal.Decimal) error {
	nozzle, ok := t.data.Nozzles[nozzleID]
	if !ok {
		return errors.New("memory store: nozzle not found")
	}
	nozzle.MeterIndex = index
	t.data.Nozzles[nozzleID] = nozzle
	return nil
}
