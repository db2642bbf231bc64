package http

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fuelstation-cloud/internal/shift/application"
	shift "fuelstation-cloud/internal/shift/domain"
)

type openShiftRequest struct {
	ShiftDate string `json:"shiftDate"`
	ShiftType string `json:"shiftType"`
}

// Readings and cash amounts are nullable on the wire so that an omitted or
// null value is rejected instead of being read as zero.
type saleReadingRequest struct {
	NozzleID     string              `json:"nozzleId"`
	ClosingIndex decimal.NullDecimal `json:"closingIndex"`
}

type dipReadingRequest struct {
	TankID        string              `json:"tankId"`
	PhysicalLevel decimal.NullDecimal `json:"physicalLevel"`
}

type cashRequest struct {
	Counted  decimal.NullDecimal `json:"counted"`
	Card     decimal.NullDecimal `json:"card"`
	Expenses decimal.NullDecimal `json:"expenses"`
}

type closeShiftRequest struct {
	Sales          []saleReadingRequest `json:"sales"`
	TankDips       []dipReadingRequest  `json:"tankDips"`
	Cash           cashRequest          `json:"cash"`
	Justification  string               `json:"justification"`
	IdempotencyKey string               `json:"idempotencyKey"`
}

// toCommand checks that every supplied reading and cash amount carries a value
// and builds the close command.
func (req closeShiftRequest) toCommand(shiftID, userID, idempotencyKey string) (application.CloseShiftCommand, error) {
	cmd := application.CloseShiftCommand{
		ShiftID:        shiftID,
		Justification:  req.Justification,
		UserID:         userID,
		IdempotencyKey: idempotencyKey,
	}
	for i, sale := range req.Sales {
		if !sale.ClosingIndex.Valid {
			return cmd, missingValue(fmt.Sprintf("sales[%d].closingIndex", i))
		}
		cmd.Sales = append(cmd.Sales, application.SaleReading{NozzleID: sale.NozzleID, ClosingIndex: sale.ClosingIndex.Decimal})
	}
	for i, dip := range req.TankDips {
		if !dip.PhysicalLevel.Valid {
			return cmd, missingValue(fmt.Sprintf("tankDips[%d].physicalLevel", i))
		}
		cmd.TankDips = append(cmd.TankDips, application.DipReading{TankID: dip.TankID, PhysicalLevel: dip.PhysicalLevel.Decimal})
	}
	cash := []struct {
		field string
		value decimal.NullDecimal
		dst   *decimal.Decimal
	}{
		{"cash.counted", req.Cash.Counted, &cmd.Cash.Counted},
		{"cash.card", req.Cash.Card, &cmd.Cash.Card},
		{"cash.expenses", req.Cash.Expenses, &cmd.Cash.Expenses},
	}
	for _, amount := range cash {
		if !amount.value.Valid {
			return cmd, missingValue(amount.field)
		}
		*amount.dst = amount.value.Decimal
	}
	return cmd, nil
}

func missingValue(field string) error {
	err := shift.InvalidInput(fmt.Sprintf("%s is required", field), nil)
	err.Details = map[string]any{"field": field}
	return err
}

// ShiftReportDTO is the wire form of a shift.
type ShiftReportDTO struct {
	ID                   string                     `json:"id"`
	StationID            string                     `json:"stationId"`
	ShiftDate            string                     `json:"shiftDate"`
	ShiftType            string                     `json:"shiftType"`
	Status               string                     `json:"status"`
	AppliedPriceSnapshot map[string]decimal.Decimal `json:"appliedPriceSnapshot"`
	TotalRevenue         decimal.Decimal            `json:"totalRevenue"`
	CashCounted          decimal.Decimal            `json:"cashCounted"`
	CardAmount           decimal.Decimal            `json:"cardAmount"`
	ExpensesAmount       decimal.Decimal            `json:"expensesAmount"`
	TheoreticalCash      decimal.Decimal            `json:"theoreticalCash"`
	CashVariance         decimal.Decimal            `json:"cashVariance"`
	StockVariance        decimal.Decimal            `json:"stockVariance"`
	Justification        string                     `json:"justification,omitempty"`
	OpenedBy             string                     `json:"openedBy"`
	ClosedBy             string                     `json:"closedBy,omitempty"`
	OpenedAt             time.Time                  `json:"openedAt"`
	ClosedAt             *time.Time                 `json:"closedAt"`
	UpdatedAt            time.Time                  `json:"updatedAt"`
	Sales                []ShiftSaleDTO             `json:"sales"`
	TankDips             []ShiftTankDipDTO          `json:"tankDips"`
}

// ShiftSaleDTO is the wire form of a sale line.
type ShiftSaleDTO struct {
	ID           string              `json:"id"`
	NozzleID     string              `json:"nozzleId"`
	TankID       string              `json:"tankId"`
	FuelType     string              `json:"fuelType"`
	OpeningIndex decimal.Decimal     `json:"openingIndex"`
	UnitPrice    decimal.Decimal     `json:"unitPrice"`
	ClosingIndex decimal.NullDecimal `json:"closingIndex"`
	VolumeSold   decimal.NullDecimal `json:"volumeSold"`
	Revenue      decimal.NullDecimal `json:"revenue"`
}

// ShiftTankDipDTO is the wire form of a dip line.
type ShiftTankDipDTO struct {
	ID               string              `json:"id"`
	TankID           string              `json:"tankId"`
	FuelType         string              `json:"fuelType"`
	OpeningLevel     decimal.Decimal     `json:"openingLevel"`
	Deliveries       decimal.Decimal     `json:"deliveries"`
	ClosingLevel     decimal.NullDecimal `json:"closingLevel"`
	TheoreticalStock decimal.NullDecimal `json:"theoreticalStock"`
	StockVariance    decimal.NullDecimal `json:"stockVariance"`
}

// ToDTO converts a report; nil stays nil.
func ToDTO(report *shift.Report) *ShiftReportDTO {
	if report == nil {
		return nil
	}
	dto := &ShiftReportDTO{
		ID:                   report.ID,
		StationID:            report.StationID,
		ShiftDate:            report.ShiftDate.Format(shift.DateLayout),
		ShiftType:            report.ShiftType,
		Status:               string(report.Status),
		AppliedPriceSnapshot: report.AppliedPriceSnapshot.Clone(),
		TotalRevenue:         report.TotalRevenue,
		CashCounted:          report.CashCounted,
		CardAmount:           report.CardAmount,
		ExpensesAmount:       report.ExpensesAmount,
		TheoreticalCash:      report.TheoreticalCash,
		CashVariance:         report.CashVariance,
		StockVariance:        report.StockVariance,
		Justification:        report.Justification,
		OpenedBy:             report.OpenedBy,
		ClosedBy:             report.ClosedBy,
		OpenedAt:             report.OpenedAt,
		ClosedAt:             report.ClosedAt,
		UpdatedAt:            report.UpdatedAt,
		Sales:                make([]ShiftSaleDTO, 0, len(report.Sales)),
		TankDips:             make([]ShiftTankDipDTO, 0, len(report.TankDips)),
	}
	for _, sale := range report.Sales {
		dto.Sales = append(dto.Sales, ShiftSaleDTO{
			ID:           sale.ID,
			NozzleID:     sale.NozzleID,
			TankID:       sale.TankID,
			FuelType:     sale.FuelType,
			OpeningIndex: sale.OpeningIndex,
			UnitPrice:    sale.UnitPrice,
			ClosingIndex: sale.ClosingIndex,
			VolumeSold:   sale.VolumeSold,
			Revenue:      sale.Revenue,
		})
	}
	for _, dip := range report.TankDips {
		dto.TankDips = append(dto.TankDips, ShiftTankDipDTO{
			ID:               dip.ID,
			TankID:           dip.TankID,
			FuelType:         dip.FuelType,
			OpeningLevel:     dip.OpeningLevel,
			Deliveries:       dip.Deliveries,
			ClosingLevel:     dip.ClosingLevel,
			TheoreticalStock: dip.TheoreticalStock,
			StockVariance:    dip.StockVariance,
		})
	}
	return dto
}
