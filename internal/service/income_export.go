package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/H51976/roombox-fyp/internal/domain"

	"github.com/xuri/excelize/v2"
)

const incomeSheet = "Income"

// IncomeExportHeader column order of the income workbook
var IncomeExportHeader = []string{
	"Payment ID",
	"Booking ID",
	"Room",
	"Payment Type",
	"Payment Month",
	"Amount",
	"Completed At",
}

// ExportLandlordIncome LandlordIncome rendered as an xlsx workbook.
func (s *QueryService) ExportLandlordIncome(ctx context.Context, principal domain.Principal, from, to *time.Time) ([]byte, error) {
	report, err := s.LandlordIncome(ctx, principal, from, to)
	if err != nil {
		return nil, err
	}
	return GenerateIncomeWorkbook(report)
}

// GenerateIncomeWorkbook one row per payment, then a total row.
func GenerateIncomeWorkbook(report *IncomeReport) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(incomeSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range IncomeExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(incomeSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(incomeSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{38, 38, 25, 18, 14, 14, 20}
	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(incomeSheet, col, col, width); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	row := 2
	for _, p := range report.Payments {
		values := []any{
			p.PaymentID,
			p.BookingID,
			p.RoomTitle,
			p.PaymentType.String(),
			derefOr(p.PaymentMonth, ""),
			p.Amount.InexactFloat64(),
			"",
		}
		if p.CompletedAt != nil {
			values[6] = p.CompletedAt.UTC().Format("2006-01-02 15:04:05")
		}
		if err := f.SetSheetRow(incomeSheet, fmt.Sprintf("A%d", row), &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", row, err)
		}
		row++
	}

	total := []any{"Total", "", "", "", "", report.TotalIncome.InexactFloat64()}
	if err := f.SetSheetRow(incomeSheet, fmt.Sprintf("A%d", row), &total); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write total row: %w", err)
	}

	if err := f.SetPanes(incomeSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}
