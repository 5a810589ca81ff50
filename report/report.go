// Package report renders ledger statistics as spreadsheets.
package report

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/welfare/contribution-ledger/ledger"
	"github.com/xuri/excelize/v2"
)

const SheetMonthly = "Monthly Stats"

var monthlyHeaders = []string{
	"Month", "Expected", "Collected", "Outstanding", "Payments", "New Members", "Total Members",
}

// Workbook builds an XLSX file with one row per month, oldest first, and a
// totals row. Total Members in the totals row is the latest month's level,
// not a sum.
func Workbook(stats []ledger.MonthlyStats) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(SheetMonthly)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	for i, h := range monthlyHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetMonthly, cell, h); err != nil {
			return nil, err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(SheetMonthly, 1, 1, bold); err != nil {
		return nil, err
	}

	var (
		expected, collected decimal.Decimal
		payments, newcomers int64
		latestTotal         int64
	)
	for i, st := range stats {
		row := i + 2
		values := []any{
			st.Month.Label(),
			money(st.Amount),
			money(st.Contribution),
			money(st.Outstanding()),
			st.PaymentsCount,
			st.NewMembers,
			st.TotalMembers,
		}
		if err := f.SetSheetRow(SheetMonthly, fmt.Sprintf("A%d", row), &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		expected = expected.Add(st.Amount)
		collected = collected.Add(st.Contribution)
		payments += st.PaymentsCount
		newcomers += st.NewMembers
		latestTotal = st.TotalMembers
	}

	totalsRow := len(stats) + 2
	totals := []any{
		"Total",
		money(expected),
		money(collected),
		money(expected.Sub(collected)),
		payments,
		newcomers,
		latestTotal,
	}
	if err := f.SetSheetRow(SheetMonthly, fmt.Sprintf("A%d", totalsRow), &totals); err != nil {
		return nil, fmt.Errorf("write totals: %w", err)
	}
	if err := f.SetRowStyle(SheetMonthly, totalsRow, totalsRow, bold); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(SheetMonthly, "A", "G", 16); err != nil {
		return nil, err
	}
	return f, nil
}

// WriteMonthly renders stats to w.
func WriteMonthly(w io.Writer, stats []ledger.MonthlyStats) error {
	f, err := Workbook(stats)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

// money keeps two decimals as a float for spreadsheet arithmetic.
func money(d decimal.Decimal) float64 {
	v, _ := d.Round(2).Float64()
	return v
}
