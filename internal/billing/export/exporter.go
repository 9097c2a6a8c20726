// Package export renders billing snapshots as spreadsheets.
package export

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/prodflow/internal/domain/entity"
)

// Sheet layout
const (
	SheetName = "Snapshot"

	cellTitle     = "A1"
	cellContext   = "B2"
	cellType      = "B3"
	cellVersion   = "B4"
	cellIntent    = "B5"
	cellCurrency  = "B6"
	cellCreatedAt = "B7"

	// Line table header is on lineHeaderRow, data starts on the row after
	lineHeaderRow = 9

	colSequence = "A"
	colLabel    = "B"
	colOrder    = "C"
	colRun      = "D"
	colTemplate = "E"
	colFormula  = "F"
	colAmount   = "G"

	// numFmtAmount is the built-in "#,##0.00" format
	numFmtAmount = 4
)

var headerLabels = []struct {
	cell  string
	label string
}{
	{"A2", "Context"},
	{"A3", "Type"},
	{"A4", "Version"},
	{"A5", "Intent"},
	{"A6", "Currency"},
	{"A7", "Created"},
}

var lineColumns = []struct {
	col   string
	title string
}{
	{colSequence, "#"},
	{colLabel, "Line"},
	{colOrder, "Order"},
	{colRun, "Run"},
	{colTemplate, "Template"},
	{colFormula, "Formula"},
	{colAmount, "Amount"},
}

// Exporter writes one snapshot per workbook
type Exporter struct{}

// NewExporter creates a new snapshot exporter
func NewExporter() *Exporter {
	return &Exporter{}
}

// Write renders snap of bc as xlsx to w
func (e *Exporter) Write(w io.Writer, bc *entity.BillingContext, snap *entity.BillingSnapshot) error {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := e.fillHeader(file, bc, snap); err != nil {
		return fmt.Errorf("failed to fill header: %w", err)
	}
	if err := e.fillLines(file, snap); err != nil {
		return fmt.Errorf("failed to fill lines: %w", err)
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Bytes renders snap of bc as xlsx
func (e *Exporter) Bytes(bc *entity.BillingContext, snap *entity.BillingSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Write(&buf, bc, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileName is the suggested download name for a snapshot
func FileName(bc *entity.BillingContext, snap *entity.BillingSnapshot) string {
	return fmt.Sprintf("billing-%d-v%d-%s.xlsx", bc.ID, snap.Version, snap.Intent)
}

func (e *Exporter) fillHeader(file *excelize.File, bc *entity.BillingContext, snap *entity.BillingSnapshot) error {
	if err := file.SetCellValue(SheetName, cellTitle, "Billing snapshot"); err != nil {
		return err
	}
	for _, h := range headerLabels {
		if err := file.SetCellValue(SheetName, h.cell, h.label); err != nil {
			return err
		}
	}

	values := []struct {
		cell  string
		value interface{}
	}{
		{cellContext, bc.Name},
		{cellType, string(bc.Type)},
		{cellVersion, snap.Version},
		{cellIntent, string(snap.Intent)},
		{cellCurrency, snap.Currency},
		{cellCreatedAt, snap.CreatedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	for _, v := range values {
		if err := file.SetCellValue(SheetName, v.cell, v.value); err != nil {
			return fmt.Errorf("failed to set %s: %w", v.cell, err)
		}
	}
	return nil
}

func (e *Exporter) fillLines(file *excelize.File, snap *entity.BillingSnapshot) error {
	for _, c := range lineColumns {
		if err := file.SetCellValue(SheetName, cell(c.col, lineHeaderRow), c.title); err != nil {
			return err
		}
	}

	style, err := file.NewStyle(&excelize.Style{NumFmt: numFmtAmount})
	if err != nil {
		return fmt.Errorf("failed to create amount style: %w", err)
	}

	row := lineHeaderRow + 1
	for i, line := range snap.Lines {
		cells := []struct {
			col   string
			value interface{}
		}{
			{colSequence, i + 1},
			{colLabel, line.Label},
			{colOrder, optionalID(line.OrderID)},
			{colRun, optionalID(line.RunID)},
			{colTemplate, line.TemplateID},
			{colFormula, line.Formula},
		}
		for _, c := range cells {
			if err := file.SetCellValue(SheetName, cell(c.col, row), c.value); err != nil {
				return fmt.Errorf("failed to set %s at row %d: %w", c.col, row, err)
			}
		}
		if err := setAmount(file, cell(colAmount, row), line.Amount.StringFixed(4), style); err != nil {
			return fmt.Errorf("failed to set amount at row %d: %w", row, err)
		}
		row++
	}

	if err := file.SetCellValue(SheetName, cell(colFormula, row), "Total"); err != nil {
		return err
	}
	return setAmount(file, cell(colAmount, row), snap.Result.StringFixed(2), style)
}

// setAmount stores the fixed-point text as a numeric cell without a float round trip
func setAmount(file *excelize.File, axis, fixed string, style int) error {
	if _, err := strconv.ParseFloat(fixed, 64); err != nil {
		return err
	}
	if err := file.SetCellDefault(SheetName, axis, fixed); err != nil {
		return err
	}
	return file.SetCellStyle(SheetName, axis, axis, style)
}

func optionalID(id int64) interface{} {
	if id == 0 {
		return ""
	}
	return id
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
