// Package export renders a record collection as a downloadable workbook.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/domain/record"
)

const sheetName = "Medical Records"

var columns = []string{
	"Title",
	"Type",
	"Facility",
	"Visit Date",
	"Notes",
	"Attachment",
	"Explanation",
	"Recommended Actions",
	"Attention Indicators",
}

// ExcelExporter writes record collections as xlsx workbooks.
type ExcelExporter struct {
	logger *zap.Logger
}

func NewExcelExporter(logger *zap.Logger) *ExcelExporter {
	return &ExcelExporter{logger: logger}
}

// Write renders the records, one row each in the given order, to w.
func (e *ExcelExporter) Write(records []*record.MedicalRecord, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		e.logger.Warn("Failed to remove default sheet", zap.Error(err))
	}

	for i, name := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("failed to address header cell: %w", err)
		}
		e.setCell(f, cell, name)
	}

	for row, rec := range records {
		values := []string{
			rec.Title,
			rec.RecordType.String(),
			rec.FacilityName,
			rec.VisitDate.Format("2006-01-02"),
			rec.Notes,
			attachmentLabel(rec),
			interpretationField(rec, func(it *record.Interpretation) string { return it.Explanation }),
			interpretationField(rec, func(it *record.Interpretation) string {
				return strings.Join(it.RecommendedActions, "; ")
			}),
			interpretationField(rec, func(it *record.Interpretation) string {
				return strings.Join(it.AttentionIndicators, "; ")
			}),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return fmt.Errorf("failed to address cell: %w", err)
			}
			e.setCell(f, cell, value)
		}
	}

	if err := f.SetColWidth(sheetName, "A", "I", 24); err != nil {
		e.logger.Warn("Failed to set column widths", zap.Error(err))
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Records exported", zap.Int("count", len(records)))
	return nil
}

func (e *ExcelExporter) setCell(f *excelize.File, cell, value string) {
	if err := f.SetCellValue(sheetName, cell, value); err != nil {
		e.logger.Warn("Failed to set cell value",
			zap.String("cell", cell),
			zap.Error(err))
	}
}

func attachmentLabel(rec *record.MedicalRecord) string {
	if rec.Attachment == nil {
		return ""
	}
	return rec.Attachment.FileName
}

func interpretationField(rec *record.MedicalRecord, pick func(*record.Interpretation) string) string {
	if rec.Interpretation == nil {
		return ""
	}
	return pick(rec.Interpretation)
}
