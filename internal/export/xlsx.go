package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// WriteXLSX writes the sheets as tabs of one workbook, first sheet active.
func WriteXLSX(w io.Writer, sheets ...*RunSheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("nothing to export")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.Title); err != nil {
				return fmt.Errorf("failed to name sheet %s: %w", s.Title, err)
			}
		} else if _, err := f.NewSheet(s.Title); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", s.Title, err)
		}

		if err := f.SetSheetRow(s.Title, "A1", &s.Header); err != nil {
			return fmt.Errorf("failed to write header of %s: %w", s.Title, err)
		}
		for r, row := range s.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(s.Title, cell, &row); err != nil {
				return fmt.Errorf("failed to write row %d of %s: %w", r+1, s.Title, err)
			}
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
