package extractor

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/graben/internal/interfaces"
)

// ExcelParser implements the spreadsheet collaborator with excelize.
type ExcelParser struct{}

// Compile-time assertion
var _ interfaces.SpreadsheetParser = (*ExcelParser)(nil)

// NewExcelParser creates an excelize-backed spreadsheet parser.
func NewExcelParser() *ExcelParser {
	return &ExcelParser{}
}

// Parse reads every sheet into a rows tree keyed by sheet name.
func (p *ExcelParser) Parse(path string) (map[string]interface{}, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := make(map[string]interface{})
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
		}
		var sheetRows []interface{}
		for _, row := range rows {
			cells := make([]interface{}, len(row))
			for i, cell := range row {
				cells[i] = cell
			}
			sheetRows = append(sheetRows, cells)
		}
		sheets[name] = sheetRows
	}

	return map[string]interface{}{"sheets": sheets}, nil
}
