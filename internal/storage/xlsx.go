package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/galafis/financial-data-etl/internal/models"
)

// XLSXSheet is the worksheet written by XLSXCodec. Decode reads the first worksheet.
const XLSXSheet = "ohlcv"

// XLSXCodec reads and writes Excel workbooks with a header row.
// Timestamps are stored as RFC 3339 text so no precision is lost to Excel date serials.
type XLSXCodec struct{}

// Encode implements Codec
func (XLSXCodec) Encode(ctx context.Context, w io.Writer, table *models.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", XLSXSheet); err != nil {
		return fmt.Errorf("failed to name worksheet: %w", err)
	}
	sw, err := f.NewStreamWriter(XLSXSheet)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}

	names := header(table)
	headerRow := make([]interface{}, len(names))
	for i, name := range names {
		headerRow[i] = name
	}
	if err := sw.SetRow("A1", headerRow); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := range table.Rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		cells := rowValues(table, &table.Rows[i])
		cells[0] = formatTimestamp(table.Rows[i].Timestamp)

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush worksheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Decode implements Codec
func (XLSXCodec) Decode(ctx context.Context, r io.Reader) (*models.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no worksheets", errMissingColumn)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: worksheet %s is empty", errMissingColumn, sheets[0])
	}

	b, err := newTableBuilder(rows[0])
	if err != nil {
		return nil, err
	}
	for i, row := range rows[1:] {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if isBlank(row) {
			continue
		}
		cells := make([]any, len(row))
		for c, v := range row {
			cells[c] = v
		}
		if err := b.add(cells); err != nil {
			return nil, err
		}
	}
	return b.build(), nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
