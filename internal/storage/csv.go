package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/galafis/financial-data-etl/internal/models"
)

// CSVCodec reads and writes comma-separated tables with a header row.
// Timestamps are RFC 3339 in UTC and undefined values are empty cells.
type CSVCodec struct{}

// Encode implements Codec
func (CSVCodec) Encode(ctx context.Context, w io.Writer, table *models.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header(table)); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	withSymbol := table.HasSymbols()
	record := make([]string, 0, len(header(table)))
	for i := range table.Rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		r := &table.Rows[i]
		record = append(record[:0], formatTimestamp(r.Timestamp))
		if withSymbol {
			record = append(record, r.Symbol)
		}
		for _, v := range []models.Value{r.Open, r.High, r.Low, r.Close, r.Volume} {
			record = append(record, formatValue(v))
		}
		for _, v := range r.Derived {
			record = append(record, formatValue(v))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Decode implements Codec
func (CSVCodec) Decode(ctx context.Context, r io.Reader) (*models.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	names, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty csv", errMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	// the header slice is reused by the reader
	b, err := newTableBuilder(append([]string(nil), names...))
	if err != nil {
		return nil, err
	}

	cells := make([]any, 0, len(names))
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		if len(b.table.Rows)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		cells = cells[:0]
		for _, field := range record {
			cells = append(cells, field)
		}
		if err := b.add(cells); err != nil {
			return nil, err
		}
	}
	return b.build(), nil
}
