package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/galafis/financial-data-etl/internal/models"
)

// JSONCodec reads and writes a JSON array with one object per row.
// Keys keep the column order of the table; undefined values are null. Timestamps are
// written as RFC 3339 strings and read either as strings or as epoch milliseconds.
type JSONCodec struct{}

// Encode implements Codec
func (JSONCodec) Encode(ctx context.Context, w io.Writer, table *models.Table) error {
	bw := bufio.NewWriter(w)
	names := header(table)

	keys := make([][]byte, len(names))
	for i, name := range names {
		k, err := json.Marshal(name)
		if err != nil {
			return fmt.Errorf("failed to encode column name %q: %w", name, err)
		}
		keys[i] = k
	}

	bw.WriteByte('[')
	for i := range table.Rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if i > 0 {
			bw.WriteByte(',')
		}
		bw.WriteString("\n  {")
		for c, cell := range rowValues(table, &table.Rows[i]) {
			if c > 0 {
				bw.WriteByte(',')
			}
			bw.Write(keys[c])
			bw.WriteByte(':')
			if err := writeJSONCell(bw, cell); err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
		}
		bw.WriteByte('}')
	}
	if len(table.Rows) > 0 {
		bw.WriteByte('\n')
	}
	bw.WriteString("]\n")
	return bw.Flush()
}

func writeJSONCell(w *bufio.Writer, cell any) error {
	switch v := cell.(type) {
	case nil:
		_, err := w.WriteString("null")
		return err
	case float64:
		_, err := w.WriteString(formatValue(models.Some(v)))
		return err
	case time.Time:
		cell = formatTimestamp(v)
	}
	data, err := json.Marshal(cell)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Decode implements Codec
func (JSONCodec) Decode(ctx context.Context, r io.Reader) (*models.Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty json document", errMissingColumn)
		}
		return nil, err
	}

	var b *tableBuilder
	for dec.More() {
		if b != nil && len(b.table.Rows)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		names, values, err := readObject(dec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowCount(b)+1, err)
		}
		if b == nil {
			if b, err = newTableBuilder(names); err != nil {
				return nil, err
			}
		}
		if err := b.add(alignCells(b, names, values)); err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}

	if b == nil {
		// An empty array carries no columns.
		return models.NewTable(nil), nil
	}
	return b.build(), nil
}

func rowCount(b *tableBuilder) int {
	if b == nil {
		return 0
	}
	return len(b.table.Rows)
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, found %v", want, tok)
	}
	return nil
}

// readObject reads one flat JSON object, keeping key order.
func readObject(dec *json.Decoder) ([]string, []any, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, nil, err
	}
	var names []string
	var values []any
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected object key, found %v", tok)
		}
		tok, err = dec.Token()
		if err != nil {
			return nil, nil, err
		}
		if _, nested := tok.(json.Delim); nested {
			return nil, nil, fmt.Errorf("field %q: nested values are not supported", key)
		}
		if flag, ok := tok.(bool); ok {
			return nil, nil, fmt.Errorf("field %q: unexpected boolean %v", key, flag)
		}
		names = append(names, key)
		values = append(values, tok)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, nil, err
	}
	return names, values, nil
}

// alignCells places an object's values in the column order of the first object.
// Keys the first object did not have are ignored; absent keys are undefined.
func alignCells(b *tableBuilder, names []string, values []any) []any {
	width := b.width()
	cells := make([]any, width)
	for i, name := range names {
		if idx, ok := b.index[name]; ok {
			cells[idx] = values[i]
		}
	}
	return cells
}
