//go:build !noduckdb

package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/galafis/financial-data-etl/internal/models"
)

const columnarTable = "ohlcv"

// ColumnarCodec reads and writes Parquet files through an in-memory DuckDB database.
// Rows are bulk loaded with the Appender API and exported with COPY; reading goes through
// read_parquet. DuckDB works on paths, so the bytes pass through a private temp directory.
type ColumnarCodec struct {
	TempDir string
}

// NewColumnarCodec returns the Parquet codec.
func NewColumnarCodec() Codec {
	return ColumnarCodec{}
}

// Encode implements Codec
func (c ColumnarCodec) Encode(ctx context.Context, w io.Writer, table *models.Table) error {
	dir, err := os.MkdirTemp(c.TempDir, "etl-columnar-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("failed to open DuckDB: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	names := header(table)
	if _, err := conn.ExecContext(ctx, createTableSQL(names)); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if err := appendRows(conn, table); err != nil {
		return err
	}

	path := filepath.Join(dir, "table.parquet")
	copySQL := fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET)", quoteIdent(columnarTable), quoteLiteral(path))
	if _, err := conn.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("failed to export parquet: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open exported parquet: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to copy parquet: %w", err)
	}
	return nil
}

// appendRows bulk inserts the table through the DuckDB Appender API.
func appendRows(conn *sql.Conn, table *models.Table) error {
	var driverConn *duckdb.Conn
	err := conn.Raw(func(dc interface{}) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to get DuckDB connection: %w", err)
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", columnarTable)
	if err != nil {
		return fmt.Errorf("failed to create appender: %w", err)
	}
	defer appender.Close()

	for i := range table.Rows {
		cells := rowValues(table, &table.Rows[i])
		values := make([]driver.Value, len(cells))
		for j, cell := range cells {
			values[j] = cell
		}
		if err := appender.AppendRow(values...); err != nil {
			return fmt.Errorf("failed to append row %d: %w", i+1, err)
		}
	}

	if err := appender.Flush(); err != nil {
		return fmt.Errorf("failed to flush appender: %w", err)
	}
	return nil
}

func createTableSQL(names []string) string {
	cols := make([]string, len(names))
	for i, name := range names {
		typ := "DOUBLE"
		switch name {
		case models.ColumnTimestamp:
			typ = "TIMESTAMP"
		case models.ColumnSymbol:
			typ = "VARCHAR"
		}
		cols[i] = quoteIdent(name) + " " + typ
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(columnarTable), strings.Join(cols, ", "))
}

// Decode implements Codec
func (c ColumnarCodec) Decode(ctx context.Context, r io.Reader) (*models.Table, error) {
	dir, err := os.MkdirTemp(c.TempDir, "etl-columnar-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "table.parquet")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stage parquet: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stage parquet: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to stage parquet: %w", err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM read_parquet(%s)", quoteLiteral(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet columns: %w", err)
	}
	b, err := newTableBuilder(names)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		cells := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan parquet row: %w", err)
		}
		if err := b.add(cells); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate parquet rows: %w", err)
	}
	return b.build(), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}
