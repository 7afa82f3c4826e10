//go:build noduckdb

package storage

import (
	"context"
	"fmt"
	"io"

	etlerrors "github.com/galafis/financial-data-etl/internal/errors"
	"github.com/galafis/financial-data-etl/internal/models"
)

// ColumnarCodec is unavailable in builds without DuckDB.
type ColumnarCodec struct {
	TempDir string
}

// NewColumnarCodec returns a codec that rejects every call with ErrUnsupportedFormat.
func NewColumnarCodec() Codec {
	return ColumnarCodec{}
}

// Encode implements Codec
func (ColumnarCodec) Encode(context.Context, io.Writer, *models.Table) error {
	return fmt.Errorf("columnar codec: %w (built with noduckdb)", etlerrors.ErrUnsupportedFormat)
}

// Decode implements Codec
func (ColumnarCodec) Decode(context.Context, io.Reader) (*models.Table, error) {
	return nil, fmt.Errorf("columnar codec: %w (built with noduckdb)", etlerrors.ErrUnsupportedFormat)
}
