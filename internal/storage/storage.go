// Package storage reads and writes OHLCV tables as files.
// Tables are serialized as CSV, JSON (array of records), XLSX or a columnar Parquet file
// written through DuckDB. All file access goes through an afero.Fs so callers can swap the
// real filesystem for an in-memory one. Transient I/O failures are retried with backoff and
// every failure is classified into the pipeline error kinds.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	etlerrors "github.com/galafis/financial-data-etl/internal/errors"
	"github.com/galafis/financial-data-etl/internal/logger"
	"github.com/galafis/financial-data-etl/internal/models"
)

// Codec encodes and decodes tables in a single format.
type Codec interface {
	// Encode writes table to w. Undefined values are written as the format's empty marker.
	Encode(ctx context.Context, w io.Writer, table *models.Table) error
	// Decode reads a table from r. Columns beyond the OHLCV schema become derived columns.
	Decode(ctx context.Context, r io.Reader) (*models.Table, error)
}

// FileStore reads source tables and loads result tables through a filesystem.
type FileStore struct {
	fs       afero.Fs
	logger   *slog.Logger
	retry    etlerrors.RetryPolicy
	codecs   map[models.Format]Codec
	fileMode fs.FileMode
}

// Option configures a FileStore
type Option func(*FileStore)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger.With("component", "storage")
		}
	}
}

// WithRetryPolicy sets the policy used for transient I/O failures.
func WithRetryPolicy(policy etlerrors.RetryPolicy) Option {
	return func(s *FileStore) {
		s.retry = policy
	}
}

// WithCodec registers or replaces the codec of a format.
func WithCodec(format models.Format, codec Codec) Option {
	return func(s *FileStore) {
		s.codecs[format] = codec
	}
}

// WithFileMode sets the permission bits of written files.
func WithFileMode(mode fs.FileMode) Option {
	return func(s *FileStore) {
		s.fileMode = mode
	}
}

// NewFileStore creates a store over fsys. A nil fsys means the OS filesystem.
func NewFileStore(fsys afero.Fs, opts ...Option) *FileStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	s := &FileStore{
		fs:       fsys,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		retry:    etlerrors.DefaultRetryPolicy(),
		fileMode: 0o644,
		codecs: map[models.Format]Codec{
			models.FormatCSV:      CSVCodec{},
			models.FormatJSON:     JSONCodec{},
			models.FormatXLSX:     XLSXCodec{},
			models.FormatColumnar: NewColumnarCodec(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fs returns the underlying filesystem.
func (s *FileStore) Fs() afero.Fs {
	return s.fs
}

// ReadTable reads the table stored at path in the given format.
// A missing or unreadable file is a source_unavailable error, content that does not parse
// is a format_error and content lacking required columns is a schema_error.
func (s *FileStore) ReadTable(ctx context.Context, path string, format models.Format) (*models.Table, error) {
	const op = "read"

	codec, ok := s.codecs[format]
	if !ok {
		return nil, etlerrors.Format(op, path, fmt.Errorf("%w: %q", etlerrors.ErrUnsupportedFormat, format))
	}

	var data []byte
	err := etlerrors.Retry(ctx, s.retry, func() error {
		var readErr error
		data, readErr = afero.ReadFile(s.fs, path)
		return readErr
	})
	if err != nil {
		return nil, etlerrors.SourceUnavailable(op, path, err)
	}

	start := time.Now()
	var table *models.Table
	err = logger.TimedOperationWithContext(ctx, s.logger, "decode "+string(format), func(ctx context.Context) error {
		var decodeErr error
		table, decodeErr = codec.Decode(ctx, bytes.NewReader(data))
		return decodeErr
	})
	if err != nil {
		if errors.Is(err, errMissingColumn) {
			return nil, etlerrors.Schema(op, path, err)
		}
		return nil, etlerrors.Format(op, path, err)
	}

	s.logger.DebugContext(ctx, "table read",
		"path", path,
		"format", format,
		"rows", table.Len(),
		"columns", len(table.Columns),
		"duration", time.Since(start),
	)
	return table, nil
}

// Load writes table to the destination described by out, creating parent directories.
// Unknown formats and formats whose codec is not built in fail with a write_error wrapping
// ErrUnsupportedFormat.
func (s *FileStore) Load(ctx context.Context, table *models.Table, out models.OutputDescriptor) error {
	const op = "load"

	if table == nil {
		table = &models.Table{}
	}
	if err := table.CheckShape(); err != nil {
		return etlerrors.Schema(op, out.Path, err)
	}

	format, err := out.ResolveFormat()
	if err != nil {
		return etlerrors.Write(op, out.Path, fmt.Errorf("%w: %v", etlerrors.ErrUnsupportedFormat, err))
	}
	codec, ok := s.codecs[format]
	if !ok {
		return etlerrors.Write(op, out.Path, fmt.Errorf("%w: %q", etlerrors.ErrUnsupportedFormat, format))
	}

	start := time.Now()
	var buf bytes.Buffer
	err = logger.TimedOperationWithContext(ctx, s.logger, "encode "+string(format), func(ctx context.Context) error {
		return codec.Encode(ctx, &buf, table)
	})
	if err != nil {
		return etlerrors.Write(op, out.Path, err)
	}

	if dir := filepath.Dir(out.Path); dir != "." && dir != "" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return etlerrors.Write(op, out.Path, fmt.Errorf("failed to create directory: %w", err))
		}
	}

	err = etlerrors.Retry(ctx, s.retry, func() error {
		return afero.WriteFile(s.fs, out.Path, buf.Bytes(), s.fileMode)
	})
	if err != nil {
		return etlerrors.Write(op, out.Path, err)
	}

	s.logger.InfoContext(ctx, "table loaded",
		"path", out.Path,
		"format", format,
		"rows", table.Len(),
		"bytes", buf.Len(),
		"duration", time.Since(start),
	)
	return nil
}
