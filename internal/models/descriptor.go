package models

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a serialization format for tables.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatColumnar Format = "columnar" // Parquet
	FormatXLSX     Format = "xlsx"
)

// SourceKind identifies where the extraction collaborator reads a table from.
type SourceKind string

const (
	SourceCSV       SourceKind = "csv"
	SourceJSON      SourceKind = "json"
	SourceColumnar  SourceKind = "columnar"
	SourceXLSX      SourceKind = "xlsx"
	SourceSynthetic SourceKind = "synthetic"
)

// ParseFormat normalizes a format tag. "parquet" is accepted as an alias of columnar.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "columnar", "parquet":
		return FormatColumnar, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot infer format from %q: no extension", path)
	}
	return ParseFormat(ext)
}

// SourceDescriptor tells the extraction collaborator what to read.
// Path is used by file sources; Symbol, Rows and Seed by the synthetic source.
type SourceDescriptor struct {
	Kind   SourceKind `json:"kind" yaml:"kind"`
	Path   string     `json:"path,omitempty" yaml:"path"`
	Symbol string     `json:"symbol,omitempty" yaml:"symbol"`
	Rows   int        `json:"rows,omitempty" yaml:"rows"`
	Seed   uint64     `json:"seed,omitempty" yaml:"seed"`
}

// ResolveKind returns the declared kind, or infers it from the path extension.
func (d SourceDescriptor) ResolveKind() (SourceKind, error) {
	if d.Kind != "" {
		switch d.Kind {
		case SourceSynthetic, "api":
			return SourceSynthetic, nil
		}
		f, err := ParseFormat(string(d.Kind))
		if err != nil {
			return "", fmt.Errorf("unknown source kind %q", d.Kind)
		}
		return SourceKind(f), nil
	}
	if d.Path == "" {
		return "", fmt.Errorf("source descriptor has neither kind nor path")
	}
	f, err := FormatFromPath(d.Path)
	if err != nil {
		return "", err
	}
	return SourceKind(f), nil
}

// String implements fmt.Stringer.
func (d SourceDescriptor) String() string {
	if d.Kind == SourceSynthetic || d.Kind == "api" {
		return fmt.Sprintf("synthetic:%s", d.Symbol)
	}
	return fmt.Sprintf("%s:%s", d.Kind, d.Path)
}

// OutputDescriptor tells the load collaborator where and how to write a table.
type OutputDescriptor struct {
	Path   string `json:"path" yaml:"path"`
	Format Format `json:"format,omitempty" yaml:"format"`
}

// ResolveFormat returns the declared format, or infers it from the path extension.
func (d OutputDescriptor) ResolveFormat() (Format, error) {
	if d.Format != "" {
		return ParseFormat(string(d.Format))
	}
	return FormatFromPath(d.Path)
}
