// Package source decodes footprint dataset files record by record.
//
// Supported formats are GeoJSON feature collections (.geojson, .json),
// line-delimited GeoJSON (.geojsonl, .ndjson, .jsonl) and CSV files with
// a WKT geometry column (.csv). Each format may additionally be gzip
// compressed (.gz suffix).
package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
)

// Record is one decoded feature: geometry plus raw attributes.
type Record struct {
	Geometry   orb.Geometry
	Properties map[string]interface{}
}

// Reader streams records from a single file. Next returns io.EOF after
// the last record.
type Reader interface {
	Next() (Record, error)
	Close() error
}

// ErrMalformedRecord indicates a record that cannot be decoded.
type ErrMalformedRecord struct {
	Path   string
	Line   int // 1-based record or line number, 0 if not applicable
	Reason string
}

func (e *ErrMalformedRecord) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: record %d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Open opens a dataset file, dispatching on extension and unwrapping
// gzip compression transparently.
func Open(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var rc io.ReadCloser = f
	name := path
	if strings.HasSuffix(name, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, &ErrMalformedRecord{Path: path, Reason: fmt.Sprintf("gzip: %v", err)}
		}
		rc = &gzipReadCloser{zr: zr, f: f}
		name = strings.TrimSuffix(name, ".gz")
	}

	switch filepath.Ext(name) {
	case ".geojsonl", ".ndjson", ".jsonl":
		return newLineReader(path, rc), nil
	case ".geojson", ".json":
		return newCollectionReader(path, rc)
	case ".csv":
		return newCSVReader(path, rc)
	default:
		rc.Close()
		return nil, &ErrMalformedRecord{
			Path:   path,
			Reason: fmt.Sprintf("unsupported file extension %q", filepath.Ext(name)),
		}
	}
}

// gzipReadCloser closes both the gzip stream and the underlying file.
type gzipReadCloser struct {
	zr *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g *gzipReadCloser) Close() error {
	zerr := g.zr.Close()
	ferr := g.f.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}
