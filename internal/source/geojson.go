package source

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"
)

// collectionReader iterates a GeoJSON FeatureCollection file.
//
// The whole collection is decoded up front; collection files in this
// system are bounded-size chunks, not raw national datasets, so this
// stays within the working-set budget. Unbounded inputs should use the
// line-delimited form instead.
type collectionReader struct {
	path     string
	features []*geojson.Feature
	pos      int
}

func newCollectionReader(path string, rc io.ReadCloser) (*collectionReader, error) {
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, &ErrMalformedRecord{Path: path, Reason: fmt.Sprintf("feature collection: %v", err)}
	}

	return &collectionReader{path: path, features: fc.Features}, nil
}

func (r *collectionReader) Next() (Record, error) {
	for r.pos < len(r.features) {
		gf := r.features[r.pos]
		r.pos++
		if gf.Geometry == nil {
			return Record{}, &ErrMalformedRecord{Path: r.path, Line: r.pos, Reason: "feature has no geometry"}
		}
		return Record{Geometry: gf.Geometry, Properties: gf.Properties}, nil
	}
	return Record{}, io.EOF
}

func (r *collectionReader) Close() error { return nil }

// lineReader streams line-delimited GeoJSON, one feature per line.
type lineReader struct {
	path string
	rc   io.ReadCloser
	br   *bufio.Reader
	line int
	done bool
}

func newLineReader(path string, rc io.ReadCloser) *lineReader {
	return &lineReader{path: path, rc: rc, br: bufio.NewReaderSize(rc, 1<<16)}
}

func (r *lineReader) Next() (Record, error) {
	if r.done {
		return Record{}, io.EOF
	}
	for {
		raw, err := r.br.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return Record{}, fmt.Errorf("read %s: %w", r.path, err)
		}
		if err == io.EOF {
			r.done = true
		}
		r.line++

		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			if r.done {
				return Record{}, io.EOF
			}
			continue
		}

		gf, uerr := geojson.UnmarshalFeature(line)
		if uerr != nil {
			return Record{}, &ErrMalformedRecord{Path: r.path, Line: r.line, Reason: uerr.Error()}
		}
		if gf.Geometry == nil {
			return Record{}, &ErrMalformedRecord{Path: r.path, Line: r.line, Reason: "feature has no geometry"}
		}
		return Record{Geometry: gf.Geometry, Properties: gf.Properties}, nil
	}
}

func (r *lineReader) Close() error { return r.rc.Close() }
