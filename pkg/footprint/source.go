package footprint

import (
	"errors"
	"io"

	"github.com/openfootprint/footprint/internal/source"
	"github.com/paulmach/orb/geojson"
)

// Source streams features from a backing dataset one at a time.
//
// Next returns io.EOF after the final feature. Reset rewinds the source
// to the beginning (file sources reopen the file). Sources are finite
// and single-threaded.
type Source interface {
	Next() (Feature, error)
	Reset() error
	Close() error
}

// OpenSource opens a dataset file as a feature stream.
//
// The format is chosen by extension: GeoJSON collections (.geojson),
// line-delimited GeoJSON (.geojsonl, .ndjson) and CSV with a WKT
// geometry column (.csv), each optionally gzip compressed (.gz).
// Malformed records surface as ErrSourceFormat.
//
// Example:
//
//	src, err := footprint.OpenSource("Peru_buildings.csv.gz")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Close()
func OpenSource(path string) (Source, error) {
	r, err := source.Open(path)
	if err != nil {
		return nil, wrapSourceErr(err)
	}
	return &fileSource{path: path, r: r}, nil
}

// fileSource adapts an internal format reader to the Source interface.
type fileSource struct {
	path string
	r    source.Reader
}

func (s *fileSource) Next() (Feature, error) {
	rec, err := s.r.Next()
	if err != nil {
		if err == io.EOF {
			return Feature{}, io.EOF
		}
		return Feature{}, wrapSourceErr(err)
	}
	return Feature{
		Geometry:   rec.Geometry,
		Properties: geojson.Properties(rec.Properties),
	}, nil
}

func (s *fileSource) Reset() error {
	if err := s.r.Close(); err != nil {
		return err
	}
	r, err := source.Open(s.path)
	if err != nil {
		return wrapSourceErr(err)
	}
	s.r = r
	return nil
}

func (s *fileSource) Close() error { return s.r.Close() }

// wrapSourceErr converts internal decoding errors to the public kind.
func wrapSourceErr(err error) error {
	var mal *source.ErrMalformedRecord
	if errors.As(err, &mal) {
		return &ErrSourceFormat{Path: mal.Path, Record: mal.Line, Reason: mal.Reason}
	}
	return err
}

// NewSliceSource wraps an in-memory feature slice as a Source.
//
// Useful for callers that already hold their dataset decoded, and for
// tests.
func NewSliceSource(features []Feature) Source {
	return &sliceSource{features: features}
}

type sliceSource struct {
	features []Feature
	pos      int
}

func (s *sliceSource) Next() (Feature, error) {
	if s.pos >= len(s.features) {
		return Feature{}, io.EOF
	}
	f := s.features[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceSource) Reset() error {
	s.pos = 0
	return nil
}

func (s *sliceSource) Close() error { return nil }
