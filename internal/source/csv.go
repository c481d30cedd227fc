package source

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb/encoding/wkt"
)

// csvReader streams rows of a CSV file carrying geometry as WKT.
//
// The header row names the columns. The "geometry" column (case
// insensitive) is decoded as WKT; every other column becomes a string
// attribute. A column named "properties" holding a JSON object is merged
// into the attributes, the way pre-chunked footprint exports encode
// their metadata.
type csvReader struct {
	path    string
	rc      io.ReadCloser
	cr      *csv.Reader
	header  []string
	geomIdx int
	line    int
}

func newCSVReader(path string, rc io.ReadCloser) (*csvReader, error) {
	cr := csv.NewReader(rc)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		rc.Close()
		if err == io.EOF {
			return nil, &ErrMalformedRecord{Path: path, Reason: "empty CSV file"}
		}
		return nil, &ErrMalformedRecord{Path: path, Reason: fmt.Sprintf("header: %v", err)}
	}

	geomIdx := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "geometry") {
			geomIdx = i
			break
		}
	}
	if geomIdx < 0 {
		rc.Close()
		return nil, &ErrMalformedRecord{Path: path, Reason: "no geometry column in CSV header"}
	}

	return &csvReader{
		path:    path,
		rc:      rc,
		cr:      cr,
		header:  header,
		geomIdx: geomIdx,
		line:    1,
	}, nil
}

func (r *csvReader) Next() (Record, error) {
	row, err := r.cr.Read()
	if err == io.EOF {
		return Record{}, io.EOF
	}
	if err != nil {
		return Record{}, &ErrMalformedRecord{Path: r.path, Line: r.line + 1, Reason: err.Error()}
	}
	r.line++

	geom, err := wkt.Unmarshal(strings.TrimSpace(row[r.geomIdx]))
	if err != nil {
		return Record{}, &ErrMalformedRecord{Path: r.path, Line: r.line, Reason: fmt.Sprintf("geometry: %v", err)}
	}

	props := make(map[string]interface{}, len(row))
	for i, val := range row {
		if i == r.geomIdx || i >= len(r.header) {
			continue
		}
		name := strings.TrimSpace(r.header[i])
		if strings.EqualFold(name, "properties") {
			// Embedded JSON attribute blob. A broken blob is a cosmetic
			// attribute issue, not grounds to drop the record: coerce to
			// null and keep going.
			var embedded map[string]interface{}
			if jerr := json.Unmarshal([]byte(val), &embedded); jerr == nil {
				for k, v := range embedded {
					props[k] = v
				}
			} else {
				props[name] = nil
			}
			continue
		}
		props[name] = val
	}

	return Record{Geometry: geom, Properties: props}, nil
}

func (r *csvReader) Close() error { return r.rc.Close() }
