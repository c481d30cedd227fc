package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func writeGzipFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func readAll(t *testing.T, path string) []Record {
	t.Helper()
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer r.Close()

	var records []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		records = append(records, rec)
	}
}

const lineGeoJSON = `{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]},"properties":{"id":1}}

{"type":"Feature","geometry":{"type":"Point","coordinates":[2,3]},"properties":{"id":2}}
`

func TestOpenGeoJSONL(t *testing.T) {
	path := writeFile(t, "data.geojsonl", lineGeoJSON)
	records := readAll(t, path)

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (blank lines skipped)", len(records))
	}
	if _, ok := records[0].Geometry.(orb.Polygon); !ok {
		t.Errorf("record 0 geometry = %T, want Polygon", records[0].Geometry)
	}
	if pt, ok := records[1].Geometry.(orb.Point); !ok || pt[0] != 2 || pt[1] != 3 {
		t.Errorf("record 1 geometry = %v", records[1].Geometry)
	}
	if records[1].Properties["id"] != float64(2) {
		t.Errorf("record 1 id = %v", records[1].Properties["id"])
	}
}

func TestOpenGeoJSONLGzip(t *testing.T) {
	path := writeGzipFile(t, "data.geojsonl.gz", lineGeoJSON)
	records := readAll(t, path)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
}

func TestOpenGeoJSONCollection(t *testing.T) {
	content := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[10,20]},"properties":{"name":"a"}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[30,40]},"properties":{"name":"b"}}
	]}`
	path := writeFile(t, "data.geojson", content)
	records := readAll(t, path)

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Properties["name"] != "a" || records[1].Properties["name"] != "b" {
		t.Errorf("properties = %v, %v", records[0].Properties, records[1].Properties)
	}
}

func TestOpenCSVWithWKT(t *testing.T) {
	content := `id,geometry,height
b1,"POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))",12.5
b2,"MULTIPOLYGON (((2 2, 3 2, 3 3, 2 3, 2 2)))",7
`
	path := writeFile(t, "data.csv", content)
	records := readAll(t, path)

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if _, ok := records[0].Geometry.(orb.Polygon); !ok {
		t.Errorf("record 0 geometry = %T, want Polygon", records[0].Geometry)
	}
	if _, ok := records[1].Geometry.(orb.MultiPolygon); !ok {
		t.Errorf("record 1 geometry = %T, want MultiPolygon", records[1].Geometry)
	}
	if records[0].Properties["id"] != "b1" || records[0].Properties["height"] != "12.5" {
		t.Errorf("record 0 properties = %v", records[0].Properties)
	}
}

func TestOpenCSVPropertiesColumn(t *testing.T) {
	content := `geometry,properties
"POINT (1 2)","{""height"": 4.2, ""confidence"": 0.9}"
"POINT (3 4)",not-json
`
	path := writeFile(t, "data.csv", content)
	records := readAll(t, path)

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Properties["height"] != 4.2 {
		t.Errorf("merged height = %v, want 4.2", records[0].Properties["height"])
	}
	if records[0].Properties["confidence"] != 0.9 {
		t.Errorf("merged confidence = %v", records[0].Properties["confidence"])
	}

	// A broken blob nulls the column but keeps the record.
	if v, ok := records[1].Properties["properties"]; !ok || v != nil {
		t.Errorf("broken blob properties = %v (present %v), want nil", v, ok)
	}
}

func TestOpenCSVMalformedWKT(t *testing.T) {
	content := `geometry
"POLYGON ((0 0, 1 0"
`
	path := writeFile(t, "data.csv", content)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	_, err = r.Next()
	var malformed *ErrMalformedRecord
	if !errors.As(err, &malformed) {
		t.Fatalf("got %v, want ErrMalformedRecord", err)
	}
	if malformed.Line != 2 {
		t.Errorf("Line = %d, want 2", malformed.Line)
	}
}

func TestOpenCSVNoGeometryColumn(t *testing.T) {
	path := writeFile(t, "data.csv", "id,height\n1,2\n")
	_, err := Open(path)
	var malformed *ErrMalformedRecord
	if !errors.As(err, &malformed) {
		t.Fatalf("got %v, want ErrMalformedRecord", err)
	}
}

func TestOpenMalformedLine(t *testing.T) {
	content := `{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{}}
{this is not json}
`
	path := writeFile(t, "data.geojsonl", content)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	_, err = r.Next()
	var malformed *ErrMalformedRecord
	if !errors.As(err, &malformed) {
		t.Fatalf("got %v, want ErrMalformedRecord", err)
	}
	if malformed.Line != 2 {
		t.Errorf("Line = %d, want 2", malformed.Line)
	}
}

func TestOpenUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "data.shp", "not really")
	_, err := Open(path)
	var malformed *ErrMalformedRecord
	if !errors.As(err, &malformed) {
		t.Fatalf("got %v, want ErrMalformedRecord", err)
	}
}

func TestOpenCorruptGzip(t *testing.T) {
	path := writeFile(t, "data.geojsonl.gz", "definitely not gzip")
	_, err := Open(path)
	var malformed *ErrMalformedRecord
	if !errors.As(err, &malformed) {
		t.Fatalf("got %v, want ErrMalformedRecord", err)
	}
}
