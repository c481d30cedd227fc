package footprint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

func TestGeometryIntersects(t *testing.T) {
	box := Bounds{MinLon: 0, MaxLon: 1, MinLat: 0, MaxLat: 1}

	tests := []struct {
		name string
		geom orb.Geometry
		want bool
	}{
		{"point inside", orb.Point{0.5, 0.5}, true},
		{"point on edge", orb.Point{0, 0.5}, true},
		{"point on corner", orb.Point{1, 1}, true},
		{"point outside", orb.Point{1.5, 0.5}, false},
		{
			"polygon overlapping",
			orb.Polygon{orb.Ring{{0.5, 0.5}, {2, 0.5}, {2, 2}, {0.5, 2}, {0.5, 0.5}}},
			true,
		},
		{
			"polygon containing box",
			orb.Polygon{orb.Ring{{-1, -1}, {2, -1}, {2, 2}, {-1, 2}, {-1, -1}}},
			true,
		},
		{
			"polygon strip crossing, no vertices inside",
			orb.Polygon{orb.Ring{{-1, 0.4}, {2, 0.4}, {2, 0.6}, {-1, 0.6}, {-1, 0.4}}},
			true,
		},
		{
			"polygon disjoint",
			orb.Polygon{orb.Ring{{2, 2}, {3, 2}, {3, 3}, {2, 3}, {2, 2}}},
			false,
		},
		{
			"polygon touching edge only",
			orb.Polygon{orb.Ring{{1, 0}, {2, 0}, {2, 1}, {1, 1}, {1, 0}}},
			true,
		},
		{
			"linestring crossing, endpoints outside",
			orb.LineString{{-1, -1}, {2, 2}},
			true,
		},
		{
			"linestring outside",
			orb.LineString{{-1, -1}, {-2, 0}},
			false,
		},
		{
			"multipolygon one part inside",
			orb.MultiPolygon{
				{orb.Ring{{5, 5}, {6, 5}, {6, 6}, {5, 6}, {5, 5}}},
				{orb.Ring{{0.4, 0.4}, {0.6, 0.4}, {0.6, 0.6}, {0.4, 0.6}, {0.4, 0.4}}},
			},
			true,
		},
		{"nil geometry", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GeometryIntersects(tt.geom, box); got != tt.want {
				t.Errorf("GeometryIntersects = %v, want %v", got, tt.want)
			}
		})
	}
}

// straddleDataset partitions six features so one polygon is owned by
// the western chunk but overhangs into the east.
func straddleDataset(t *testing.T) (*PartitionResult, []Feature) {
	t.Helper()

	features := []Feature{
		pointFeature(0.1, 0.1, 1),
		pointFeature(0.9, 0.1, 2),
		pointFeature(0.1, 0.9, 3),
		pointFeature(0.9, 0.9, 4),
		// Centroid at lon 0.45 (west of the dividing line at 0.5) but
		// the footprint reaches lon 0.55.
		squareFeature(0.45, 0.25, 0.2, 5),
		pointFeature(0.6, 0.25, 6),
	}

	opts := DefaultGridOptions(t.TempDir())
	opts.MaxPerChunk = 4

	res, err := PartitionGrid(NewSliceSource(features), opts)
	if err != nil {
		t.Fatalf("PartitionGrid: %v", err)
	}
	return res, features
}

func extractedIDs(fc *geojson.FeatureCollection) []int {
	var ids []int
	for _, f := range fc.Features {
		ids = append(ids, int(f.Properties["id"].(float64)))
	}
	sort.Ints(ids)
	return ids
}

func TestExtractStraddlingFeature(t *testing.T) {
	res, _ := straddleDataset(t)

	ex, err := NewExtractor(res.Dir, DefaultExtractorOptions())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	// Query entirely east of the dividing line. The straddler lives in
	// the western chunk; the exact geometry test must still find it.
	q := Bounds{MinLon: 0.52, MaxLon: 0.6, MinLat: 0.2, MaxLat: 0.3}
	fc, err := ex.Extract(q, ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	got := extractedIDs(fc)
	if len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Errorf("extracted ids = %v, want [5 6]", got)
	}
}

func TestExtractOutsideDataset(t *testing.T) {
	res, _ := straddleDataset(t)

	ex, err := NewExtractor(res.Dir, DefaultExtractorOptions())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	// A box far from every chunk: valid query, empty result, no error.
	q := Bounds{MinLon: 100, MaxLon: 101, MinLat: 40, MaxLat: 41}
	fc, err := ex.Extract(q, ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(fc.Features) != 0 {
		t.Errorf("got %d features, want 0", len(fc.Features))
	}

	// Direct scan agrees.
	fc, err = ExtractDirect(res.Dir, q, ExtractOptions{})
	if err != nil {
		t.Fatalf("ExtractDirect: %v", err)
	}
	if len(fc.Features) != 0 {
		t.Errorf("direct: got %d features, want 0", len(fc.Features))
	}
}

func TestExtractDirectMatchesIndexed(t *testing.T) {
	features := uniformDataset(200, 99)
	opts := DefaultGridOptions(t.TempDir())
	opts.MaxPerChunk = 25

	res, err := PartitionGrid(NewSliceSource(features), opts)
	if err != nil {
		t.Fatalf("PartitionGrid: %v", err)
	}

	ex, err := NewExtractor(res.Dir, DefaultExtractorOptions())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	queries := []Bounds{
		{MinLon: 0.1, MaxLon: 0.4, MinLat: 0.1, MaxLat: 0.4},
		{MinLon: 0.45, MaxLon: 0.55, MinLat: 0.45, MaxLat: 0.55},
		{MinLon: 0, MaxLon: 1, MinLat: 0, MaxLat: 1},
		{MinLon: 0.9, MaxLon: 0.95, MinLat: 0.05, MaxLat: 0.1},
	}
	for _, q := range queries {
		indexed, err := ex.Extract(q, ExtractOptions{})
		if err != nil {
			t.Fatalf("Extract %+v: %v", q, err)
		}
		direct, err := ExtractDirect(res.Dir, q, ExtractOptions{})
		if err != nil {
			t.Fatalf("ExtractDirect %+v: %v", q, err)
		}

		gi, gd := extractedIDs(indexed), extractedIDs(direct)
		if len(gi) != len(gd) {
			t.Errorf("query %+v: indexed %d features, direct %d", q, len(gi), len(gd))
			continue
		}
		for i := range gi {
			if gi[i] != gd[i] {
				t.Errorf("query %+v: indexed ids %v != direct ids %v", q, gi, gd)
				break
			}
		}
	}
}

func TestExtractDirectCSVMatchesChunked(t *testing.T) {
	// The same dataset as a flat CSV and as a chunk directory answers a
	// query identically.
	features := uniformDataset(60, 17)

	var csv strings.Builder
	csv.WriteString("id,geometry\n")
	for _, f := range features {
		fmt.Fprintf(&csv, "%d,\"%s\"\n", featureID(f), wkt.MarshalString(f.Geometry))
	}
	csvPath := filepath.Join(t.TempDir(), "buildings.csv")
	if err := os.WriteFile(csvPath, []byte(csv.String()), 0644); err != nil {
		t.Fatal(err)
	}

	opts := DefaultGridOptions(t.TempDir())
	opts.MaxPerChunk = 10
	res, err := PartitionGrid(NewSliceSource(features), opts)
	if err != nil {
		t.Fatalf("PartitionGrid: %v", err)
	}
	ex, err := NewExtractor(res.Dir, DefaultExtractorOptions())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	q := Bounds{MinLon: 0.2, MaxLon: 0.7, MinLat: 0.3, MaxLat: 0.8}
	fromCSV, err := ExtractDirect(csvPath, q, ExtractOptions{})
	if err != nil {
		t.Fatalf("ExtractDirect(csv): %v", err)
	}
	fromChunks, err := ex.Extract(q, ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	// CSV attributes come back as strings, so compare by id only.
	csvIDs := make(map[string]bool)
	for _, f := range fromCSV.Features {
		csvIDs[f.Properties["id"].(string)] = true
	}
	if len(csvIDs) != len(fromChunks.Features) {
		t.Fatalf("csv matched %d, chunked matched %d", len(csvIDs), len(fromChunks.Features))
	}
	for _, id := range extractedIDs(fromChunks) {
		if !csvIDs[strconv.Itoa(id)] {
			t.Errorf("feature %d found in chunks but not in csv scan", id)
		}
	}
	if len(fromChunks.Features) == 0 {
		t.Fatal("query matched nothing; fixture broken")
	}
}

func TestExtractDirectSingleFile(t *testing.T) {
	res, _ := straddleDataset(t)

	// Point a direct scan at one chunk file instead of the directory.
	entry := res.Entries[0]
	fc, err := ExtractDirect(ChunkPath(res.Dir, entry.ID, false), entry.Box, ExtractOptions{})
	if err != nil {
		t.Fatalf("ExtractDirect: %v", err)
	}
	if len(fc.Features) != entry.Count {
		t.Errorf("got %d features, want %d", len(fc.Features), entry.Count)
	}
}

func TestExtractExtraFields(t *testing.T) {
	features := []Feature{
		{
			Geometry:   orb.Point{0.5, 0.5},
			Properties: geojson.Properties{"id": float64(1), "building": "yes"},
		},
		{
			Geometry:   orb.Point{0.6, 0.6},
			Properties: geojson.Properties{"id": float64(2)},
		},
	}

	opts := DefaultGridOptions(t.TempDir())
	res, err := PartitionGrid(NewSliceSource(features), opts)
	if err != nil {
		t.Fatalf("PartitionGrid: %v", err)
	}

	ex, err := NewExtractor(res.Dir, DefaultExtractorOptions())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	q := Bounds{MinLon: 0, MaxLon: 1, MinLat: 0, MaxLat: 1}
	fc, err := ex.Extract(q, ExtractOptions{ExtraFields: true})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("got %d features, want 2", len(fc.Features))
	}

	for _, f := range fc.Features {
		for _, name := range extraFieldNames {
			if _, ok := f.Properties[name]; !ok {
				t.Errorf("feature %v missing column %s", f.Properties["id"], name)
			}
		}
		// An existing value is never overwritten.
		if int(f.Properties["id"].(float64)) == 1 && f.Properties["building"] != "yes" {
			t.Errorf("building = %v, want yes", f.Properties["building"])
		}
		if int(f.Properties["id"].(float64)) == 2 && f.Properties["building"] != "" {
			t.Errorf("building = %v, want empty", f.Properties["building"])
		}
	}

	// Without the option the schema is untouched.
	fc, err = ex.Extract(q, ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, f := range fc.Features {
		if int(f.Properties["id"].(float64)) == 2 {
			if _, ok := f.Properties["building"]; ok {
				t.Error("feature 2 gained a building column without the option")
			}
		}
	}
}

func TestExtractorReusesCache(t *testing.T) {
	res, _ := straddleDataset(t)

	ex, err := NewExtractor(res.Dir, DefaultExtractorOptions())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	q := Bounds{MinLon: 0, MaxLon: 1, MinLat: 0, MaxLat: 1}
	if _, err := ex.Extract(q, ExtractOptions{}); err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	stats := ex.cache.Stats()
	if stats.ChunkCount == 0 {
		t.Fatal("cache empty after extract")
	}

	if _, err := ex.Extract(q, ExtractOptions{}); err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	again := ex.cache.Stats()
	if again.TotalAccess <= stats.TotalAccess {
		t.Errorf("cache access count did not grow: %d -> %d", stats.TotalAccess, again.TotalAccess)
	}
}
