package footprint

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// extraFieldNames is the fixed, caller-independent column list appended
// to every output feature when ExtractOptions.ExtraFields is set. The
// values are empty; downstream classification tooling fills them in.
var extraFieldNames = []string{
	"building",
	"man_made",
	"aeroway",
	"military",
	"tower",
	"bms",
	"power",
	"leisure",
	"religion",
	"sport",
	"barrier",
}

// ExtractOptions configures extraction behavior.
type ExtractOptions struct {
	// ExtraFields appends the fixed named-column list to every output
	// feature with empty values (schema augmentation only).
	ExtraFields bool

	// Progress is an optional callback invoked per scanned chunk/file.
	Progress func(done, total int)
}

// GeometryIntersects reports whether a geometry intersects the bounding
// box. This is the exact test: the full geometry is evaluated, not just
// its envelope, so a polygon assigned to one chunk by centroid still
// matches queries overlapping only the neighbouring chunk it spills
// into.
func GeometryIntersects(g orb.Geometry, b Bounds) bool {
	if g == nil {
		return false
	}
	if !b.Intersects(FromOrbBound(g.Bound())) {
		return false
	}

	switch geom := g.(type) {
	case orb.Point:
		return b.Contains(geom[0], geom[1])
	case orb.MultiPoint:
		for _, p := range geom {
			if b.Contains(p[0], p[1]) {
				return true
			}
		}
		return false
	case orb.LineString:
		return lineIntersects(geom, b)
	case orb.MultiLineString:
		for _, ls := range geom {
			if lineIntersects(ls, b) {
				return true
			}
		}
		return false
	case orb.Ring:
		return polygonIntersects(orb.Polygon{geom}, b)
	case orb.Polygon:
		return polygonIntersects(geom, b)
	case orb.MultiPolygon:
		for _, p := range geom {
			if polygonIntersects(p, b) {
				return true
			}
		}
		return false
	case orb.Collection:
		for _, sub := range geom {
			if GeometryIntersects(sub, b) {
				return true
			}
		}
		return false
	case orb.Bound:
		// Envelope check above is exact for a bound.
		return true
	}
	return false
}

// polygonIntersects tests a polygon (outer ring plus holes) against a
// box. Three cases cover every configuration: a ring vertex inside the
// box, a box corner inside the polygon (box fully interior), or a ring
// edge crossing a box edge.
func polygonIntersects(p orb.Polygon, b Bounds) bool {
	if len(p) == 0 {
		return false
	}

	for _, ring := range p {
		for _, pt := range ring {
			if b.Contains(pt[0], pt[1]) {
				return true
			}
		}
	}

	for _, corner := range boxCorners(b) {
		if planar.PolygonContains(p, corner) {
			return true
		}
	}

	for _, ring := range p {
		for i := 0; i+1 < len(ring); i++ {
			if segmentIntersectsBox(ring[i], ring[i+1], b) {
				return true
			}
		}
	}
	return false
}

func lineIntersects(ls orb.LineString, b Bounds) bool {
	for _, pt := range ls {
		if b.Contains(pt[0], pt[1]) {
			return true
		}
	}
	for i := 0; i+1 < len(ls); i++ {
		if segmentIntersectsBox(ls[i], ls[i+1], b) {
			return true
		}
	}
	return false
}

func boxCorners(b Bounds) [4]orb.Point {
	return [4]orb.Point{
		{b.MinLon, b.MinLat},
		{b.MaxLon, b.MinLat},
		{b.MaxLon, b.MaxLat},
		{b.MinLon, b.MaxLat},
	}
}

// segmentIntersectsBox tests one geometry edge against the four box
// edges. Endpoints inside the box are handled by the vertex checks in
// the callers, so only true edge crossings matter here.
func segmentIntersectsBox(a, c orb.Point, b Bounds) bool {
	corners := boxCorners(b)
	for i := 0; i < 4; i++ {
		if segmentsIntersect(a, c, corners[i], corners[(i+1)%4]) {
			return true
		}
	}
	return false
}

// segmentsIntersect is the standard orientation test, counting touching
// and collinear overlap as intersection (consistent with the inclusive
// box semantics).
func segmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	if d1 == 0 && onSegment(p3, p4, p1) {
		return true
	}
	if d2 == 0 && onSegment(p3, p4, p2) {
		return true
	}
	if d3 == 0 && onSegment(p1, p2, p3) {
		return true
	}
	if d4 == 0 && onSegment(p1, p2, p4) {
		return true
	}
	return false
}

// cross returns the cross product of (b-a) × (p-a).
func cross(a, b, p orb.Point) float64 {
	return (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
}

// onSegment reports whether p, known collinear with a-b, lies on the
// segment.
func onSegment(a, b, p orb.Point) bool {
	return p[0] >= minf(a[0], b[0]) && p[0] <= maxf(a[0], b[0]) &&
		p[1] >= minf(a[1], b[1]) && p[1] <= maxf(a[1], b[1])
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ExtractDirect scans feature files without a chunk index and returns
// every feature whose geometry intersects the query box.
//
// The path may be a single dataset file or a directory of chunk/feature
// files; directories are scanned in sorted filename order and matches
// appended in input-file then input order. Zero matches yields an empty
// collection, not an error.
func ExtractDirect(path string, q Bounds, opts ExtractOptions) (*geojson.FeatureCollection, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}

	var files []string
	if info.IsDir() {
		files, err = listFeatureFiles(path)
		if err != nil {
			return nil, err
		}
	} else {
		files = []string{path}
	}

	fc := geojson.NewFeatureCollection()
	for i, file := range files {
		if err := scanFile(file, q, opts, fc); err != nil {
			return nil, err
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(files))
		}
	}
	return fc, nil
}

// scanFile streams one file and appends exact-test matches.
func scanFile(path string, q Bounds, opts ExtractOptions, fc *geojson.FeatureCollection) error {
	src, err := OpenSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	for {
		f, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if GeometryIntersects(f.Geometry, q) {
			fc.Append(outputFeature(f, opts))
		}
	}
}

// listFeatureFiles returns the data files of a directory in sorted
// order, skipping the boundaries file.
func listFeatureFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == BoundariesFile {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".gz")
		switch filepath.Ext(name) {
		case ".geojson", ".geojsonl", ".ndjson", ".jsonl", ".json", ".csv":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// outputFeature converts a match to its output form, applying schema
// augmentation when requested.
func outputFeature(f Feature, opts ExtractOptions) *geojson.Feature {
	gf := f.ToGeoJSON()
	if opts.ExtraFields {
		for _, name := range extraFieldNames {
			if _, ok := gf.Properties[name]; !ok {
				gf.Properties[name] = ""
			}
		}
	}
	return gf
}

// ExtractorOptions configures an indexed extractor.
type ExtractorOptions struct {
	// CacheSize is the approximate memory budget in bytes for decoded
	// chunks kept across queries. Zero means the 256MB default; a
	// negative value disables caching entirely.
	CacheSize int64
}

// DefaultExtractorOptions returns extractor options with defaults.
func DefaultExtractorOptions() ExtractorOptions {
	return ExtractorOptions{CacheSize: 256 * 1024 * 1024}
}

// Extractor answers bounding-box queries against a partitioned dataset
// using its chunk index.
//
// A query first asks the index for candidate chunks (pruning by chunk
// box), then exact-tests only those chunks' features. Decoded chunks
// are kept in an LRU cache so repeated queries over the same region do
// not re-read files.
//
// Example:
//
//	ex, err := footprint.NewExtractor("0fd_chunks", footprint.DefaultExtractorOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fc, err := ex.Extract(query, footprint.ExtractOptions{ExtraFields: true})
type Extractor struct {
	dir   string
	index *ChunkIndex
	cache *ChunkCache
}

// NewExtractor loads the chunk index of a partition directory.
func NewExtractor(dir string, opts ExtractorOptions) (*Extractor, error) {
	index, err := LoadChunkIndex(dir)
	if err != nil {
		return nil, err
	}

	ex := &Extractor{dir: dir, index: index}
	if opts.CacheSize >= 0 {
		size := opts.CacheSize
		if size == 0 {
			size = DefaultExtractorOptions().CacheSize
		}
		ex.cache = NewChunkCache(size)
	}
	return ex, nil
}

// Index returns the loaded chunk index.
func (e *Extractor) Index() *ChunkIndex { return e.index }

// Extract returns every feature of the dataset whose geometry
// intersects the query box.
//
// Candidate chunks come from the index in partition order; within a
// chunk, matches keep file order. Zero matches yields an empty
// collection, not an error.
func (e *Extractor) Extract(q Bounds, opts ExtractOptions) (*geojson.FeatureCollection, error) {
	ids := e.index.Candidates(q)

	fc := geojson.NewFeatureCollection()
	for i, id := range ids {
		features, err := e.chunkFeatures(id)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", id, err)
		}
		for _, f := range features {
			if GeometryIntersects(f.Geometry, q) {
				fc.Append(outputFeature(f, opts))
			}
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(ids))
		}
	}
	return fc, nil
}

func (e *Extractor) chunkFeatures(id string) ([]Feature, error) {
	if e.cache == nil {
		return ReadChunk(e.dir, id)
	}
	return e.cache.Get(id, func() ([]Feature, error) {
		return ReadChunk(e.dir, id)
	})
}
