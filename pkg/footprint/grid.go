package footprint

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
)

// GridOptions configures the adaptive grid partitioner.
type GridOptions struct {
	// MaxPerChunk is the feature-count budget T: no emitted chunk holds
	// more than this many features, except chunks at the cell-size
	// floor. Default: 100000.
	MaxPerChunk int

	// MinCellSize is the minimum cell edge length in degrees. Cells at
	// or below this size are never split, bounding recursion depth on
	// degenerate clusters; such cells are emitted even when over budget.
	// Default: 0.001 (~110 m at the equator).
	MinCellSize float64

	// OutDir receives one file per chunk plus the boundaries file.
	OutDir string

	// Override discards a pre-existing chunk set instead of failing.
	Override bool

	// Compress writes gzip-compressed chunk files.
	Compress bool

	// Progress is an optional callback invoked periodically with the
	// number of features written and the dataset total.
	Progress func(done, total int)
}

// DefaultGridOptions returns grid partitioner options with defaults.
func DefaultGridOptions(outDir string) GridOptions {
	return GridOptions{
		MaxPerChunk: 100000,
		MinCellSize: 0.001,
		OutDir:      outDir,
	}
}

// PartitionResult summarizes one partitioning run.
type PartitionResult struct {
	Dir       string       // Output directory
	IndexPath string       // Path of the boundaries file
	Entries   []ChunkEntry // Emitted chunks, in id order
	Features  int          // Total features partitioned
	Passes    int          // Source passes taken (grid mode)
}

// noChild marks a leaf cell in the arena.
const noChild = int32(-1)

// gridCell is one quadtree cell. Cells live in a flat arena and
// reference children by index, so refinement never recurses and stack
// depth stays constant on pathological single-cluster datasets.
type gridCell struct {
	box      Bounds
	key      string // quadkey: root "0", children append quadrant digit
	count    int
	children [4]int32
}

func newGridCell(box Bounds, key string) gridCell {
	return gridCell{
		box:      box,
		key:      key,
		children: [4]int32{noChild, noChild, noChild, noChild},
	}
}

// PartitionGrid splits a dataset into chunks using an adaptive quadtree
// grid.
//
// The dataset extent (union of all feature envelopes) forms the root
// cell. Any cell holding more than MaxPerChunk features is split into
// four equal quadrants, and every feature is reassigned to the quadrant
// containing its geometry centroid — features are never duplicated, so
// chunk counts stay exact. Refinement repeats until every leaf is
// within budget or at the cell-size floor.
//
// The source is streamed once per refinement pass plus once each for
// the extent and write phases, keeping the working set bounded: only
// cell counters live in memory between passes, never the features.
//
// Each non-empty leaf becomes a chunk identified by its quadkey, with
// its bounding box recorded as the tight union of member envelopes.
// Output is one line-delimited GeoJSON file per chunk plus the
// boundaries file consumed by LoadChunkIndex.
//
// Example:
//
//	src, _ := footprint.OpenSource("Kenya.geojsonl")
//	res, err := footprint.PartitionGrid(src, footprint.DefaultGridOptions("kenya_chunks"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("wrote %d chunks\n", len(res.Entries))
func PartitionGrid(src Source, opts GridOptions) (*PartitionResult, error) {
	if opts.MaxPerChunk <= 0 {
		opts.MaxPerChunk = 100000
	}
	if opts.MinCellSize <= 0 {
		opts.MinCellSize = 0.001
	}

	if err := prepareOutputDir(opts.OutDir, opts.Override); err != nil {
		return nil, err
	}

	// Extent pass: union of all feature envelopes plus the total count.
	var extent Bounds
	total := 0
	for {
		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		env := f.Envelope()
		if total == 0 {
			extent = env
		} else {
			extent = extent.Union(env)
		}
		total++
	}

	result := &PartitionResult{
		Dir:       opts.OutDir,
		IndexPath: filepath.Join(opts.OutDir, BoundariesFile),
	}

	if total == 0 {
		if err := WriteIndex(result.IndexPath, nil); err != nil {
			return nil, err
		}
		return result, nil
	}

	// Refinement passes: count leaf occupancy by centroid, split every
	// over-budget leaf, repeat until stable.
	cells := []gridCell{newGridCell(extent, "0")}
	passes := 0
	for {
		passes++
		for i := range cells {
			cells[i].count = 0
		}

		if err := src.Reset(); err != nil {
			return nil, err
		}
		for {
			f, err := src.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			c := f.Centroid()
			cells[routeCell(cells, c[0], c[1])].count++
		}

		split := false
		for i := 0; i < len(cells); i++ {
			if cells[i].children[0] != noChild {
				continue
			}
			if cells[i].count <= opts.MaxPerChunk {
				continue
			}
			if !splittable(cells[i].box, opts.MinCellSize) {
				continue // at the size floor, emitted over budget
			}
			cells = splitCell(cells, int32(i))
			split = true
		}
		if !split {
			break
		}
	}
	result.Passes = passes

	// Write pass: stream features into per-leaf chunk files, tracking
	// each chunk's tight bounds.
	if err := src.Reset(); err != nil {
		return nil, err
	}
	writers := make(map[int32]*chunkWriter)
	done := 0
	for {
		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			closeWriters(writers)
			return nil, err
		}

		c := f.Centroid()
		leaf := routeCell(cells, c[0], c[1])
		cw, ok := writers[leaf]
		if !ok {
			cw, err = newChunkWriter(opts.OutDir, cells[leaf].key, opts.Compress)
			if err != nil {
				closeWriters(writers)
				return nil, err
			}
			writers[leaf] = cw
		}
		if err := cw.Write(f); err != nil {
			closeWriters(writers)
			return nil, fmt.Errorf("chunk %s: %w", cw.id, err)
		}

		done++
		if opts.Progress != nil && done%1000 == 0 {
			opts.Progress(done, total)
		}
	}
	if opts.Progress != nil {
		opts.Progress(done, total)
	}

	entries := make([]ChunkEntry, 0, len(writers))
	for _, cw := range writers {
		if err := cw.Close(); err != nil {
			return nil, fmt.Errorf("close chunk %s: %w", cw.id, err)
		}
		entries = append(entries, cw.Entry())
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	if err := WriteIndex(result.IndexPath, entries); err != nil {
		return nil, err
	}

	result.Entries = entries
	result.Features = total
	return result, nil
}

// routeCell descends the arena from the root to the leaf whose cell
// contains the centroid (lon, lat).
func routeCell(cells []gridCell, lon, lat float64) int32 {
	i := int32(0)
	for cells[i].children[0] != noChild {
		i = cells[i].children[quadrant(cells[i].box, lon, lat)]
	}
	return i
}

// quadrant picks the child quadrant for a centroid. Quadrants are
// half-open: a centroid exactly on a dividing line belongs to the
// east/north side.
func quadrant(box Bounds, lon, lat float64) int {
	midLon, midLat := box.Center()
	q := 0
	if lon >= midLon {
		q |= 1
	}
	if lat >= midLat {
		q |= 2
	}
	return q
}

// splittable reports whether a cell is above the size floor in both
// axes.
func splittable(box Bounds, minCellSize float64) bool {
	return box.Width()/2 >= minCellSize && box.Height()/2 >= minCellSize
}

// splitCell appends four quadrant children for the cell at index i.
func splitCell(cells []gridCell, i int32) []gridCell {
	parent := cells[i]
	midLon, midLat := parent.box.Center()

	quads := [4]Bounds{
		{MinLon: parent.box.MinLon, MaxLon: midLon, MinLat: parent.box.MinLat, MaxLat: midLat}, // SW
		{MinLon: midLon, MaxLon: parent.box.MaxLon, MinLat: parent.box.MinLat, MaxLat: midLat}, // SE
		{MinLon: parent.box.MinLon, MaxLon: midLon, MinLat: midLat, MaxLat: parent.box.MaxLat}, // NW
		{MinLon: midLon, MaxLon: parent.box.MaxLon, MinLat: midLat, MaxLat: parent.box.MaxLat}, // NE
	}

	for q := 0; q < 4; q++ {
		cells[i].children[q] = int32(len(cells))
		cells = append(cells, newGridCell(quads[q], parent.key+fmt.Sprintf("%d", q)))
	}
	return cells
}

func closeWriters(writers map[int32]*chunkWriter) {
	for _, cw := range writers {
		cw.Close()
	}
}
