package footprint

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Tile is one region of the reference tiling under which a footprint
// dataset is pre-published.
type Tile struct {
	ID      string       // tile_id property
	URL     string       // tile_url property (dataset download location)
	SizeMB  float64      // size_mb property (published dataset size)
	Polygon orb.Geometry // Tile outline
	Box     Bounds       // Envelope of the outline
}

// Tiling is the reference tiling: the set of externally defined tile
// polygons keyed by tile id. It is loaded once at process start.
//
// Example:
//
//	tiling, err := footprint.LoadTiling("tiles.geojson")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tile, err := tiling.Lookup("0fd")
type Tiling struct {
	tiles map[string]Tile
	order []string
}

// LoadTiling reads a reference tiling from a GeoJSON file of tile
// polygons carrying tile_id properties.
func LoadTiling(path string) (*Tiling, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiling: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, &ErrSourceFormat{Path: path, Reason: fmt.Sprintf("tiling file: %v", err)}
	}

	t := &Tiling{tiles: make(map[string]Tile, len(fc.Features))}
	for i, f := range fc.Features {
		id := propString(f.Properties, "tile_id")
		if id == "" {
			return nil, &ErrSourceFormat{Path: path, Record: i + 1, Reason: "tile has no tile_id"}
		}
		if f.Geometry == nil {
			return nil, &ErrSourceFormat{Path: path, Record: i + 1, Reason: fmt.Sprintf("tile %s has no geometry", id)}
		}

		sizeMB := 0.0
		if v, ok := f.Properties["size_mb"].(float64); ok {
			sizeMB = v
		}

		t.tiles[id] = Tile{
			ID:      id,
			URL:     propString(f.Properties, "tile_url"),
			SizeMB:  sizeMB,
			Polygon: f.Geometry,
			Box:     FromOrbBound(f.Geometry.Bound()),
		}
		t.order = append(t.order, id)
	}
	return t, nil
}

// Lookup returns the tile for an id, or ErrUnknownTile if the tiling
// does not define it.
func (t *Tiling) Lookup(id string) (Tile, error) {
	tile, ok := t.tiles[id]
	if !ok {
		return Tile{}, &ErrUnknownTile{TileID: id}
	}
	return tile, nil
}

// Count returns the number of tiles in the tiling.
func (t *Tiling) Count() int { return len(t.tiles) }

// IDs returns all tile ids in file order.
func (t *Tiling) IDs() []string { return t.order }

// TileOptions configures the tile-binned partitioner.
type TileOptions struct {
	// Chunks is the desired sub-chunk count N. The tile's box is cut
	// into a ⌊√N⌋×⌊√N⌋ grid; only non-empty cells become chunks.
	// Default: 1000.
	Chunks int

	// OutDir receives one file per chunk plus the boundaries file.
	OutDir string

	// Override discards a pre-existing chunk set instead of failing.
	Override bool

	// Compress writes gzip-compressed chunk files.
	Compress bool

	// Progress is an optional callback invoked periodically with the
	// number of features binned so far (total is unknown up front for
	// streamed sources and reported as 0).
	Progress func(done, total int)
}

// DefaultTileOptions returns tile partitioner options with defaults.
func DefaultTileOptions(outDir string) TileOptions {
	return TileOptions{
		Chunks: 1000,
		OutDir: outDir,
	}
}

// PartitionTile bins one tile's dataset into a fixed uniform grid of
// sub-chunks.
//
// The tile's bounding box comes from the reference tiling; it is divided
// into a ⌊√N⌋×⌊√N⌋ grid of equal cells. A tile's extent is already
// bounded and its record density roughly uniform, so uniform binning
// reaches the per-chunk size target without the adaptive splitting the
// global path needs. Each feature lands in the cell containing its
// geometry centroid — the same single-owner rule as the adaptive grid,
// with the same tie-break (a centroid exactly on a cell line goes
// east/north).
//
// Chunks are numbered row-major (`row*side + col`). Output matches
// PartitionGrid: one line-delimited GeoJSON file per non-empty cell
// plus the boundaries file with tight per-chunk bounds.
func PartitionTile(tiling *Tiling, tileID string, src Source, opts TileOptions) (*PartitionResult, error) {
	tile, err := tiling.Lookup(tileID)
	if err != nil {
		return nil, err
	}

	if opts.Chunks <= 0 {
		opts.Chunks = 1000
	}
	side := int(math.Sqrt(float64(opts.Chunks)))
	if side < 1 {
		side = 1
	}

	if err := prepareOutputDir(opts.OutDir, opts.Override); err != nil {
		return nil, err
	}

	dLon := tile.Box.Width() / float64(side)
	dLat := tile.Box.Height() / float64(side)

	writers := make(map[int]*chunkWriter)
	done := 0
	for {
		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			closeTileWriters(writers)
			return nil, err
		}

		c := f.Centroid()
		cell := binCell(tile.Box, side, dLon, dLat, c[0], c[1])

		cw, ok := writers[cell]
		if !ok {
			cw, err = newChunkWriter(opts.OutDir, strconv.Itoa(cell), opts.Compress)
			if err != nil {
				closeTileWriters(writers)
				return nil, err
			}
			writers[cell] = cw
		}
		if err := cw.Write(f); err != nil {
			closeTileWriters(writers)
			return nil, fmt.Errorf("chunk %s: %w", cw.id, err)
		}

		done++
		if opts.Progress != nil && done%1000 == 0 {
			opts.Progress(done, 0)
		}
	}
	if opts.Progress != nil {
		opts.Progress(done, 0)
	}

	cellIDs := make([]int, 0, len(writers))
	for cell := range writers {
		cellIDs = append(cellIDs, cell)
	}
	sort.Ints(cellIDs)

	entries := make([]ChunkEntry, 0, len(cellIDs))
	for _, cell := range cellIDs {
		cw := writers[cell]
		if err := cw.Close(); err != nil {
			return nil, fmt.Errorf("close chunk %s: %w", cw.id, err)
		}
		entries = append(entries, cw.Entry())
	}

	indexPath := filepath.Join(opts.OutDir, BoundariesFile)
	if err := WriteIndex(indexPath, entries); err != nil {
		return nil, err
	}

	return &PartitionResult{
		Dir:       opts.OutDir,
		IndexPath: indexPath,
		Entries:   entries,
		Features:  done,
	}, nil
}

// binCell maps a centroid to its row-major grid cell index. Cells are
// half-open; centroids on or beyond the tile box edge clamp into the
// outermost row/column, so no feature is lost to rounding.
func binCell(box Bounds, side int, dLon, dLat, lon, lat float64) int {
	col := 0
	if dLon > 0 {
		col = int((lon - box.MinLon) / dLon)
	}
	row := 0
	if dLat > 0 {
		row = int((lat - box.MinLat) / dLat)
	}

	if col < 0 {
		col = 0
	} else if col >= side {
		col = side - 1
	}
	if row < 0 {
		row = 0
	} else if row >= side {
		row = side - 1
	}
	return row*side + col
}

func closeTileWriters(writers map[int]*chunkWriter) {
	for _, cw := range writers {
		cw.Close()
	}
}

func propString(props geojson.Properties, key string) string {
	s, _ := props[key].(string)
	return s
}
