package footprint

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// BoundariesFile is the name of the per-directory index file listing
// every chunk's identifier and bounding box.
const BoundariesFile = "chunk_boundaries.geojson"

// WriteIndex persists chunk index entries as a GeoJSON feature
// collection: one boundary polygon per chunk with chunk_id and
// feature_count properties.
//
// ReadIndex reproduces the exact entry set, including order.
func WriteIndex(path string, entries []ChunkEntry) error {
	fc := geojson.NewFeatureCollection()
	for _, e := range entries {
		f := geojson.NewFeature(boundsPolygon(e.Box))
		f.Properties = geojson.Properties{
			"chunk_id":      e.ID,
			"feature_count": e.Count,
		}
		fc.Append(f)
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// ReadIndex loads chunk index entries from a boundaries file.
func ReadIndex(path string) ([]ChunkEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, &ErrSourceFormat{Path: path, Reason: fmt.Sprintf("boundaries file: %v", err)}
	}

	entries := make([]ChunkEntry, 0, len(fc.Features))
	for i, f := range fc.Features {
		id, ok := f.Properties["chunk_id"].(string)
		if !ok || id == "" {
			return nil, &ErrSourceFormat{Path: path, Record: i + 1, Reason: "boundary entry has no chunk_id"}
		}
		if f.Geometry == nil {
			return nil, &ErrSourceFormat{Path: path, Record: i + 1, Reason: "boundary entry has no geometry"}
		}
		count := 0
		if n, ok := f.Properties["feature_count"].(float64); ok {
			count = int(n)
		}
		entries = append(entries, ChunkEntry{
			ID:    id,
			Box:   FromOrbBound(f.Geometry.Bound()),
			Count: count,
		})
	}
	return entries, nil
}

// LoadChunkIndex reads the boundaries file of a partition directory and
// builds the in-memory chunk index over it.
func LoadChunkIndex(dir string) (*ChunkIndex, error) {
	entries, err := ReadIndex(filepath.Join(dir, BoundariesFile))
	if err != nil {
		return nil, err
	}
	return NewChunkIndex(entries), nil
}

// ChunkPath returns the file path for a chunk id within a partition
// directory.
func ChunkPath(dir, id string, compress bool) string {
	name := "chunk_" + id + ".geojsonl"
	if compress {
		name += ".gz"
	}
	return filepath.Join(dir, name)
}

// ReadChunk loads every feature of one chunk. Both plain and gzip
// compressed chunk files are recognized.
func ReadChunk(dir, id string) ([]Feature, error) {
	path := ChunkPath(dir, id, false)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ChunkPath(dir, id, true)
	}

	src, err := OpenSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var features []Feature
	for {
		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, nil
}

// WriteCollection persists the final output feature collection.
func WriteCollection(path string, fc *geojson.FeatureCollection) error {
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write collection: %w", err)
	}
	return nil
}

// boundsPolygon converts a bounding box to its closed boundary ring.
func boundsPolygon(b Bounds) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{b.MinLon, b.MinLat},
		{b.MaxLon, b.MinLat},
		{b.MaxLon, b.MaxLat},
		{b.MinLon, b.MaxLat},
		{b.MinLon, b.MinLat},
	}}
}

// prepareOutputDir ensures an empty output directory for a partitioning
// run.
//
// A pre-existing non-empty directory without override fails with
// ErrPartitionIO; a partially written chunk set from an interrupted run
// is indistinguishable from a complete one here, so override is the
// only way past it. With override the directory is removed and rebuilt.
func prepareOutputDir(dir string, override bool) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		// Fresh directory below.
	case err != nil:
		return fmt.Errorf("stat output dir: %w", err)
	case !info.IsDir():
		return &ErrPartitionIO{Dir: dir, Reason: "exists and is not a directory"}
	case override:
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove output dir: %w", err)
		}
	default:
		names, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read output dir: %w", err)
		}
		if len(names) > 0 {
			return &ErrPartitionIO{Dir: dir, Reason: "already contains files (rerun with override to rebuild)"}
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}

// chunkWriter appends features to one chunk file, tracking the tight
// bounds and count for the index entry.
type chunkWriter struct {
	id    string
	file  *os.File
	gz    *gzip.Writer
	buf   *bufio.Writer
	box   Bounds
	count int
}

func newChunkWriter(dir, id string, compress bool) (*chunkWriter, error) {
	f, err := os.Create(ChunkPath(dir, id, compress))
	if err != nil {
		return nil, fmt.Errorf("create chunk %s: %w", id, err)
	}

	cw := &chunkWriter{id: id, file: f}
	if compress {
		cw.gz = gzip.NewWriter(f)
		cw.buf = bufio.NewWriter(cw.gz)
	} else {
		cw.buf = bufio.NewWriter(f)
	}
	return cw, nil
}

func (cw *chunkWriter) Write(f Feature) error {
	data, err := json.Marshal(f.ToGeoJSON())
	if err != nil {
		return fmt.Errorf("encode feature: %w", err)
	}
	if _, err := cw.buf.Write(data); err != nil {
		return err
	}
	if err := cw.buf.WriteByte('\n'); err != nil {
		return err
	}

	env := f.Envelope()
	if cw.count == 0 {
		cw.box = env
	} else {
		cw.box = cw.box.Union(env)
	}
	cw.count++
	return nil
}

func (cw *chunkWriter) Close() error {
	if err := cw.buf.Flush(); err != nil {
		return err
	}
	if cw.gz != nil {
		if err := cw.gz.Close(); err != nil {
			return err
		}
	}
	return cw.file.Close()
}

// Entry returns the index entry for the written chunk.
func (cw *chunkWriter) Entry() ChunkEntry {
	return ChunkEntry{ID: cw.id, Box: cw.box, Count: cw.count}
}
