// Package footprint partitions large building-footprint datasets into
// bounded-size geographic chunks and answers bounding-box queries against
// the chunked form.
//
// National-scale footprint datasets hold millions of polygons and do not
// fit in memory. The package splits them two ways:
//
//   - PartitionGrid adaptively subdivides a dataset's extent into a
//     quadtree grid whose leaves each hold at most a configured number of
//     features. Used for datasets downloaded as one large collection.
//   - PartitionTile bins one pre-published tile's dataset into a fixed
//     uniform grid derived from a reference tiling. Used for datasets
//     distributed as per-tile files.
//
// Both write one file per chunk plus a boundaries file recording each
// chunk's bounding box. Extraction consults only the boundaries (via an
// R-tree chunk index) to decide which chunk files can possibly intersect
// a query box, then runs exact geometry tests on the surviving chunks:
//
//	ex, err := footprint.NewExtractor("mexico_chunks", footprint.DefaultExtractorOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	query, err := footprint.NormalizeCorners(
//	    footprint.Corner{Lat: 19.5, Lon: -99.3},
//	    footprint.Corner{Lat: 19.3, Lon: -99.0},
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fc, err := ex.Extract(query, footprint.ExtractOptions{})
//
// Features are assigned to exactly one chunk by geometry centroid. A
// polygon straddling a chunk boundary still matches queries that overlap
// only its neighbouring chunk, because extraction always tests the full
// geometry; chunk membership is a pruning artifact, never a correctness
// boundary.
package footprint

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Feature is one record of a footprint dataset: an owned geometry
// (typically a polygon or multi-polygon) plus its attributes.
//
// A Feature belongs to exactly one chunk after partitioning. Features are
// value-like and never mutated after construction.
type Feature struct {
	// Geometry is the spatial representation in WGS-84 decimal degrees,
	// GeoJSON axis order ([lon, lat]).
	Geometry orb.Geometry

	// Properties holds the feature's attributes by name.
	Properties geojson.Properties
}

// Envelope returns the axis-aligned bounding box of the feature geometry.
func (f Feature) Envelope() Bounds {
	return FromOrbBound(f.Geometry.Bound())
}

// Centroid returns the geometry centroid used for chunk assignment.
func (f Feature) Centroid() orb.Point {
	c, _ := planar.CentroidArea(f.Geometry)
	return c
}

// ToGeoJSON converts the feature to its GeoJSON representation.
//
// The returned feature shares the geometry but copies the property map,
// so callers may augment the result without mutating the source.
func (f Feature) ToGeoJSON() *geojson.Feature {
	gf := geojson.NewFeature(f.Geometry)
	gf.Properties = make(geojson.Properties, len(f.Properties))
	for k, v := range f.Properties {
		gf.Properties[k] = v
	}
	return gf
}

// FromGeoJSON converts a decoded GeoJSON feature.
func FromGeoJSON(gf *geojson.Feature) Feature {
	return Feature{
		Geometry:   gf.Geometry,
		Properties: gf.Properties,
	}
}
