package footprint

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// Bounds is a geographic bounding box in WGS-84 decimal degrees.
//
// Invariant: MinLon <= MaxLon and MinLat <= MaxLat. Bounds values are
// immutable; operations return new values.
type Bounds struct {
	MinLon float64 // Western edge
	MaxLon float64 // Eastern edge
	MinLat float64 // Southern edge
	MaxLat float64 // Northern edge
}

// Corner is one corner of a query box, in latitude/longitude order as
// supplied on the command line.
type Corner struct {
	Lat float64
	Lon float64
}

// NormalizeCorners builds a canonical Bounds from two opposite corners
// supplied in either order (top-left/bottom-right or any other pairing).
//
// Returns ErrInvalidBox if a coordinate is NaN or outside ±90 latitude /
// ±180 longitude.
func NormalizeCorners(a, b Corner) (Bounds, error) {
	for _, c := range []Corner{a, b} {
		if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
			return Bounds{}, &ErrInvalidBox{Lat: c.Lat, Lon: c.Lon, Reason: "coordinate is NaN"}
		}
		if c.Lat < -90 || c.Lat > 90 {
			return Bounds{}, &ErrInvalidBox{Lat: c.Lat, Lon: c.Lon, Reason: "latitude outside ±90"}
		}
		if c.Lon < -180 || c.Lon > 180 {
			return Bounds{}, &ErrInvalidBox{Lat: c.Lat, Lon: c.Lon, Reason: "longitude outside ±180"}
		}
	}
	return Bounds{
		MinLon: math.Min(a.Lon, b.Lon),
		MaxLon: math.Max(a.Lon, b.Lon),
		MinLat: math.Min(a.Lat, b.Lat),
		MaxLat: math.Max(a.Lat, b.Lat),
	}, nil
}

// Contains returns true if the point (lon, lat) is within the bounds.
// Edges are inclusive.
func (b Bounds) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon &&
		lat >= b.MinLat && lat <= b.MaxLat
}

// Intersects returns true if the given bounds overlaps this bounds.
//
// Boundaries are inclusive: boxes that merely share an edge or a corner
// intersect. A query box edge exactly on a chunk edge therefore still
// selects that chunk, so boundary features are never silently dropped.
func (b Bounds) Intersects(other Bounds) bool {
	return !(other.MaxLon < b.MinLon ||
		other.MinLon > b.MaxLon ||
		other.MaxLat < b.MinLat ||
		other.MinLat > b.MaxLat)
}

// Union returns the smallest bounds containing both boxes.
func (b Bounds) Union(other Bounds) Bounds {
	return Bounds{
		MinLon: math.Min(b.MinLon, other.MinLon),
		MaxLon: math.Max(b.MaxLon, other.MaxLon),
		MinLat: math.Min(b.MinLat, other.MinLat),
		MaxLat: math.Max(b.MaxLat, other.MaxLat),
	}
}

// Expand returns a new Bounds expanded by the given margin in all
// directions. Margin is in decimal degrees.
func (b Bounds) Expand(margin float64) Bounds {
	return Bounds{
		MinLon: b.MinLon - margin,
		MaxLon: b.MaxLon + margin,
		MinLat: b.MinLat - margin,
		MaxLat: b.MaxLat + margin,
	}
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() (lon, lat float64) {
	return (b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2
}

// Width returns the longitude span in degrees.
func (b Bounds) Width() float64 { return b.MaxLon - b.MinLon }

// Height returns the latitude span in degrees.
func (b Bounds) Height() float64 { return b.MaxLat - b.MinLat }

// ToOrb converts to an orb.Bound.
func (b Bounds) ToOrb() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// FromOrbBound converts an orb.Bound (geometry envelope).
func FromOrbBound(ob orb.Bound) Bounds {
	return Bounds{
		MinLon: ob.Min[0],
		MaxLon: ob.Max[0],
		MinLat: ob.Min[1],
		MaxLat: ob.Max[1],
	}
}

// rect converts to an R-tree rectangle.
//
// R-tree rectangles need non-zero side lengths, so degenerate boxes
// (single-feature chunks, point envelopes) are padded by a small epsilon
// (~11 meters at the equator).
func (b Bounds) rect() rtreego.Rect {
	point := rtreego.Point{b.MinLon, b.MinLat}

	lonLength := b.MaxLon - b.MinLon
	latLength := b.MaxLat - b.MinLat

	const epsilon = 0.0001
	if lonLength < epsilon {
		lonLength = epsilon
	}
	if latLength < epsilon {
		latLength = epsilon
	}

	rect, _ := rtreego.NewRect(point, []float64{lonLength, latLength})
	return rect
}
