package footprint

import (
	"github.com/dhconnelly/rtreego"
)

// ChunkEntry is the indexed metadata for a single chunk: its identifier,
// its bounding box and its feature count.
//
// The box is the tight union of the member features' envelopes, not the
// nominal grid cell, so pruning is as selective as possible.
type ChunkEntry struct {
	ID    string // Chunk identifier (grid quadkey or tile cell number)
	Box   Bounds // Union of member feature envelopes
	Count int    // Number of features in the chunk
}

// Bounds implements the rtreego.Spatial interface.
func (e ChunkEntry) Bounds() rtreego.Rect {
	return e.Box.rect()
}

// ChunkIndex answers "which chunks can intersect box Q" over one
// dataset's chunk set.
//
// The index is loaded from a persisted boundaries file and rebuilt
// wholesale on every partitioning rerun; entries are never removed from
// a loaded index. Above a small size threshold an R-tree provides
// O(log n) pruning; tiny indexes use a plain linear scan, which is both
// simpler and faster at that scale.
//
// Example:
//
//	entries, err := footprint.ReadIndex("chunks/chunk_boundaries.geojson")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	idx := footprint.NewChunkIndex(entries)
//	ids := idx.Candidates(query)
type ChunkIndex struct {
	entries []ChunkEntry
	ordinal map[string]int
	rtree   *rtreego.Rtree // nil below rtreeThreshold
}

// rtreeThreshold is the entry count above which an R-tree is built.
const rtreeThreshold = 16

// NewChunkIndex builds an in-memory index over the given entries.
// Entry order is preserved and determines candidate order.
func NewChunkIndex(entries []ChunkEntry) *ChunkIndex {
	idx := &ChunkIndex{
		entries: entries,
		ordinal: make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		idx.ordinal[e.ID] = i
	}

	if len(entries) >= rtreeThreshold {
		rt := rtreego.NewTree(2, 25, 50)
		for _, e := range entries {
			rt.Insert(e)
		}
		idx.rtree = rt
	}

	return idx
}

// Candidates returns the ids of every chunk whose box intersects q,
// in index entry order (the order chunks were emitted by partitioning),
// so repeated queries traverse chunks deterministically.
//
// Pruning is conservative: a returned chunk may hold no matching
// feature, but no chunk that could hold one is ever omitted.
func (idx *ChunkIndex) Candidates(q Bounds) []string {
	if idx.rtree == nil {
		return idx.candidatesLinear(q)
	}

	// The R-tree search rectangle is padded so boxes that only touch the
	// query edge are never missed; the exact inclusive test below makes
	// the final call.
	spatials := idx.rtree.SearchIntersect(q.Expand(1e-9).rect())

	matched := make([]bool, len(idx.entries))
	for _, sp := range spatials {
		e := sp.(ChunkEntry)
		if e.Box.Intersects(q) {
			matched[idx.ordinal[e.ID]] = true
		}
	}

	var ids []string
	for i, ok := range matched {
		if ok {
			ids = append(ids, idx.entries[i].ID)
		}
	}
	return ids
}

// candidatesLinear is the brute-force strategy used for small indexes.
func (idx *ChunkIndex) candidatesLinear(q Bounds) []string {
	var ids []string
	for _, e := range idx.entries {
		if e.Box.Intersects(q) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Count returns the number of chunks in the index.
func (idx *ChunkIndex) Count() int {
	return len(idx.entries)
}

// Entries returns all index entries in order.
func (idx *ChunkIndex) Entries() []ChunkEntry {
	return idx.entries
}

// Entry returns the entry for a chunk id.
func (idx *ChunkIndex) Entry(id string) (ChunkEntry, bool) {
	i, ok := idx.ordinal[id]
	if !ok {
		return ChunkEntry{}, false
	}
	return idx.entries[i], true
}

// Bounds returns the union of all chunk boxes in the index.
func (idx *ChunkIndex) Bounds() Bounds {
	if len(idx.entries) == 0 {
		return Bounds{}
	}
	b := idx.entries[0].Box
	for i := 1; i < len(idx.entries); i++ {
		b = b.Union(idx.entries[i].Box)
	}
	return b
}
