package footprint

import (
	"fmt"
)

// ErrInvalidBox indicates a query corner coordinate out of valid bounds.
type ErrInvalidBox struct {
	Lat, Lon float64
	Reason   string
}

func (e *ErrInvalidBox) Error() string {
	return fmt.Sprintf("invalid box corner: lat=%f lon=%f (%s)", e.Lat, e.Lon, e.Reason)
}

// ErrSourceFormat indicates an unreadable or malformed input record.
type ErrSourceFormat struct {
	Path   string
	Record int // 1-based record or line number, 0 if not applicable
	Reason string
}

func (e *ErrSourceFormat) Error() string {
	if e.Record > 0 {
		return fmt.Sprintf("malformed record %d in %s: %s", e.Record, e.Path, e.Reason)
	}
	return fmt.Sprintf("malformed source %s: %s", e.Path, e.Reason)
}

// ErrPartitionIO indicates an output collision: the partition output
// directory already holds data and override was not requested.
type ErrPartitionIO struct {
	Dir    string
	Reason string
}

func (e *ErrPartitionIO) Error() string {
	return fmt.Sprintf("partition output %s: %s", e.Dir, e.Reason)
}

// ErrUnknownTile indicates a tile id absent from the reference tiling.
type ErrUnknownTile struct {
	TileID string
}

func (e *ErrUnknownTile) Error() string {
	return fmt.Sprintf("tile %q not found in reference tiling", e.TileID)
}
