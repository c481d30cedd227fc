// Command footprint partitions building-footprint datasets into
// spatially coherent chunks and extracts features by bounding box.
//
// Usage:
//
//	footprint partition -in Kenya.geojsonl -out kenya_chunks -max-per-chunk 100000
//	footprint partition -in 0fd.csv.gz -out 0fd_chunks -tiles tiles.geojson -tile 0fd
//	footprint extract -in kenya_chunks -c1 "1.30,36.70" -c2 "1.20,36.90" -out nairobi.geojson
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/inconshreveable/log15"
	"github.com/paulmach/orb/geojson"

	"github.com/openfootprint/footprint/pkg/footprint"
)

const (
	exitUsage     = 2
	exitInvalid   = 3 // bad query box or arguments
	exitSource    = 4 // malformed input dataset
	exitPartition = 5 // output directory conflicts
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	var err error
	switch os.Args[1] {
	case "partition":
		err = runPartition(os.Args[2:])
	case "extract":
		err = runExtract(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(exitUsage)
	}

	if err != nil {
		log.Error(err.Error())
		os.Exit(exitCode(err))
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `footprint - building footprint partitioning and extraction

Commands:
  partition   split a dataset into spatial chunks with a boundaries index
  extract     query features by bounding box

Run "footprint <command> -h" for command flags.
`)
}

// exitCode maps error kinds to process exit codes so scripted callers
// can tell user errors from data errors.
func exitCode(err error) int {
	var invalidBox *footprint.ErrInvalidBox
	var srcFormat *footprint.ErrSourceFormat
	var partIO *footprint.ErrPartitionIO
	var unknownTile *footprint.ErrUnknownTile

	switch {
	case errors.As(err, &invalidBox), errors.As(err, &unknownTile):
		return exitInvalid
	case errors.As(err, &srcFormat):
		return exitSource
	case errors.As(err, &partIO):
		return exitPartition
	}
	return 1
}

func runPartition(args []string) error {
	fs := flag.NewFlagSet("partition", flag.ExitOnError)
	in := fs.String("in", "", "input dataset file (geojson, geojsonl, csv; optionally .gz)")
	out := fs.String("out", "", "output chunk directory")
	maxPerChunk := fs.Int("max-per-chunk", 0, "feature budget per chunk (grid mode, default 100000)")
	minCellSize := fs.Float64("min-cell-size", 0, "minimum cell edge in degrees (grid mode, default 0.001)")
	tilesPath := fs.String("tiles", "", "reference tiling file (switches to tile-binned mode)")
	tileID := fs.String("tile", "", "tile id of the input dataset (tile-binned mode)")
	chunks := fs.Int("chunks", 0, "target sub-chunk count (tile-binned mode, default 1000)")
	override := fs.Bool("override", false, "replace an existing chunk directory")
	compress := fs.Bool("compress", false, "gzip chunk files")
	configPath := fs.String("config", "", "YAML config file with defaults")
	quiet := fs.Bool("quiet", false, "suppress progress logging")
	fs.Parse(args)

	if *in == "" || *out == "" {
		fs.Usage()
		return fmt.Errorf("partition: -in and -out are required")
	}
	if (*tilesPath == "") != (*tileID == "") {
		return fmt.Errorf("partition: -tiles and -tile must be given together")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *maxPerChunk == 0 {
		*maxPerChunk = cfg.MaxPerChunk
	}
	if *minCellSize == 0 {
		*minCellSize = cfg.MinCellSize
	}
	if *chunks == 0 {
		*chunks = cfg.Chunks
	}
	if cfg.Compress {
		*compress = true
	}

	src, err := footprint.OpenSource(*in)
	if err != nil {
		return err
	}
	defer src.Close()

	progress := func(done, total int) {
		if *quiet {
			return
		}
		if total > 0 {
			log.Info("partitioning", "features", done, "total", total)
		} else {
			log.Info("partitioning", "features", done)
		}
	}

	var res *footprint.PartitionResult
	if *tilesPath != "" {
		tiling, err := footprint.LoadTiling(*tilesPath)
		if err != nil {
			return err
		}
		opts := footprint.DefaultTileOptions(*out)
		if *chunks > 0 {
			opts.Chunks = *chunks
		}
		opts.Override = *override
		opts.Compress = *compress
		opts.Progress = progress

		log.Info("partitioning tile dataset", "input", *in, "tile", *tileID, "chunks", opts.Chunks)
		res, err = footprint.PartitionTile(tiling, *tileID, src, opts)
		if err != nil {
			return err
		}
	} else {
		opts := footprint.DefaultGridOptions(*out)
		if *maxPerChunk > 0 {
			opts.MaxPerChunk = *maxPerChunk
		}
		if *minCellSize > 0 {
			opts.MinCellSize = *minCellSize
		}
		opts.Override = *override
		opts.Compress = *compress
		opts.Progress = progress

		log.Info("partitioning dataset", "input", *in, "maxPerChunk", opts.MaxPerChunk)
		res, err = footprint.PartitionGrid(src, opts)
		if err != nil {
			return err
		}
		log.Debug("grid refinement finished", "passes", res.Passes)
	}

	log.Info("partitioning complete",
		"chunks", len(res.Entries),
		"features", res.Features,
		"index", res.IndexPath)
	return nil
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	in := fs.String("in", "", "chunk directory (indexed) or dataset file/directory (-direct)")
	out := fs.String("out", "", "output GeoJSON file (default stdout)")
	c1 := fs.String("c1", "", "first query corner as \"lat,lon\"")
	c2 := fs.String("c2", "", "opposite query corner as \"lat,lon\"")
	direct := fs.Bool("direct", false, "scan input files without a chunk index")
	extraFields := fs.Bool("extra-fields", false, "append the empty classification columns to every feature")
	cacheSizeMB := fs.Int64("cache-size", 0, "chunk cache budget in MB (default 256)")
	configPath := fs.String("config", "", "YAML config file with defaults")
	fs.Parse(args)

	if *in == "" || *c1 == "" || *c2 == "" {
		fs.Usage()
		return fmt.Errorf("extract: -in, -c1 and -c2 are required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *cacheSizeMB == 0 {
		*cacheSizeMB = cfg.CacheSizeMB
	}

	a, err := parseCorner(*c1)
	if err != nil {
		return err
	}
	b, err := parseCorner(*c2)
	if err != nil {
		return err
	}
	query, err := footprint.NormalizeCorners(a, b)
	if err != nil {
		return err
	}

	opts := footprint.ExtractOptions{ExtraFields: *extraFields}

	var fc *geojson.FeatureCollection
	if *direct {
		log.Info("scanning dataset", "input", *in)
		fc, err = footprint.ExtractDirect(*in, query, opts)
		if err != nil {
			return err
		}
	} else {
		exOpts := footprint.DefaultExtractorOptions()
		if *cacheSizeMB > 0 {
			exOpts.CacheSize = *cacheSizeMB * 1024 * 1024
		}
		ex, err := footprint.NewExtractor(*in, exOpts)
		if err != nil {
			return err
		}
		log.Info("querying chunk index", "dir", *in, "chunks", ex.Index().Count())
		fc, err = ex.Extract(query, opts)
		if err != nil {
			return err
		}
	}

	if len(fc.Features) == 0 {
		log.Warn("no features matched the query box")
	}

	if *out == "" {
		data, err := json.Marshal(fc)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	if err := footprint.WriteCollection(*out, fc); err != nil {
		return err
	}
	log.Info("wrote result", "path", *out, "features", len(fc.Features))
	return nil
}

// parseCorner parses a "lat,lon" command line argument.
func parseCorner(s string) (footprint.Corner, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return footprint.Corner{}, fmt.Errorf("corner %q: expected \"lat,lon\"", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return footprint.Corner{}, fmt.Errorf("corner %q: bad latitude: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return footprint.Corner{}, fmt.Errorf("corner %q: bad longitude: %w", s, err)
	}
	return footprint.Corner{Lat: lat, Lon: lon}, nil
}
