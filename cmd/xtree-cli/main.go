// Command xtree-cli is a one-shot flag-driven demo harness for the X-tree
// index: it opens (or creates) an index file, inserts points read from
// stdin or generated synthetically, optionally runs one window query, and
// commits. It is not an interactive REPL.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xtreedb/xtreedb/core/geometry"
	"github.com/xtreedb/xtreedb/core/storage/pagestore"
	"github.com/xtreedb/xtreedb/core/xtree"
	"github.com/xtreedb/xtreedb/pkg/config"
	"github.com/xtreedb/xtreedb/pkg/logger"
	"github.com/xtreedb/xtreedb/pkg/telemetry"
)

const (
	defaultDBFile     = "data/xtree.db"
	defaultConfigFile = "config/xtree.yaml"
	syntheticRange    = 1000.0
)

var (
	dbFile     = flag.String("db", defaultDBFile, "path to the X-tree index file")
	configFile = flag.String("config", defaultConfigFile, "path to the YAML config file")
	generate   = flag.Int("generate", 0, "insert this many synthetic points with random coordinates instead of reading stdin")
	queryLo    = flag.String("query-lo", "", "comma-separated lower corner of a window query to run after loading, e.g. 0,0")
	queryHi    = flag.String("query-hi", "", "comma-separated upper corner of a window query")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fatal(nil, "load config", err)
	}

	zapLog, err := logger.New(cfg.Logger)
	if err != nil {
		fatal(nil, "build logger", err)
	}
	defer zapLog.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		fatal(zapLog, "build telemetry", err)
	}
	ctx := context.Background()
	defer shutdown(ctx)

	tree, store, err := openOrCreate(*dbFile, cfg, zapLog, tel)
	if err != nil {
		fatal(zapLog, "open or create index", err)
	}
	defer store.Close()

	if *generate > 0 {
		if err := insertSynthetic(ctx, tree, cfg.XTree.Dimensionality, *generate); err != nil {
			fatal(zapLog, "synthetic insert", err)
		}
	} else if hasStdin() {
		if err := insertFromStdin(ctx, tree); err != nil {
			fatal(zapLog, "stdin insert", err)
		}
	}

	if err := tree.Commit(ctx); err != nil {
		fatal(zapLog, "commit", err)
	}
	fmt.Printf("elements=%d height=%d\n", tree.NumElements(), tree.Height())

	if *queryLo != "" && *queryHi != "" {
		region, err := parseRegion(*queryLo, *queryHi)
		if err != nil {
			fatal(zapLog, "parse query region", err)
		}
		hits, err := tree.Search(ctx, region)
		if err != nil {
			fatal(zapLog, "search", err)
		}
		fmt.Printf("query hits=%d\n", len(hits))
		for _, id := range hits {
			fmt.Println(id)
		}
	}
}

func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultDemoConfig(), nil
	}
	return config.Load(path)
}

// defaultDemoConfig mirrors config.defaults() for the unconfigured case;
// the demo needs no file on disk to run.
func defaultDemoConfig() config.Config {
	cfg, _ := config.Load(os.DevNull)
	return cfg
}

func openOrCreate(path string, cfg config.Config, zapLog *zap.Logger, tel *telemetry.Telemetry) (*xtree.Tree, *pagestore.Store, error) {
	xcfg, err := cfg.XTreeConfig()
	if err != nil {
		return nil, nil, err
	}

	storeLog := logger.Component(zapLog, "pagestore")
	treeLog := logger.Component(zapLog, "xtree")

	if _, err := os.Stat(path); err == nil {
		store, err := pagestore.Open(path, storeLog)
		if err != nil {
			return nil, nil, fmt.Errorf("xtree-cli: open %s: %w", path, err)
		}
		tree, err := xtree.Open(store, xcfg, treeLog, tel)
		if err != nil {
			return nil, nil, err
		}
		return tree, store, nil
	}

	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("xtree-cli: mkdir: %w", err)
	}
	store, err := pagestore.Create(path, xtree.Header{PageSize: xcfg.PageSize}, storeLog)
	if err != nil {
		return nil, nil, fmt.Errorf("xtree-cli: create %s: %w", path, err)
	}
	tree, err := xtree.New(store, xcfg, treeLog, tel)
	if err != nil {
		return nil, nil, err
	}
	return tree, store, nil
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}

func insertSynthetic(ctx context.Context, tree *xtree.Tree, dim, n int) error {
	if dim <= 0 {
		dim = 2
	}
	for i := 0; i < n; i++ {
		coords := make([]float64, dim)
		for d := range coords {
			coords[d] = rand.Float64() * syntheticRange
		}
		if err := tree.Insert(ctx, xtree.PointID(newPointID()), coords); err != nil {
			return fmt.Errorf("xtree-cli: insert point %d: %w", i, err)
		}
	}
	return nil
}

// newPointID returns a random identifier short enough for the index's
// 16-byte point id field: the first 16 hex digits of a random UUID.
func newPointID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// insertFromStdin reads one point per line as space- or comma-separated
// coordinates, optionally prefixed by "id:" for a caller-supplied PointID.
func insertFromStdin(ctx context.Context, tree *xtree.Tree) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, coordsField := newPointID(), line
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			id, coordsField = line[:idx], line[idx+1:]
		}
		coords, err := parseCoords(coordsField)
		if err != nil {
			return fmt.Errorf("xtree-cli: parse line %q: %w", line, err)
		}
		if err := tree.Insert(ctx, xtree.PointID(id), coords); err != nil {
			return fmt.Errorf("xtree-cli: insert %q: %w", id, err)
		}
	}
	return scanner.Err()
}

func hasStdin() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func parseCoords(field string) ([]float64, error) {
	parts := strings.FieldsFunc(field, func(r rune) bool { return r == ',' || r == ' ' })
	coords := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		coords = append(coords, v)
	}
	return coords, nil
}

func parseRegion(lo, hi string) (geometry.MBR, error) {
	loCoords, err := parseCoords(lo)
	if err != nil {
		return geometry.MBR{}, fmt.Errorf("xtree-cli: parse query-lo: %w", err)
	}
	hiCoords, err := parseCoords(hi)
	if err != nil {
		return geometry.MBR{}, fmt.Errorf("xtree-cli: parse query-hi: %w", err)
	}
	return geometry.MBR{Lo: loCoords, Hi: hiCoords}, nil
}

func fatal(log *zap.Logger, msg string, err error) {
	if log != nil {
		log.Fatal(msg, zap.Error(err))
		return
	}
	fmt.Fprintf(os.Stderr, "xtree-cli: %s: %v\n", msg, err)
	os.Exit(1)
}
