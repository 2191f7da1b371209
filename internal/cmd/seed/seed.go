// Package seed fills the execution store with synthetic executions so the
// history page has something to show.
package seed

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	entrypoint "github.com/louisbranch/benchhistory/internal/platform/cmd"
	"github.com/louisbranch/benchhistory/internal/services/history/execution"
	"github.com/louisbranch/benchhistory/internal/services/history/row"
	"github.com/louisbranch/benchhistory/internal/services/history/storage"
	historysqlite "github.com/louisbranch/benchhistory/internal/services/history/storage/sqlite"
)

// ExecutionTypes are the run types the seeder draws from.
var ExecutionTypes = []string{"cron", "pr", "tag", "release"}

var golangVersions = []string{"1.20.14", "1.21.13", "1.22.7", "1.23.2"}

// Config holds seed command configuration.
type Config struct {
	DBPath string `env:"BENCHHISTORY_DB_PATH" envDefault:"data/history.db"`
	Count  int    `env:"BENCHHISTORY_SEED_COUNT" envDefault:"50"`
	// Seed makes generation reproducible. Zero picks a random seed.
	Seed    int64
	Verbose bool
	// Now anchors generated start times. Nil uses time.Now.
	Now func() time.Time
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.DBPath, "db-path", "data/history.db", "SQLite database path")
	fs.IntVar(&cfg.Count, "count", 50, "number of executions to insert")
	fs.Int64Var(&cfg.Seed, "seed", 0, "random seed for reproducibility (0 = random)")
	fs.BoolVar(&cfg.Verbose, "v", false, "print every inserted row")
	if err := entrypoint.ParseConfigFromArgs(&cfg, fs, args); err != nil {
		return Config{}, err
	}
	if cfg.Count <= 0 {
		return Config{}, fmt.Errorf("count must be greater than zero")
	}
	return cfg, nil
}

// Run inserts cfg.Count executions and reports progress to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := historysqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := Generate(cfg)
	if err != nil {
		return err
	}
	renderer := row.MustNewRenderer(row.Options{})
	inserted := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := store.CreateExecution(ctx, record); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("insert %s: %w", record.UUID, err)
		}
		inserted++
		if cfg.Verbose {
			fmt.Fprintln(out, renderer.Build(record).Text())
		}
	}
	fmt.Fprintf(out, "seeded %d executions into %s\n", inserted, cfg.DBPath)
	return nil
}

// Generate builds cfg.Count executions, one hour apart, newest first.
func Generate(cfg Config) ([]execution.Record, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("count must be greater than zero")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int64()
	}
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:], uint64(seed))
	source := rand.NewChaCha8(key)
	rng := rand.New(source)

	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	anchor := now().UTC().Truncate(time.Minute)

	records := make([]execution.Record, 0, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		id, err := uuid.NewRandomFromReader(source)
		if err != nil {
			return nil, fmt.Errorf("generate uuid: %w", err)
		}
		sha := make([]byte, 20)
		if _, err := source.Read(sha); err != nil {
			return nil, fmt.Errorf("generate git ref: %w", err)
		}
		typeOf := ExecutionTypes[rng.IntN(len(ExecutionTypes))]
		started := anchor.Add(-time.Duration(i) * time.Hour)
		finished := started.Add(time.Duration(20+rng.IntN(70)) * time.Minute)
		var pullNB execution.PullNumber
		if typeOf == "pr" {
			pullNB = execution.PullNumber(strconv.Itoa(1000 + rng.IntN(15000)))
		}
		records = append(records, execution.Record{
			UUID:          id.String(),
			GitRef:        hex.EncodeToString(sha),
			StartedAt:     started.Format(time.RFC3339),
			FinishedAt:    finished.Format(time.RFC3339),
			TypeOf:        typeOf,
			PullNB:        pullNB,
			GolangVersion: golangVersions[rng.IntN(len(golangVersions))],
		})
	}
	return records, nil
}
