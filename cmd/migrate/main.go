package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"metesad/adapters/postgres"
	"metesad/adapters/store"
	"metesad/domain/core"
	"metesad/ports"
)

// migrate copies result tables already written by the CSV store into Postgres,
// for runs made before DATABASE_URL was configured
func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: migrate <database_url> <results_dir>")
	}

	databaseURL := os.Args[1]
	resultsDir := os.Args[2]

	log.Printf("Starting import from %s", resultsDir)

	ctx := context.Background()
	db, err := postgres.Open(ctx, databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	src, err := store.NewCSVStore(resultsDir)
	if err != nil {
		log.Fatalf("Failed to open results: %v", err)
	}
	dst := postgres.NewResultRepository(db)

	datasets, err := findDatasets(resultsDir)
	if err != nil {
		log.Fatalf("Failed to scan results: %v", err)
	}
	log.Printf("Found %d datasets to import", len(datasets))

	migrated, skipped := 0, 0
	for _, ds := range datasets {
		if err := importDataset(ctx, src, dst, ds); err != nil {
			log.Printf("Failed to import %s: %v", ds, err)
			skipped++
			continue
		}
		migrated++
		log.Printf("Imported %s", ds)
	}

	log.Printf("Import complete: %d imported, %d skipped", migrated, skipped)
	if skipped > 0 {
		os.Exit(1)
	}
}

// importDataset requires the fits table; the other tables are copied when present
func importDataset(ctx context.Context, src *store.CSVStore, dst ports.ResultStore, ds core.DatasetName) error {
	fits, err := src.LoadFits(ctx, ds)
	if err != nil {
		return err
	}
	if err := dst.SaveFits(ctx, ds, fits); err != nil {
		return err
	}

	if exists(src.Path(ds, store.SuffixObsPred)) {
		rows, err := src.LoadObsPred(ctx, ds)
		if err != nil {
			return err
		}
		if err := dst.SaveObsPred(ctx, ds, rows); err != nil {
			return err
		}
	}
	if exists(src.Path(ds, store.SuffixSims)) {
		batches, err := src.LoadBatches(ctx, ds)
		if err != nil {
			return err
		}
		if err := dst.SaveBatches(ctx, ds, batches); err != nil {
			return err
		}
	}
	if exists(src.Path(ds, store.SuffixNull)) {
		summaries, err := src.LoadNullSummaries(ctx, ds)
		if err != nil {
			return err
		}
		if err := dst.SaveNullSummaries(ctx, ds, summaries); err != nil {
			return err
		}
	}
	return nil
}

func findDatasets(dir string) ([]core.DatasetName, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+store.SuffixFits))
	if err != nil {
		return nil, err
	}
	var out []core.DatasetName
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), store.SuffixFits)
		if ds, err := core.ParseDatasetName(name); err == nil {
			out = append(out, ds)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
