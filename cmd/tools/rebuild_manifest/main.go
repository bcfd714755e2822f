// rebuild_manifest re-derives the lake's manifest (which partition files
// exist, and the latest date persisted per dataset/symbol) by rescanning
// every file on disk, for when the manifest store is suspected stale or
// was deleted. Runs the same operation the MAINT rebuild_manifest task
// performs, but as a one-shot tool so an operator can force it outside the
// orchestrator's own schedule.
package main

import (
	"context"
	"log"
	"os"

	"ashare-lake/internal/catalog"
	"ashare-lake/internal/config"
	"ashare-lake/internal/lake"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	registry, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalogue: %v", err)
	}

	lk, err := lake.Open(cfg.DataRoot, cfg.ManifestPath)
	if err != nil {
		log.Fatalf("Failed to open data lake: %v", err)
	}
	defer lk.Close()

	targets := registry.Names()
	if len(os.Args) > 1 {
		targets = os.Args[1:]
	}

	ctx := context.Background()
	for _, name := range targets {
		ds, err := registry.Get(name)
		if err != nil {
			log.Printf("skip %s: %v", name, err)
			continue
		}
		if err := lk.RebuildManifest(ctx, ds); err != nil {
			log.Printf("rebuild %s: %v", name, err)
			continue
		}
		log.Printf("rebuilt manifest for %s", name)
	}
}
