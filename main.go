package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ashare-lake/internal/catalog"
	"ashare-lake/internal/config"
	"ashare-lake/internal/lake"
	"ashare-lake/internal/orchestrator"
	"ashare-lake/internal/ratelimit"
	"ashare-lake/internal/vendorapi"

	"github.com/google/uuid"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	// 1. Config
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config (%s): %v", cfgPath, err)
	}
	if cfg.DataRoot == "" {
		cfg.DataRoot = "./var/data"
	}
	if cfg.ManifestPath == "" {
		cfg.ManifestPath = filepath.Join(cfg.DataRoot, "manifest.db")
	}
	if cfg.QueueStorePath == "" {
		cfg.QueueStorePath = filepath.Join(cfg.DataRoot, "queue.db")
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "./catalog.toml"
	}

	log.Println("Initializing ashare-lake ingestion pipeline...")
	log.Printf("Build: %s", BuildCommit)
	log.Printf("Data root: %s", cfg.DataRoot)
	log.Printf("Catalogue: %s", cfg.CatalogPath)

	// 2. C1 Schema Registry
	registry, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load schema catalogue: %v", err)
	}
	log.Printf("Loaded %d dataset(s) from catalogue", len(registry.Names()))

	// 3. C2 Rate-Limit Manager
	limiter := ratelimit.NewManager(cfg.RateLimitBudgets)

	// 4. C3 Persistence Layer
	lk, err := lake.Open(cfg.DataRoot, cfg.ManifestPath)
	if err != nil {
		log.Fatalf("Failed to open data lake: %v", err)
	}
	defer lk.Close()

	// 5. C4 Fetcher Factory
	caller := vendorapi.NewHTTPCaller(cfg.VendorTokenEnvVar)
	factory := vendorapi.NewFactory(registry, limiter, caller)

	// 6. C5 Task Orchestrator
	orch, err := orchestrator.New(orchestrator.Config{
		QueueStorePath:        cfg.QueueStorePath,
		FastWorkers:           cfg.FastWorkers,
		LeaseFor:              cfg.LeaseFor(),
		MaxAttempts:           cfg.MaxAttempts,
		BaseBackoff:           cfg.BaseBackoff(),
		MaintInterval:         cfg.MaintInterval(),
		SymbolUniverseDataset: cfg.SymbolUniverseDataset,
		BackfillStart:         cfg.BackfillStartTime(),
	}, registry, lk, factory)
	if err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)
	log.Printf("Orchestrator running (fast_workers=%d max_attempts=%d)", cfg.FastWorkers, cfg.MaxAttempts)

	// 7. One-shot CLI surface (spec.md §6): submit_plan / submit_maintenance /
	// cancel, dispatched from argv so an operator (or a cron entry) can drive
	// the running process's queues without a bespoke RPC layer.
	if len(os.Args) > 1 {
		if err := runCommand(orch, registry, os.Args[1:]); err != nil {
			log.Printf("Command failed: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	summary := orch.Shutdown(shutdownCtx)
	log.Printf("Final queue state: fast=%d slow=%d maint=%d dead=%v",
		summary.FastPending, summary.SlowPending, summary.MaintPending, summary.DeadLetters)
}

// runCommand implements the three operator-facing entry points spec.md §6
// names as out of scope for a full CLI but whose underlying methods must
// exist and be callable: submit_plan, submit_maintenance, cancel.
func runCommand(orch *orchestrator.Orchestrator, registry *catalog.Registry, args []string) error {
	switch args[0] {
	case "submit_plan":
		if len(args) < 2 {
			return fmt.Errorf("usage: submit_plan <group>")
		}
		id, err := orch.SubmitPlan(args[1], uuid.NewString())
		if err != nil {
			return err
		}
		log.Printf("Submitted plan(%s) as task %d", args[1], id)
	case "submit_maintenance":
		if len(args) < 3 {
			return fmt.Errorf("usage: submit_maintenance <rebuild_manifest|compact> <dataset>")
		}
		if err := orch.SubmitMaintenance(args[2], orchestrator.MaintOp(args[1])); err != nil {
			return err
		}
		log.Printf("Submitted maintenance(%s) for %s", args[1], args[2])
	case "cancel":
		if len(args) < 3 {
			return fmt.Errorf("usage: cancel <fast|slow|maint> <task_id>")
		}
		var kind orchestrator.Kind
		switch args[1] {
		case "fast":
			kind = orchestrator.KindDownload
		case "maint":
			kind = orchestrator.KindMaintenance
		default:
			kind = orchestrator.KindPersist
		}
		var id uint64
		if _, err := fmt.Sscanf(args[2], "%d", &id); err != nil {
			return fmt.Errorf("invalid task id %q: %w", args[2], err)
		}
		if err := orch.Cancel(kind, id); err != nil {
			return err
		}
		log.Printf("Cancelled task %d", id)
	default:
		return fmt.Errorf("unknown command %q (want submit_plan|submit_maintenance|cancel)", args[0])
	}
	return nil
}
