// validate_catalog parses a schema catalogue file and reports whether it is
// well-formed, without starting the rest of the pipeline. Intended to run
// in CI or a pre-deploy hook before a catalogue edit reaches a live
// orchestrator.
package main

import (
	"fmt"
	"log"
	"os"

	"ashare-lake/internal/catalog"
)

func main() {
	path := os.Getenv("CATALOG_PATH")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		log.Fatalf("usage: validate_catalog <path> (or set CATALOG_PATH)")
	}

	reg, err := catalog.Load(path)
	if err != nil {
		log.Fatalf("Catalogue is invalid: %v", err)
	}

	names := reg.Names()
	fmt.Printf("Catalogue OK: %d dataset(s)\n", len(names))
	for _, name := range names {
		ds, _ := reg.Get(name)
		fmt.Printf("  %-24s strategy=%-12s per_symbol=%-5v columns=%d\n", name, ds.Strategy, ds.PerSymbol, len(ds.Columns))
	}
}
