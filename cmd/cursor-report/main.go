// cursor-report dumps every fetch cursor in the metadata store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"kabuto/internal/config"
	"kabuto/internal/meta"
)

func main() {
	cfgPath := flag.String("config", "config/kabuto.yaml", "config file path")
	flag.Parse()

	if p := os.Getenv("KABUTO_CONFIG"); p != "" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	mstore, err := meta.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open metadata store: %v", err)
	}
	defer mstore.Close()

	cursors, err := mstore.ListCursors(context.Background())
	if err != nil {
		log.Fatalf("failed to list cursors: %v", err)
	}

	fmt.Printf("%-10s %-12s %-8s %-5s %-12s %s\n",
		"SYMBOL", "CONFIRMED", "STATUS", "FAILS", "ADJUSTED", "VER")
	for _, c := range cursors {
		confirmed, adjusted := "-", "-"
		if !c.LastConfirmedDate.IsZero() {
			confirmed = c.LastConfirmedDate.Format("2006-01-02")
		}
		if !c.AdjustedThrough.IsZero() {
			adjusted = c.AdjustedThrough.Format("2006-01-02")
		}
		fmt.Printf("%-10s %-12s %-8s %-5d %-12s %d\n",
			c.Symbol, confirmed, c.LastRunStatus, c.ConsecutiveFailures, adjusted, c.Version)
	}
}
