package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"momentum-trader/pkg/db"
)

// Checks that a session database carries every table and prints row counts.
//
// Usage:
//   go run ./scripts/verify_schema.go -db ./data/momentum.db
func main() {
	dbPath := flag.String("db", "./data/momentum.db", "SQLite database path")
	migrate := flag.Bool("migrate", false, "apply migrations before checking")
	flag.Parse()

	fmt.Printf("Verifying database at: %s\n", *dbPath)
	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer database.Close()

	if *migrate {
		if err := db.ApplyMigrations(database); err != nil {
			log.Fatalf("Failed to apply migrations: %v", err)
		}
	}

	ctx := context.Background()
	missing := 0
	for _, table := range db.Tables {
		n, err := database.Queries().Count(ctx, table)
		if err != nil {
			fmt.Printf("❌ %-14s %v\n", table, err)
			missing++
			continue
		}
		fmt.Printf("✓ %-14s %d rows\n", table, n)
	}
	if missing > 0 {
		log.Fatalf("%d table(s) missing or unreadable", missing)
	}
}
