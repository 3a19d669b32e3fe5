// Command migrate manages the PostgreSQL schema via goose.
//
// Usage:
//
//	go run ./cmd/migrate up              # apply all pending migrations
//	go run ./cmd/migrate down            # roll back the last migration
//	go run ./cmd/migrate status          # show migration status
//	go run ./cmd/migrate version         # show current schema version
//	go run ./cmd/migrate -dir other up   # use a different migrations dir
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	dir := flag.String("dir", "migrations", "directory with migration files")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-dir path] <command> [args]")
		fmt.Fprintln(os.Stderr, "Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	_ = godotenv.Load()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("connect to database: %v", err)
	}

	command := flag.Arg(0)
	if err := goose.RunContext(context.Background(), command, db, *dir, flag.Args()[1:]...); err != nil {
		log.Fatalf("migration %s failed: %v", command, err)
	}
}
