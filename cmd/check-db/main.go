// Package main is a diagnostic tool for testing database connectivity and
// inspecting live gateway data. It connects to the database, queries the
// organizations and api_keys tables, and prints a summary to stdout. The
// binary exits with a non-zero code on any failure so it can be embedded in
// health checks or CI/CD pipeline steps to gate deployments on a reachable,
// populated database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
)

func main() {
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "smp"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=smp password=%s dbname=smp_gateway sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	// Check organizations
	fmt.Println("=== ORGANIZATIONS ===")
	rows, err := db.Query("SELECT id, name, rate_limit_rpm FROM organizations")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		var rpm int
		if err := rows.Scan(&id, &name, &rpm); err != nil {
			log.Printf("Warning: failed to scan organization row: %v", err)
			continue
		}
		fmt.Printf("Organization: %s (ID: %s, rate limit: %d rpm)\n", name, id, rpm)
	}

	// Check API keys
	fmt.Println("\n=== API KEYS ===")
	rows2, err := db.Query("SELECT id, organization_id, name, key_prefix, is_active, expires_at FROM api_keys")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows2.Close()

	count := 0
	for rows2.Next() {
		var id, orgID, name, keyPrefix string
		var isActive bool
		var expiresAt *time.Time
		if err := rows2.Scan(&id, &orgID, &name, &keyPrefix, &isActive, &expiresAt); err != nil {
			log.Printf("Warning: failed to scan api key row: %v", err)
			continue
		}
		state := "active"
		if !isActive {
			state = "revoked"
		}
		expiry := "never"
		if expiresAt != nil {
			expiry = expiresAt.Format(time.RFC3339)
		}
		fmt.Printf("Key: %s (%s) (Org ID: %s, Key ID: %s) - %s, expires: %s\n", keyPrefix, name, orgID, id, state, expiry)
		count++
	}

	if count == 0 {
		fmt.Println("No API keys found!")
	}
}
