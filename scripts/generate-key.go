// Package main is a development utility for generating a test API key with its
// SHA-256 digest and display prefix pre-computed. It prints the raw key, digest,
// prefix, and a ready-to-run SQL statement so developers can quickly seed a
// usable API key in a local database without running the full server flow. Do
// not use generated keys in production; create them through the dashboard API
// so expiry settings and audit records are in place.
package main

import (
	"fmt"
	"log"

	"github.com/smp-platform/access-gateway/internal/auth"
)

func main() {
	key, digest, displayPrefix, err := auth.GenerateAPIKey(auth.EnvTest)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("API Key Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nFull Key: %s\n", key)
	fmt.Printf("\nDigest: %s\n", digest)
	fmt.Printf("\nDisplay Prefix: %s\n", displayPrefix)
	fmt.Println("\n==========================================================")
	fmt.Println("SQL Seed:")
	fmt.Println("==========================================================")
	fmt.Printf(`
INSERT INTO api_keys (id, organization_id, name, key_prefix, key_hash, is_active, created_at)
VALUES (
    gen_random_uuid(),
    (SELECT id FROM organizations WHERE name = 'Dev Org'),
    'dev-seed-key',
    '%s',
    '%s',
    true,
    now()
);
`, displayPrefix, digest)
	fmt.Println("\n==========================================================")
	fmt.Printf("Request Header: X-API-Key: %s\n", key)
	fmt.Println("==========================================================")
}
