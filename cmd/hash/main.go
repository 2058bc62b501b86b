// Package main is a utility for generating Argon2id hashes of dashboard
// passwords. The gateway stores only Argon2id hashes of account passwords,
// never the raw values, so this tool is used when manually seeding or
// resetting a user record in the database without running the full server.
// Running it locally produces a hash that can be inserted directly into the
// users table.
package main

import (
	"fmt"
	"os"

	"github.com/smp-platform/access-gateway/internal/crypto"
)

func main() {
	password := "dev-password-change-me"
	if len(os.Args) > 1 {
		password = os.Args[1]
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		panic(err)
	}
	fmt.Println(hash)
}
