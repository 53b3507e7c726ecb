//go:build ignore

// Generates a merchant API bearer token for local testing.
// Run with: COUPON_JWT_SECRET=... go run scripts/generate-jwt.go <merchant-id>

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/chainperks/coupon-middleware/pkg/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: generate-jwt.go <merchant-id>")
		os.Exit(1)
	}
	secret := os.Getenv("COUPON_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "COUPON_JWT_SECRET is not set")
		os.Exit(1)
	}

	issuer := os.Getenv("COUPON_JWT_ISSUER")
	if issuer == "" {
		issuer = "coupon-middleware"
	}

	m := auth.NewManager([]byte(secret), issuer, 24*time.Hour)
	token, expiresAt, err := m.Issue(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
}
