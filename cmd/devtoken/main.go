// Command devtoken mints access tokens against the configured signing key.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"attendancesvc/internal/auth"
	"attendancesvc/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	sub := flag.String("sub", "", "user id placed in the sub claim (required)")
	email := flag.String("email", "", "email claim")
	role := flag.String("role", auth.RoleEmployee, "ADMIN or EMPLOYEE")
	ttl := flag.Duration("ttl", cfg.AccessTTL, "token lifetime")
	flag.Parse()

	if *sub == "" {
		flag.Usage()
		os.Exit(2)
	}
	r := strings.ToUpper(*role)
	if r != auth.RoleAdmin && r != auth.RoleEmployee {
		log.Fatalf("unknown role %q", *role)
	}

	tok, err := auth.Issue(*sub, *email, r, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(tok.AccessToken)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
}
