// Command devtoken mints a signed bearer token for local testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"ristoro.dev/internal/auth"
)

func main() {
	log.SetFlags(0)
	var (
		secret = flag.String("secret", os.Getenv("RISTORO_AUTH_SECRET"), "HS256 signing secret")
		issuer = flag.String("issuer", os.Getenv("RISTORO_AUTH_ISSUER"), "Token issuer")
		sub    = flag.String("sub", "dev-user", "Subject")
		email  = flag.String("email", "", "Email")
		name   = flag.String("name", "", "Display name")
		roles  = flag.String("roles", "customer", "Comma-separated roles; the first one counts")
		ttl    = flag.Duration("ttl", time.Hour, "Token lifetime")
	)
	flag.Parse()

	verifier, err := auth.NewTokenVerifier(*secret, auth.WithIssuer(*issuer))
	if err != nil {
		log.Fatalf("devtoken: %v", err)
	}
	var list []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			list = append(list, r)
		}
	}
	token, exp, err := verifier.Issue(auth.Claims{Subject: *sub, Email: *email, Name: *name, Roles: list}, *ttl)
	if err != nil {
		log.Fatalf("devtoken: %v", err)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.UTC().Format(time.RFC3339))
}
