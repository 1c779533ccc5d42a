package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ledgerlens/invoice-service/internal/auth"
	"github.com/ledgerlens/invoice-service/internal/config"
)

// issue-token mints a bearer token signed with the configured JWT secret
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	subject := flag.String("subject", "invoice-client", "token subject")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to auth.token_ttl_hours")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "no JWT secret configured; set JWT_SECRET or auth.jwt_secret")
		os.Exit(1)
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	}

	token, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, lifetime).GenerateToken(*subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
