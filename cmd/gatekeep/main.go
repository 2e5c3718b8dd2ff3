// ABOUTME: Entry point for the gatekeep tool server
// ABOUTME: Wires config, store, auth, rate limiting, the tool registry, and the HTTP server

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/gatekeep/internal/auth"
	"github.com/2389/gatekeep/internal/config"
	"github.com/2389/gatekeep/internal/nlq"
	"github.com/2389/gatekeep/internal/ratelimit"
	"github.com/2389/gatekeep/internal/server"
	"github.com/2389/gatekeep/internal/store"
	"github.com/2389/gatekeep/internal/tools"
)

// version is overridden at build time via -ldflags.
var version = "dev"

const banner = `
             _       _
   __ _ __ _| |_ ___| | _____  ___ _ __
  / _' / _' | __/ _ \ |/ / _ \/ _ \ '_ \
 | (_| (_| | ||  __/   <  __/  __/ |_) |
  \__, \__,_|\__\___|_|\_\___|\___| .__/
  |___/                           |_|
`

const exampleConfig = `server:
  http_addr: ":8000"

database:
  url: "${DATABASE_URL}"
  query_timeout: "5s"

auth:
  jwt_secret: "${JWT_SECRET_KEY}"
  token_ttl: "24h"

ratelimit:
  ceiling: 100
  window: "1m"
  key_policy: "principal"

llm:
  base_url: "${OLLAMA_BASE_URL}/v1"
  model: "llama3.2"
  timeout: "30s"

logging:
  level: "info"
  format: "text"
`

// getConfigPath returns the path to the gatekeep config file.
// Priority: GATEKEEP_CONFIG env var > ./gatekeep.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GATEKEEP_CONFIG"); envPath != "" {
		return envPath
	}
	return "gatekeep.yaml"
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: gatekeep <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the tool server")
		fmt.Println("  init     Write an example config file")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	// Optional .env for local development; missing file is fine
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:   %s\n", cfg.Server.HTTPAddr)
	fmt.Println()

	logger.Info("starting gatekeep",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"ratelimit_ceiling", cfg.RateLimit.Ceiling,
		"ratelimit_window", cfg.RateLimit.Window,
	)

	st, err := store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.QueryTimeout, adminPassword())
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer st.Close()

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token verifier: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit.Ceiling, cfg.RateLimit.Window)
	defer limiter.Close()

	translator := nlq.NewTranslator(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout, logger)

	registry := tools.NewRegistry(logger)
	for _, d := range tools.UserTools(st, translator) {
		if err := registry.Register(d); err != nil {
			return fmt.Errorf("registering tools: %w", err)
		}
	}

	return server.New(cfg, logger, st, verifier, limiter, registry, translator).Run(ctx)
}

// adminPassword returns the seed password for the admin account.
func adminPassword() string {
	if pw := os.Getenv("GATEKEEP_ADMIN_PASSWORD"); pw != "" {
		return pw
	}
	return "password"
}

func runInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runHealth(ctx context.Context) error {
	addr := os.Getenv("GATEKEEP_ADDR")
	if addr == "" {
		addr = "http://localhost:8000"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}

	out, _ := json.MarshalIndent(body, "", "  ")
	fmt.Println(string(out))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}
