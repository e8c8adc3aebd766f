// ABOUTME: First-run setup commands: interactive config creation and account bootstrap
// ABOUTME: Bootstrap writes a config with a random JWT secret, then creates the root account and keys

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/config"
	"github.com/2389/switchboard/internal/gateway"
	"github.com/2389/switchboard/internal/store"
)

// adminTokenTTL is the lifetime of the admin JWT written by bootstrap.
const adminTokenTTL = 30 * 24 * time.Hour

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// defaultConfig renders a minimal config file.
func defaultConfig(httpAddr, dbPath, jwtSecret string) string {
	return fmt.Sprintf(`# switchboard configuration

server:
  http_addr: %q

database:
  path: %q

auth:
  jwt_secret: %q
  legacy_tokens: true

gateway:
  self_slug: "switchboard"

autostart:
  enabled: true

persistent:
  enabled: false

logging:
  level: "info"
  format: "text"
`, httpAddr, dbPath, jwtSecret)
}

// runBootstrap performs first-time setup:
// a config file with a random JWT secret (if missing), the root account,
// a wildcard API key, and an admin JWT saved next to the config.
func runBootstrap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	name := fs.String("name", "", "username of the root account")
	email := fs.String("email", "", "email of the root account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	username := strings.TrimSpace(*name)
	if username == "" {
		return fmt.Errorf("--name flag is required")
	}
	if len(username) > 100 {
		return fmt.Errorf("name exceeds maximum length of 100 characters")
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		dbPath := filepath.Join(getDataPath(), "switchboard.db")
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(defaultConfig("localhost:8080", dbPath, secret)), 0o600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s (required for bootstrap)", configPath)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	account, cred, err := gateway.Bootstrap(ctx, s, username, strings.TrimSpace(*email), time.Now())
	if err != nil {
		return err
	}
	green.Printf("  ✓ Created root account: %s\n", account.Username)

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	jwt, err := verifier.Generate(account.ID, adminTokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(jwt), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved admin token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Root Account")
	cyan.Println("  ------------")
	printKV("ID", account.ID)
	printKV("Username", account.Username)
	printKV("API key", cred.Token)
	printKV("Scopes", strings.Join(cred.Scopes, ", "))
	printKV("Admin token", fmt.Sprintf("%s (expires %s)", tokenPath, time.Now().Add(adminTokenTTL).Format("Jan 02, 2006")))
	fmt.Println()

	yellow.Println("  The API key is shown only once. Ready to go:")
	fmt.Println("    switchboard serve              # start the gateway")
	fmt.Println("    switchboard backends import    # register backend MCP servers")
	fmt.Println()
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("switchboard configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	baseURL := prompt(reader, "Public base URL (leave empty to derive)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "switchboard.db"))

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "switchboard")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Gateway ---")
	persistent := yes(prompt(reader, "Use persistent SSE sessions for backend calls?", "no"))
	redisURL := prompt(reader, "Redis URL for shared session cache (leave empty for in-process)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secret, err := randomSecret()
	if err != nil {
		return err
	}

	var cfg strings.Builder
	cfg.WriteString("# switchboard configuration\n# Generated by switchboard init\n\n")
	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	if baseURL != "" {
		cfg.WriteString(fmt.Sprintf("  base_url: %q\n", baseURL))
	}
	cfg.WriteString("\ndatabase:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\nauth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", secret))
	cfg.WriteString("\ntailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\ngateway:\n")
	cfg.WriteString("  tool_cache_ttl: \"1h\"\n")
	cfg.WriteString("  session_ttl: \"30m\"\n")
	cfg.WriteString("\npersistent:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", persistent))
	if redisURL != "" {
		cfg.WriteString("\ncache:\n")
		cfg.WriteString(fmt.Sprintf("  redis_url: %q\n", redisURL))
	}
	cfg.WriteString("\nlogging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	// Validate before writing so a typo never lands on disk.
	if _, err := config.Parse([]byte(cfg.String())); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  switchboard bootstrap --name admin --email you@example.com")
	fmt.Println("  switchboard serve")
	return nil
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
