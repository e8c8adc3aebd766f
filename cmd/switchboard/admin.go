// ABOUTME: Operator subcommands working directly against the gateway database
// ABOUTME: API key issuance, backend registry management, and log pruning

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/switchboard/internal/backend"
	"github.com/2389/switchboard/internal/config"
	"github.com/2389/switchboard/internal/gateway"
	"github.com/2389/switchboard/internal/mcp"
	"github.com/2389/switchboard/internal/registry"
	"github.com/2389/switchboard/internal/store"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// printKV prints an aligned "label: value" line.
func printKV(label string, value any) {
	fmt.Printf("  %-14s %v\n", label+":", value)
}

// operator holds the components CLI commands act on.
type operator struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	registry *registry.Registry
	launcher *backend.Launcher
}

func openOperator() (*operator, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	logger := setupLogger(config.LoggingConfig{Level: "warn"})
	client := backend.NewClient(&http.Client{}, mcpgo.Implementation{Name: mcp.ServerName, Version: mcp.ServerVersion}, logger)
	launcher := backend.NewLauncher(backend.LauncherConfig{
		RunDir:       cfg.Autostart.RunDir,
		PollInterval: cfg.Autostart.PollInterval,
		PollTimeout:  cfg.Autostart.PollTimeout,
		Client:       client,
		Logger:       logger,
	})
	initializer := backend.NewInitializer(backend.InitializerConfig{
		Client:       client,
		Launcher:     launcher,
		AutoStart:    cfg.Autostart.IsEnabled(),
		StartTimeout: cfg.Autostart.PollTimeout,
		Timeout:      cfg.Gateway.InitTimeout,
		Logger:       logger,
	})
	reg := registry.New(registry.Config{
		Backends: s,
		Fetcher:  initializer,
		TTL:      cfg.Gateway.ToolCacheTTL,
		SelfSlug: cfg.Gateway.SelfSlug,
		Logger:   logger,
	})
	return &operator{cfg: cfg, store: s, registry: reg, launcher: launcher}, nil
}

func (o *operator) Close() {
	_ = o.store.Close()
}

func runKeys(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "create" {
		return fmt.Errorf("usage: switchboard keys create --account ID [--name N] [--scope S]... [--backend SLUG]... [--expires 720h]")
	}

	fs := flag.NewFlagSet("keys create", flag.ContinueOnError)
	accountID := fs.String("account", "", "account id to issue the key for")
	name := fs.String("name", "", "label for the key")
	expires := fs.Duration("expires", 0, "lifetime of the key, e.g. 720h (default: never)")
	var scopes, backends listFlag
	fs.Var(&scopes, "scope", "scope to grant (repeatable): mcp:*, mcp:read, mcp:tools")
	fs.Var(&backends, "backend", "backend slug to allow (repeatable, default: all)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *accountID == "" {
		return fmt.Errorf("--account flag is required")
	}

	op, err := openOperator()
	if err != nil {
		return err
	}
	defer op.Close()

	cred, err := gateway.IssueCredential(ctx, op.store, gateway.CredentialRequest{
		AccountID:       *accountID,
		Name:            *name,
		Scopes:          scopes,
		AllowedBackends: backends,
		ExpiresIn:       *expires,
	}, time.Now())
	if err != nil {
		return err
	}

	color.Green("  ✓ API key created")
	printKV("ID", cred.ID)
	printKV("Token", cred.Token)
	printKV("Scopes", strings.Join(cred.Scopes, ", "))
	if len(cred.AllowedBackends) > 0 {
		printKV("Backends", strings.Join(cred.AllowedBackends, ", "))
	}
	if cred.ExpiresAt != nil {
		printKV("Expires", cred.ExpiresAt.Format(time.RFC3339))
	}
	color.Yellow("  The token is shown only once.")
	return nil
}

func runBackends(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: switchboard backends list|import FILE|fetch SLUG|start SLUG|stop SLUG|status SLUG")
	}
	sub, rest := args[0], args[1:]

	needsArg := map[string]string{"import": "FILE", "fetch": "SLUG", "start": "SLUG", "stop": "SLUG", "status": "SLUG"}
	if placeholder, ok := needsArg[sub]; ok && len(rest) != 1 {
		return fmt.Errorf("usage: switchboard backends %s %s", sub, placeholder)
	}

	op, err := openOperator()
	if err != nil {
		return err
	}
	defer op.Close()

	switch sub {
	case "list":
		return op.listBackends(ctx)
	case "import":
		return op.importBackends(ctx, rest[0])
	case "fetch":
		return op.fetchTools(ctx, rest[0])
	case "start":
		return op.startBackend(ctx, rest[0])
	case "stop":
		return op.stopBackend(ctx, rest[0])
	case "status":
		return op.backendStatus(ctx, rest[0])
	default:
		return fmt.Errorf("unknown backends command: %s", sub)
	}
}

func (o *operator) listBackends(ctx context.Context) error {
	backends, err := o.store.ListBackends(ctx, store.BackendFilter{})
	if err != nil {
		return err
	}
	if len(backends) == 0 {
		fmt.Println("no backends registered")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tNAME\tSTATUS\tPROXY\tTOOLS\tENDPOINT")
	for _, b := range backends {
		tools := len(o.registry.GetTools(ctx, b))
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\n", b.Slug, b.Name, b.Status, b.ProxyEnabled, tools, b.EndpointURL)
	}
	return tw.Flush()
}

func (o *operator) importBackends(ctx context.Context, path string) error {
	catalog, err := config.LoadBackendCatalog(path)
	if err != nil {
		return err
	}
	result, err := gateway.ImportCatalog(ctx, o.store, catalog, time.Now())
	if err != nil {
		return err
	}
	for _, slug := range result.Created {
		color.Green("  + %s", slug)
	}
	for _, slug := range result.Updated {
		color.Cyan("  ~ %s", slug)
	}
	fmt.Printf("  %d created, %d updated\n", len(result.Created), len(result.Updated))
	return nil
}

func (o *operator) fetchTools(ctx context.Context, slug string) error {
	tools, err := o.registry.Fetch(ctx, slug)
	if err != nil {
		return fmt.Errorf("fetching tools for %s: %w", slug, err)
	}
	color.Green("  ✓ %s: %d tools", slug, len(tools))
	return nil
}

func (o *operator) startBackend(ctx context.Context, slug string) error {
	b, err := o.store.GetBackendBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("loading backend %s: %w", slug, err)
	}
	result, err := o.launcher.Start(ctx, b, o.cfg.Autostart.AsyncPollTimeout)
	if result == nil {
		return err
	}
	if result.AlreadyRunning {
		color.Cyan("  %s already running (pid %d)", slug, result.PID)
	} else {
		color.Green("  ✓ started %s (pid %d)", slug, result.PID)
	}
	printKV("Log", result.LogFile)
	if err != nil {
		color.Yellow("  ! %v", err)
	}
	return nil
}

func (o *operator) stopBackend(ctx context.Context, slug string) error {
	b, err := o.store.GetBackendBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("loading backend %s: %w", slug, err)
	}
	if err := o.launcher.Stop(b); err != nil {
		if errors.Is(err, backend.ErrNotRunning) {
			color.Yellow("  %s is not running", slug)
			return nil
		}
		return err
	}
	color.Green("  ✓ stopped %s", slug)
	return nil
}

func (o *operator) backendStatus(ctx context.Context, slug string) error {
	b, err := o.store.GetBackendBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("loading backend %s: %w", slug, err)
	}
	st := o.launcher.Status(ctx, b)
	printKV("Backend", slug)
	printKV("Running", st.Running)
	if st.PID > 0 {
		printKV("PID", st.PID)
	}
	printKV("Reachable", st.Reachable)
	if st.StatusCode > 0 {
		printKV("HTTP status", st.StatusCode)
	}
	printKV("Log", st.LogFile)
	return nil
}

func runLogs(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "prune" {
		return fmt.Errorf("usage: switchboard logs prune --days N")
	}
	fs := flag.NewFlagSet("logs prune", flag.ContinueOnError)
	days := fs.Int("days", 0, "delete rows older than this many days")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *days < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	op, err := openOperator()
	if err != nil {
		return err
	}
	defer op.Close()

	cutoff := time.Now().AddDate(0, 0, -*days)
	n, err := op.store.PruneLogs(ctx, cutoff)
	if err != nil {
		return err
	}
	color.Green("  ✓ deleted %d log rows older than %s", n, cutoff.Format(time.DateOnly))
	return nil
}
