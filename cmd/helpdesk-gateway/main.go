// ABOUTME: Entry point for the helpdesk-gateway support bot
// ABOUTME: Wires config, store, connector, backend and router, then runs the sync loop

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/helpdesk-gateway/internal/backend"
	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/conversation"
	"github.com/2389/helpdesk-gateway/internal/dedupe"
	"github.com/2389/helpdesk-gateway/internal/escalation"
	"github.com/2389/helpdesk-gateway/internal/messages"
	"github.com/2389/helpdesk-gateway/internal/metrics"
	"github.com/2389/helpdesk-gateway/internal/platform/matrix"
	"github.com/2389/helpdesk-gateway/internal/reaper"
	"github.com/2389/helpdesk-gateway/internal/requests"
	"github.com/2389/helpdesk-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _          _           _           _
| |__   ___| |_ __   __| | ___  ___| | __
| '_ \ / _ \ | '_ \ / _' |/ _ \/ __| |/ /
| | | |  __/ | |_) | (_| |  __/\__ \   <
|_| |_|\___|_| .__/ \__,_|\___||___/_|\_\
             |_|     gateway
`

const (
	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 4096
)

// getConfigPath returns the path to the gateway config file.
// Priority: HELPDESK_CONFIG env var > XDG_CONFIG_HOME/helpdesk/gateway.yaml > ~/.config/helpdesk/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HELPDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "helpdesk", "gateway.yaml")
}

// getDataPath returns the path to the helpdesk data directory.
// Priority: XDG_DATA_HOME/helpdesk > ~/.local/share/helpdesk
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "helpdesk")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: helpdesk-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the gateway")
		fmt.Println("  init    Create a new config file interactively")
		fmt.Println("  sweep   Run one retention sweep and exit")
		fmt.Println("  status  Show open conversations and tickets")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "sweep":
		err = runSweep(ctx)
	case "status":
		err = runStatus(ctx)
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

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Backend:    %s\n", cfg.Backend.Mode())
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:    %s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting helpdesk-gateway",
		"config", configPath,
		"homeserver", cfg.Matrix.Homeserver,
		"backend_mode", cfg.Backend.Mode(),
	)

	catalog, err := messages.Load(cfg.Messages.Path)
	if err != nil {
		return fmt.Errorf("loading message catalog: %w", err)
	}

	threadStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening thread store: %w", err)
	}
	defer threadStore.Close()

	ticketStore, err := requests.NewStore(cfg.Database.RequestsPath, logger)
	if err != nil {
		return fmt.Errorf("opening ticket store: %w", err)
	}
	defer ticketStore.Close()

	connector, err := matrix.New(matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		BotUsers:    cfg.Matrix.BotUsers,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating matrix connector: %w", err)
	}

	answerer, err := buildBackend(ctx, cfg.Backend, logger)
	if err != nil {
		return fmt.Errorf("creating answer backend: %w", err)
	}

	var moderator backend.Moderator
	if cfg.Backend.ModerationURL != "" {
		moderator = backend.NewHTTP(cfg.Backend.ModerationURL, cfg.Backend.SyncTimeout, logger)
	}

	cache := dedupe.New(dedupeTTL, dedupeMaxSize)
	defer cache.Close()

	svc, err := conversation.New(conversation.Options{
		Store:            threadStore,
		Connector:        connector,
		Backend:          answerer,
		Moderator:        moderator,
		Notifier:         escalation.New(connector, cfg.Matrix.SupportChannel, catalog, logger),
		Commands:         requests.NewCommands(ticketStore, connector, logger),
		Catalog:          catalog,
		Dedupe:           cache,
		AllowedChannels:  cfg.Matrix.AllowedChannels,
		ReplyChannel:     cfg.Matrix.ReplyChannel,
		HistoryExchanges: cfg.Backend.HistoryExchanges,
		Deferred:         cfg.Backend.Deferred(),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("creating conversation router: %w", err)
	}

	if open, err := threadStore.CountOpenThreads(ctx); err == nil {
		metrics.OpenThreads.Set(float64(open))
		logger.Info("open conversations at startup", "count", open)
	}

	sweeper := reaper.New(reaper.Options{
		Store:         threadStore,
		Interval:      cfg.Retention.SweepInterval,
		RetentionDays: cfg.Retention.Days,
		Statuses:      store.StatusFilter(cfg.Retention.Statuses),
		Logger:        logger,
	})
	go sweeper.Run(ctx)

	go func() {
		// Ticket retention rides on the same schedule.
		if _, err := ticketStore.Reap(ctx, cfg.Retention.Days); err != nil {
			logger.Error("ticket sweep failed", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Path, logger); err != nil {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	return connector.Run(ctx, svc)
}

// buildBackend selects the answer strategy. Synchronous endpoints win when
// several are configured.
func buildBackend(ctx context.Context, cfg config.BackendConfig, logger *slog.Logger) (backend.Backend, error) {
	configured := 0
	for _, url := range []string{cfg.OrchestratorURL, cfg.MCPURL, cfg.WebhookURL} {
		if url != "" {
			configured++
		}
	}
	if configured > 1 {
		logger.Warn("multiple backend endpoints configured, synchronous takes priority",
			"mode", cfg.Mode())
	}

	switch cfg.Mode() {
	case config.ModeOrchestrator:
		return backend.NewHTTP(cfg.OrchestratorURL, cfg.SyncTimeout, logger), nil
	case config.ModeMCP:
		m, err := backend.NewMCP(cfg.MCPURL, cfg.SyncTimeout, logger)
		if err != nil {
			return nil, err
		}
		if err := m.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connecting to MCP backend: %w", err)
		}
		return m, nil
	case config.ModeWebhook:
		return backend.NewWebhook(cfg.WebhookURL, cfg.WebhookTimeout, logger), nil
	}
	return nil, fmt.Errorf("no backend endpoint configured")
}

func runSweep(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	threadStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening thread store: %w", err)
	}
	defer threadStore.Close()

	deleted, err := threadStore.ReapThreads(ctx, cfg.Retention.Days, store.StatusFilter(cfg.Retention.Statuses))
	if err != nil {
		return fmt.Errorf("reaping threads: %w", err)
	}

	ticketStore, err := requests.NewStore(cfg.Database.RequestsPath, logger)
	if err != nil {
		return fmt.Errorf("opening ticket store: %w", err)
	}
	defer ticketStore.Close()

	tickets, err := ticketStore.Reap(ctx, cfg.Retention.Days)
	if err != nil {
		return fmt.Errorf("reaping tickets: %w", err)
	}

	fmt.Printf("removed %d thread record(s), %d ticket(s)\n", deleted, tickets)
	return nil
}

func runStatus(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	threadStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening thread store: %w", err)
	}
	defer threadStore.Close()

	open, err := threadStore.CountOpenThreads(ctx)
	if err != nil {
		return fmt.Errorf("counting open threads: %w", err)
	}

	ticketStore, err := requests.NewStore(cfg.Database.RequestsPath, slog.Default())
	if err != nil {
		return fmt.Errorf("opening ticket store: %w", err)
	}
	defer ticketStore.Close()

	tickets, err := ticketStore.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("listing tickets: %w", err)
	}

	fmt.Printf("open conversations: %d\n", open)
	fmt.Printf("open tickets:       %d\n", len(tickets))
	for _, t := range tickets {
		fmt.Printf("  %s  %-12s %s (por %s)\n", t.ID, t.Kind, t.StoreName, t.Requester)
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("helpdesk-gateway configuration setup")
	fmt.Println("====================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "threads.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Matrix Configuration ---")
	homeserver := prompt(reader, "Homeserver URL", "https://matrix.example.org")
	userID := prompt(reader, "Bot user id", "@helpdesk:example.org")
	accessToken := prompt(reader, "Access token (leave as ${HELPDESK_MATRIX_TOKEN} to use the env var)", "${HELPDESK_MATRIX_TOKEN}")
	supportChannel := prompt(reader, "Support channel (escalations)", "")
	replyChannel := prompt(reader, "Reply channel (async backend replies)", "")

	fmt.Println("\n--- Backend Configuration ---")
	orchestratorURL := prompt(reader, "Orchestrator URL (synchronous, leave empty for webhook)", "http://localhost:8080")
	var webhookURL string
	if orchestratorURL == "" {
		webhookURL = prompt(reader, "Webhook URL (asynchronous)", "")
	}

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# helpdesk-gateway configuration\n")
	cfg.WriteString("# Generated by helpdesk-gateway init\n\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n\n", dbPath))

	cfg.WriteString("matrix:\n")
	cfg.WriteString(fmt.Sprintf("  homeserver: \"%s\"\n", homeserver))
	cfg.WriteString(fmt.Sprintf("  user_id: \"%s\"\n", userID))
	cfg.WriteString(fmt.Sprintf("  access_token: \"%s\"\n", accessToken))
	if supportChannel != "" {
		cfg.WriteString(fmt.Sprintf("  support_channel: \"%s\"\n", supportChannel))
	}
	if replyChannel != "" {
		cfg.WriteString(fmt.Sprintf("  reply_channel: \"%s\"\n", replyChannel))
	}
	cfg.WriteString("  allowed_channels: []\n\n")

	cfg.WriteString("backend:\n")
	if orchestratorURL != "" {
		cfg.WriteString(fmt.Sprintf("  orchestrator_url: \"%s\"\n", orchestratorURL))
		cfg.WriteString("  sync_timeout: \"120s\"\n\n")
	} else {
		cfg.WriteString(fmt.Sprintf("  webhook_url: \"%s\"\n", webhookURL))
		cfg.WriteString("  webhook_timeout: \"10s\"\n\n")
	}

	cfg.WriteString("retention:\n")
	cfg.WriteString("  sweep_interval: \"24h\"\n")
	cfg.WriteString("  days: 30\n")
	cfg.WriteString("  statuses: [\"closed\"]\n\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n\n", logFormat))

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  addr: \":9090\"\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the gateway:")
	fmt.Printf("  helpdesk-gateway serve\n")

	return nil
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
