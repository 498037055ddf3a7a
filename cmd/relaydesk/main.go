// ABOUTME: Entry point for the relaydesk support-chat server
// ABOUTME: Manages sessions, agent presence, and message routing

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/gateway"
	"github.com/relaydesk/relaydesk/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _                 _           _
  _ __ ___| | __ _ _   _  __| | ___  ___| | __
 | '__/ _ \ |/ _' | | | |/ _' |/ _ \/ __| |/ /
 | | |  __/ | (_| | |_| | (_| |  __/\__ \   <
 |_|  \___|_|\__,_|\__, |\__,_|\___||___/_|\_\
                   |___/
`

// getConfigPath returns the path to the config file.
// Priority: RELAYDESK_CONFIG env var > XDG_CONFIG_HOME/relaydesk/relaydesk.yaml > ~/.config/relaydesk/relaydesk.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAYDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relaydesk.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "relaydesk", "relaydesk.yaml")
}

// getDataPath returns the path to the relaydesk data directory.
// Priority: XDG_DATA_HOME/relaydesk > ~/.local/share/relaydesk
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "relaydesk")
}

func main() {
	// Local .env is optional; config covers everything in production
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: relaydesk <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                    Start the relaydesk server")
		fmt.Println("  init                     Create a new config file interactively")
		fmt.Println("  agent add --name NAME    Register a support agent and print a portal token")
		fmt.Println("  token --agent-id ID      Generate a portal token for an existing agent")
		fmt.Println("  health                   Check server health")
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
	case "agent":
		err = runAgent(ctx)
	case "token":
		err = runToken(ctx)
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

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.Bot.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Bot:      ")
		cyan.Print(cfg.Bot.APIBase)
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting relaydesk",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"bot_enabled", cfg.Bot.Enabled,
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
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

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", strings.TrimPrefix(cfg.Server.HTTPAddr, "http://"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runAgent handles "agent add": registers an agent record and prints a token.
// Supports --name, --chat-id, --role, and --password flags.
func runAgent(ctx context.Context) error {
	if len(os.Args) < 3 || os.Args[2] != "add" {
		return fmt.Errorf("usage: relaydesk agent add --name NAME [--chat-id ID] [--role agent|super_admin] [--password PASS]")
	}

	var name, chatID, roleStr, password string
	args := os.Args[3:]
	for i := 0; i < len(args); i++ {
		if i+1 >= len(args) {
			return fmt.Errorf("%s requires a value", args[i])
		}
		switch args[i] {
		case "--name", "-n":
			name = args[i+1]
		case "--chat-id":
			chatID = args[i+1]
		case "--role":
			roleStr = args[i+1]
		case "--password":
			password = args[i+1]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
		i++
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("--name flag is required")
	}

	role := store.RoleAgent
	switch roleStr {
	case "", string(store.RoleAgent):
	case string(store.RoleSuperAdmin):
		role = store.RoleSuperAdmin
	default:
		return fmt.Errorf("unknown role %q (want agent or super_admin)", roleStr)
	}

	if chatID == "" {
		// Portal-only agents still need a unique id in the shared chat-id space
		chatID = "agent:" + strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	agent := &store.Agent{
		ChatID:      chatID,
		DisplayName: name,
		Role:        role,
		Available:   true,
		Active:      true,
	}
	if err := s.CreateAgent(ctx, agent); err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	if password != "" {
		if err := s.SetAgentCredential(ctx, agent.ID, password); err != nil {
			return fmt.Errorf("setting credential: %w", err)
		}
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(agent.ID, agent.Role, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created agent: %s\n", name)
	fmt.Printf("  ID:      %d\n", agent.ID)
	fmt.Printf("  Chat ID: %s\n", agent.ChatID)
	fmt.Printf("  Role:    %s\n", agent.Role)
	fmt.Printf("  Token:   %s\n", token)
	return nil
}

// runToken generates a portal token for an existing agent
func runToken(ctx context.Context) error {
	var agentIDStr string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--agent-id":
			if i+1 >= len(args) {
				return fmt.Errorf("--agent-id requires a value")
			}
			agentIDStr = args[i+1]
			i++
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if agentIDStr == "" {
		return fmt.Errorf("--agent-id flag is required")
	}

	agentID, err := strconv.ParseInt(agentIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid agent id %q", agentIDStr)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("looking up agent %d: %w", agentID, err)
	}
	if !agent.Active {
		return fmt.Errorf("agent %d is deactivated", agentID)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(agent.ID, agent.Role, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("relaydesk configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "relaydesk.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Bot transport
	fmt.Println("\n--- Bot Configuration ---")
	enableBot := prompt(reader, "Enable bot transport?", "no")
	botEnabled := strings.ToLower(enableBot) == "yes" || strings.ToLower(enableBot) == "y"

	var botToken string
	if botEnabled {
		botToken = prompt(reader, "Bot token (or ${RELAYDESK_BOT_TOKEN})", "${RELAYDESK_BOT_TOKEN}")
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate a random JWT secret
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# relaydesk configuration\n")
	cfg.WriteString("# Generated by relaydesk init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("  token_ttl: \"12h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("bot:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", botEnabled))
	if botEnabled {
		cfg.WriteString(fmt.Sprintf("  token: \"%s\"\n", botToken))
		cfg.WriteString("  poll_timeout: \"30s\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("delivery:\n")
	cfg.WriteString("  send_timeout: \"3s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  relaydesk serve\n")

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
