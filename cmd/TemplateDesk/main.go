package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/TemplateDesk/internal/api"
	"github.com/BTreeMap/TemplateDesk/internal/backend"
	"github.com/BTreeMap/TemplateDesk/internal/conversation"
	"github.com/BTreeMap/TemplateDesk/internal/genai"
	"github.com/BTreeMap/TemplateDesk/internal/generation"
	"github.com/BTreeMap/TemplateDesk/internal/lockfile"
	"github.com/BTreeMap/TemplateDesk/internal/messaging"
	"github.com/BTreeMap/TemplateDesk/internal/scheduler"
	"github.com/BTreeMap/TemplateDesk/internal/session"
	"github.com/BTreeMap/TemplateDesk/internal/store"
	"github.com/BTreeMap/TemplateDesk/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TemplateDesk state data
	DefaultStateDir = "/var/lib/templatedesk"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "templatedesk.db"
	// DefaultSessionTTL is how long an idle session survives.
	DefaultSessionTTL = 24 * time.Hour
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.LogLevel)

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping TemplateDesk with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "redis_set", *flags.redisURL != "")
	if err := run(ctx, config, flags); err != nil {
		slog.Error("TemplateDesk failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TemplateDesk exited successfully")
}

// Config holds environment configuration
type Config struct {
	LogLevel         string
	APIAddr          string
	BackendURL       string
	AIBackendURL     string
	OpenAIKey        string
	OpenAIModel      string
	GenAIDebug       bool
	StateDir         string
	DatabaseURL      string
	RedisURL         string
	SessionTTL       time.Duration
	ConversationTTL  time.Duration
	AutoValidate     bool
	SecureCookies    bool
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWhatsApp   bool
	GuidelinesFile   string
	OutboxPollPeriod time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir     *string
	dbDSN        *string
	redisURL     *string
	apiAddr      *string
	backendURL   *string
	aiBackendURL *string
	openaiKey    *string
	openaiModel  *string
	guidelines   *string
	autoValidate *bool
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// parseLogLevel maps debug|info|warn|error to a slog level; anything else is debug.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LogLevel:         os.Getenv("TEMPLATEDESK_LOG_LEVEL"),
		APIAddr:          util.GetEnvOrDefault("API_ADDR", api.DefaultAddr),
		BackendURL:       util.GetEnvOrDefault("TEMPLATE_BACKEND_URL", backend.DefaultBaseURL),
		AIBackendURL:     os.Getenv("AI_BACKEND_URL"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
		StateDir:         util.GetEnvOrDefault("TEMPLATEDESK_STATE_DIR", DefaultStateDir),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		SessionTTL:       util.ParseDurationEnv("SESSION_TTL", DefaultSessionTTL),
		ConversationTTL:  util.ParseDurationEnv("CONVERSATION_TTL", conversation.DefaultTTL),
		AutoValidate:     util.ParseBoolEnv("AUTO_VALIDATE", true),
		SecureCookies:    util.ParseBoolEnv("SECURE_COOKIES", false),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWhatsApp:   util.ParseBoolEnv("TWILIO_WHATSAPP", false),
		GuidelinesFile:   os.Getenv("GUIDELINES_FILE"),
		OutboxPollPeriod: util.ParseDurationEnv("OUTBOX_POLL_INTERVAL", store.DefaultOutboxPollInterval),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"API_ADDR", config.APIAddr,
		"TEMPLATE_BACKEND_URL", config.BackendURL,
		"AI_BACKEND_URL", config.AIBackendURL,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TEMPLATEDESK_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"SESSION_TTL", config.SessionTTL,
		"CONVERSATION_TTL", config.ConversationTTL,
		"AUTO_VALIDATE", config.AutoValidate,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"TWILIO_AUTH_TOKEN_SET", config.TwilioAuthToken != "",
		"GUIDELINES_FILE", config.GuidelinesFile)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	return parseFlags(flag.CommandLine, os.Args[1:], config)
}

func parseFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir:     fs.String("state-dir", config.StateDir, "state directory for TemplateDesk data (overrides $TEMPLATEDESK_STATE_DIR)"),
		dbDSN:        fs.String("db-dsn", config.DatabaseURL, "exchange log DSN, postgres URL or sqlite path (overrides $DATABASE_URL)"),
		redisURL:     fs.String("redis-url", config.RedisURL, "Redis URL for the session store (overrides $REDIS_URL)"),
		apiAddr:      fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		backendURL:   fs.String("backend-url", config.BackendURL, "template backend base URL (overrides $TEMPLATE_BACKEND_URL)"),
		aiBackendURL: fs.String("ai-backend-url", config.AIBackendURL, "AI backend base URL; empty uses OpenAI directly (overrides $AI_BACKEND_URL)"),
		openaiKey:    fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:  fs.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		guidelines:   fs.String("guidelines-file", config.GuidelinesFile, "review guidelines used by OpenAI validation (overrides $GUIDELINES_FILE)"),
		autoValidate: fs.Bool("auto-validate", config.AutoValidate, "validate after every accepted exchange (overrides $AUTO_VALIDATE)"),
	}

	if err := fs.Parse(args); err != nil {
		slog.Warn("flag parsing failed", "error", err)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisURL_set", *flags.redisURL != "",
		"apiAddr", *flags.apiAddr,
		"backendURL", *flags.backendURL,
		"aiBackendURL", *flags.aiBackendURL,
		"openaiKeySet", *flags.openaiKey != "",
		"autoValidate", *flags.autoValidate)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// appStore is an exchange log that also carries the delivery outbox.
type appStore interface {
	store.Store
	store.OutboxRepo
}

// openStore opens the Postgres or SQLite store named by dsn. SQLite stores
// take the state directory lock; the returned release func drops it.
func openStore(dsn, stateDir string) (appStore, func(), error) {
	opts := buildStoreOptions(dsn)
	if store.DetectDSNType(dsn) == "postgres" {
		st, err := store.NewPostgresStore(opts...)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}

	lock, err := lockfile.AcquireLock(stateDir)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewSQLiteStore(opts...)
	if err != nil {
		lock.Release()
		return nil, nil, err
	}
	return st, func() {
		if err := lock.Release(); err != nil {
			slog.Warn("failed to release state lock", "error", err)
		}
	}, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(dsn string) []store.Option {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(dsn)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
	return []store.Option{store.WithSQLiteDSN(dsn)}
}

// openSessionStore returns a Redis store with an in-memory fallback, or an
// in-memory store when no Redis URL is configured.
func openSessionStore(ctx context.Context, redisURL string, ttl time.Duration) session.Store {
	memory := session.NewMemoryStore(ttl)
	if redisURL == "" {
		slog.Debug("No REDIS_URL provided, using in-memory session store")
		return memory
	}
	rs, err := session.NewRedisStoreFromURL(ctx, redisURL, ttl)
	if err != nil {
		slog.Warn("Redis session store unavailable, using in-memory store", "error", err)
		return memory
	}
	slog.Info("Using Redis session store with in-memory fallback")
	return session.NewFallbackStore(rs, memory)
}

// generatorValidator is the AI collaborator of every conversation.
type generatorValidator interface {
	conversation.Generator
	conversation.Validator
}

// buildGenerator picks the remote AI backend when configured, otherwise the
// in-process OpenAI client.
func buildGenerator(config Config, flags Flags) (generatorValidator, error) {
	if *flags.aiBackendURL != "" {
		slog.Debug("Using remote AI backend", "url", *flags.aiBackendURL)
		return generation.NewHTTPGenerator(*flags.aiBackendURL)
	}
	opts, err := buildGenAIOptions(config, flags)
	if err != nil {
		return nil, err
	}
	return genai.NewClient(opts...)
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config, flags Flags) ([]genai.Option, error) {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.guidelines != "" {
		data, err := os.ReadFile(*flags.guidelines)
		if err != nil {
			return nil, fmt.Errorf("failed to read guidelines file: %w", err)
		}
		genaiOpts = append(genaiOpts, genai.WithGuidelines(string(data)))
	}
	if config.GenAIDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true, *flags.stateDir))
	}
	return genaiOpts, nil
}

// buildTwilioOptions constructs Twilio sender options
func buildTwilioOptions(config Config) []messaging.TwilioOption {
	var opts []messaging.TwilioOption
	if config.TwilioAccountSID != "" {
		opts = append(opts, messaging.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		opts = append(opts, messaging.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFrom != "" {
		opts = append(opts, messaging.WithFrom(config.TwilioFrom))
	}
	if config.TwilioWhatsApp {
		opts = append(opts, messaging.WithWhatsApp(true))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if config.SecureCookies {
		apiOpts = append(apiOpts, api.WithSecureCookies(true))
	}
	return apiOpts
}

// run wires every module and serves until ctx is cancelled.
func run(ctx context.Context, config Config, flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	st, release, err := openStore(*flags.dbDSN, *flags.stateDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer release()
	defer st.Close()

	sessionStore := openSessionStore(ctx, *flags.redisURL, config.SessionTTL)
	defer sessionStore.Close()
	sessions := session.NewManager(sessionStore)

	client, err := backend.NewClient(
		backend.WithBaseURL(*flags.backendURL),
		backend.WithTokenUpdater(sessions.UpdateTokens),
	)
	if err != nil {
		return err
	}

	gen, err := buildGenerator(config, flags)
	if err != nil {
		return fmt.Errorf("failed to configure generator: %w", err)
	}

	conversations := conversation.NewManager(conversation.ManagerConfig{
		Loader:    client,
		Generator: gen,
		Sessions:  sessions,
		TTL:       config.ConversationTTL,
		Options: []conversation.Option{
			conversation.WithValidator(gen),
			conversation.WithAutoValidate(*flags.autoValidate),
			conversation.WithPersister(client),
			conversation.WithRecorder(st),
		},
	})

	sched := scheduler.NewScheduler()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
		defer cancel()
		sched.Stop(stopCtx)
	}()
	if err := sched.AddJob("conversation-sweep", scheduler.EveryMinute, func() {
		if n := conversations.Sweep(); n > 0 {
			slog.Debug("expired conversations swept", "count", n)
		}
	}); err != nil {
		return err
	}

	deps := api.Deps{
		Sessions:      sessions,
		Directory:     client,
		Conversations: conversations,
		Exchanges:     st,
	}

	sender, err := messaging.NewTwilioSender(buildTwilioOptions(config)...)
	if err != nil {
		slog.Warn("Twilio not configured, template test delivery disabled", "error", err)
	} else {
		msgService := messaging.NewService(sender, st)
		deps.Outbox = st
		deps.Messaging = msgService

		outbox := store.NewOutboxSender(st, msgService.Deliver, config.OutboxPollPeriod)
		recoverOutbox := func() {
			if err := outbox.RecoverStaleMessages(); err != nil {
				slog.Warn("outbox recovery failed", "error", err)
			}
		}
		recoverOutbox()
		if err := sched.AddJob("outbox-recovery", scheduler.EveryFiveMinutes, recoverOutbox); err != nil {
			return err
		}
		go outbox.Run(ctx)
	}

	server, err := api.NewServer(deps, buildAPIOptions(config, flags)...)
	if err != nil {
		return err
	}
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
