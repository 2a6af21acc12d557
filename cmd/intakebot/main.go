package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/footcare-clinic/intakebot/internal/api"
	"github.com/footcare-clinic/intakebot/internal/flow"
	"github.com/footcare-clinic/intakebot/internal/genai"
	"github.com/footcare-clinic/intakebot/internal/messaging"
	"github.com/footcare-clinic/intakebot/internal/models"
	"github.com/footcare-clinic/intakebot/internal/store"
	"github.com/footcare-clinic/intakebot/internal/twiliowhatsapp"
	"github.com/footcare-clinic/intakebot/internal/util"
	"github.com/footcare-clinic/intakebot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for intake bot state data
	DefaultStateDir = "/var/lib/intakebot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "intakebot.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(config, flags); err != nil {
		slog.Error("Intake bot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Intake bot exited successfully")
}

// run wires the store, engine, messaging service and API server together and
// blocks until shutdown.
func run(config Config, flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	graph, err := flow.NewIntakeGraph()
	if err != nil {
		return err
	}

	analyzer := buildAnalyzer(flags)

	// The analyzer serves both enrichment side effects; when unavailable the
	// engine falls back to its degraded results.
	var images flow.ImageAnalyzer
	var symptoms flow.SymptomAnalyzer
	if analyzer != nil {
		images = analyzer
		symptoms = analyzer
	}
	engine := flow.NewEngine(graph, images, symptoms, st)

	var msgService messaging.Service
	var responder *messaging.Responder
	if *flags.messagingBackend != "none" {
		msgService, err = buildMessagingService(flags)
		if err != nil {
			return err
		}
		if err := msgService.Start(ctx); err != nil {
			return err
		}
		defer msgService.Stop()

		sessions := flow.NewStoreBasedSessionManager(st)
		responder = messaging.NewResponder(msgService, engine, graph, sessions)
		responder.Start(ctx)
	} else {
		slog.Info("Messaging backend disabled, running widget-only")
	}

	verifyToken := *flags.verifyToken
	if verifyToken == "" {
		verifyToken = util.GenerateRandomAlphaNumeric(32)
		slog.Warn("No WHATSAPP_VERIFY_TOKEN configured, generated one for this run", "verify_token", verifyToken)
	}

	server := api.NewServer(engine, graph, st, msgService, responder,
		api.WithAddr(*flags.apiAddr),
		api.WithVerifyToken(verifyToken),
		api.WithWidgetConfig(config.Widget),
	)

	slog.Info("Bootstrapping intake bot with configured modules",
		"backend", *flags.messagingBackend, "api_addr", *flags.apiAddr, "dsn_set", *flags.dbDSN != "")
	return server.Run(ctx)
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	WhatsAppDSN      string
	StateDir         string
	OpenAIKey        string
	APIAddr          string
	VerifyToken      string
	MessagingBackend string
	Widget           models.WidgetConfig
}

// Flags holds command line flag values
type Flags struct {
	qrOutput         *string
	numeric          *bool
	stateDir         *string
	dbDSN            *string
	whatsappDSN      *string
	openaiKey        *string
	apiAddr          *string
	verifyToken      *string
	messagingBackend *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:         os.Getenv("INTAKEBOT_STATE_DIR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		APIAddr:          os.Getenv("API_ADDR"),
		VerifyToken:      os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		MessagingBackend: os.Getenv("MESSAGING_BACKEND"),
		Widget: models.WidgetConfig{
			BotName:          envOrDefault("WIDGET_BOT_NAME", "Fiona"),
			ClinicLocation:   envOrDefault("WIDGET_CLINIC_LOCATION", "Dublin"),
			AllowImageUpload: util.ParseBoolEnv("WIDGET_ALLOW_IMAGE_UPLOAD", true),
			ThemeColor:       envOrDefault("WIDGET_THEME_COLOR", "#34a853"),
			Position:         envOrDefault("WIDGET_POSITION", "bottom-right"),
		},
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No INTAKEBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	// The whatsmeow client keeps its own database; default it alongside ours
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}

	if config.MessagingBackend == "" {
		config.MessagingBackend = "none"
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"INTAKEBOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"WHATSAPP_VERIFY_TOKEN_SET", config.VerifyToken != "",
		"MESSAGING_BACKEND", config.MessagingBackend)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:         flag.String("qr-output", "", "path to write login QR code"),
		numeric:          flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for intake bot data (overrides $INTAKEBOT_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "database DSN for the session and consultation store (overrides $DATABASE_URL)"),
		whatsappDSN:      flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the whatsmeow client (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		verifyToken:      flag.String("verify-token", config.VerifyToken, "Meta webhook verification token (overrides $WHATSAPP_VERIFY_TOKEN)"),
		messagingBackend: flag.String("messaging-backend", config.MessagingBackend, "WhatsApp backend: whatsmeow, twilio or none (overrides $MESSAGING_BACKEND)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"messagingBackend", *flags.messagingBackend)

	// Update database DSNs if not explicitly set but state directory is provided
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		if *flags.whatsappDSN == filepath.Join(config.StateDir, "whatsmeow.db") {
			*flags.whatsappDSN = filepath.Join(*flags.stateDir, "whatsmeow.db")
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == store.DSNTypeSQLite {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore creates the session and consultation store from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == store.DSNTypePostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildAnalyzer creates the AI analyzer, or returns nil when no key is
// configured so the engine runs with degraded analysis fallbacks.
func buildAnalyzer(flags Flags) *genai.Analyzer {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	analyzer, err := genai.NewAnalyzer(genaiOpts...)
	if err != nil {
		slog.Warn("AI analyzer unavailable, analyses will use fallback results", "error", err)
		return nil
	}
	return analyzer
}

// buildMessagingService creates the configured WhatsApp messaging backend.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch strings.ToLower(*flags.messagingBackend) {
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	default:
		waOpts := buildWhatsAppOptions(flags)
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}

// buildWhatsAppOptions constructs WhatsApp client configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}
	return waOpts
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
