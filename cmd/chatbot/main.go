package main

import (
	"context"
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
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/api"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/otp"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/scheduler"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/store"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for chatbot state data
	DefaultStateDir = "/var/lib/chatbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "chatbot.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Transports selectable with TRANSPORT / --transport.
const (
	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
	TransportLog       = "log"
)

func main() {
	// Initialize structured logger at info until the configured level is known
	initializeLogger(slog.LevelInfo)

	config := loadEnvironmentConfig()
	if err := parseCommandLineFlags(&config, os.Args[1:]); err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	initializeLogger(parseLogLevel(config.LogLevel))

	if err := config.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping chatbot", "transport", config.Transport, "api_addr", config.APIAddr, "state_dir", config.StateDir)
	if err := run(ctx, config); err != nil {
		slog.Error("Chatbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Chatbot exited successfully")
}

// Config holds the resolved configuration: .env, then environment, then flags.
type Config struct {
	StateDir         string
	DatabaseURL      string
	APIAddr          string
	Transport        string
	WhatsAppDSN      string
	QROutput         string
	NumericCode      bool
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioNumber     string
	TwilioWebhookURL string
	BotNumber        string
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPass         string
	EmailFrom        string
	RedisURL         string
	DailyUpdateCron  string
	OTPCooldown      time.Duration
	Greeting         string
	PrintQR          bool
	LogLevel         string
}

// initializeLogger sets up structured text logging at level
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
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
		StateDir:         util.GetEnv("CHATBOT_STATE_DIR", DefaultStateDir),
		DatabaseURL:      util.GetEnv("DATABASE_URL", ""),
		APIAddr:          util.GetEnv("API_ADDR", api.DefaultAddr),
		Transport:        strings.ToLower(util.GetEnv("TRANSPORT", TransportTwilio)),
		WhatsAppDSN:      util.GetEnv("WHATSMEOW_DB_DSN", ""),
		TwilioAccountSID: util.GetEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  util.GetEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioNumber:     util.GetEnv("TWILIO_WHATSAPP_NUMBER", ""),
		TwilioWebhookURL: util.GetEnv("TWILIO_WEBHOOK_URL", ""),
		BotNumber:        util.GetEnv("BOT_NUMBER", ""),
		SMTPHost:         util.GetEnv("SMTP_HOST", ""),
		SMTPPort:         util.ParseIntEnv("SMTP_PORT", 0),
		SMTPUser:         util.GetEnv("SMTP_USER", ""),
		SMTPPass:         os.Getenv("SMTP_PASS"),
		EmailFrom:        util.GetEnv("EMAIL_FROM", ""),
		RedisURL:         util.GetEnv("REDIS_URL", ""),
		DailyUpdateCron:  util.GetEnv("DAILY_UPDATE_CRON", ""),
		OTPCooldown:      util.ParseDurationEnv("OTP_COOLDOWN", otp.DefaultCooldown),
		Greeting:         util.GetEnv("BOT_GREETING", api.DefaultGreeting),
		PrintQR:          util.ParseBoolEnv("PRINT_QR", false),
		LogLevel:         util.GetEnv("LOG_LEVEL", "info"),
	}

	slog.Debug("environment variables loaded",
		"CHATBOT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"TRANSPORT", config.Transport,
		"TWILIO_CREDENTIALS_SET", config.TwilioAccountSID != "" && config.TwilioAuthToken != "",
		"SMTP_HOST", config.SMTPHost,
		"REDIS_URL_SET", config.RedisURL != "",
		"DAILY_UPDATE_CRON", config.DailyUpdateCron)

	return config
}

// parseCommandLineFlags overrides config with command line arguments.
func parseCommandLineFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("chatbot", flag.ContinueOnError)
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for chatbot data (overrides $CHATBOT_STATE_DIR)")
	fs.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "Postgres DSN or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.Transport, "transport", config.Transport, "chat transport: twilio, whatsmeow or log (overrides $TRANSPORT)")
	fs.StringVar(&config.WhatsAppDSN, "whatsmeow-db-dsn", config.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSMEOW_DB_DSN)")
	fs.StringVar(&config.QROutput, "qr-output", config.QROutput, "path to write the whatsmeow login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "print the raw whatsmeow login code instead of a QR code")
	fs.StringVar(&config.RedisURL, "redis-url", config.RedisURL, "Redis URL for the distributed turn lock (overrides $REDIS_URL)")
	fs.StringVar(&config.DailyUpdateCron, "daily-update-cron", config.DailyUpdateCron, "cron schedule for daily updates, empty disables (overrides $DAILY_UPDATE_CRON)")
	fs.DurationVar(&config.OTPCooldown, "otp-cooldown", config.OTPCooldown, "minimum time between verification codes (overrides $OTP_COOLDOWN)")
	fs.BoolVar(&config.PrintQR, "print-qr", config.PrintQR, "print the chat deep link QR code at startup (overrides $PRINT_QR)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	config.Transport = strings.ToLower(config.Transport)

	// The SQLite file follows the state directory unless a DSN was given.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}
	if config.BotNumber == "" {
		config.BotNumber = config.TwilioNumber
	}

	slog.Debug("flags parsed",
		"stateDir", config.StateDir,
		"dbDSN_set", config.DatabaseURL != "",
		"apiAddr", config.APIAddr,
		"transport", config.Transport,
		"otpCooldown", config.OTPCooldown)
	return nil
}

// Validate checks settings that would otherwise fail late at runtime.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportTwilio, TransportWhatsmeow, TransportLog:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.DailyUpdateCron != "" {
		if err := scheduler.Validate(c.DailyUpdateCron); err != nil {
			return err
		}
	}
	if c.OTPCooldown <= 0 {
		return fmt.Errorf("otp cooldown must be positive, got %s", c.OTPCooldown)
	}
	return nil
}

// usesSQLite reports whether the application store is a local SQLite file.
func (c Config) usesSQLite() bool {
	return store.DetectDSNType(c.DatabaseURL) == store.DriverSQLite
}

// needsLockfile reports whether two instances could corrupt each other: a local
// SQLite file combined with the in-process turn coordinator.
func (c Config) needsLockfile() bool {
	return c.usesSQLite() && c.RedisURL == ""
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(c Config) []store.Option {
	if c.DatabaseURL == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return nil
	}
	if !c.usesSQLite() {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return []store.Option{store.WithPostgresDSN(c.DatabaseURL)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", c.DatabaseURL)
	return []store.Option{store.WithSQLiteDSN(c.DatabaseURL)}
}
