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
	"time"

	"github.com/joho/godotenv"
	"github.com/kapta-io/fieldbot/internal/api"
	"github.com/kapta-io/fieldbot/internal/flow"
	"github.com/kapta-io/fieldbot/internal/genai"
	"github.com/kapta-io/fieldbot/internal/lockfile"
	"github.com/kapta-io/fieldbot/internal/media"
	"github.com/kapta-io/fieldbot/internal/messaging"
	"github.com/kapta-io/fieldbot/internal/notify"
	"github.com/kapta-io/fieldbot/internal/store"
	"github.com/kapta-io/fieldbot/internal/util"
	"github.com/kapta-io/fieldbot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for field bot state data
	DefaultStateDir = "/var/lib/fieldbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "fieldbot.db"
	// DefaultMediaDirName is the subdirectory for archived media blobs
	DefaultMediaDirName = "media"
	// TransportCloudAPI selects the Meta Cloud API webhook transport
	TransportCloudAPI = "cloudapi"
	// TransportWhatsmeow selects the native Whatsmeow transport
	TransportWhatsmeow = "whatsmeow"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping field bot with configured modules")
	if err := run(flags); err != nil {
		slog.Error("Field bot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Field bot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	OpenAIKey     string
	APIAddr       string
	VerifyToken   string
	AccessToken   string
	PhoneNumberID string
	Transport     string
	TwilioSID     string
	OpsNumber     string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	openaiKey   *string
	apiAddr     *string
	verifyToken *string
	transport   *string
	qrOutput    *string
	numeric     *bool
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
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      util.EnvOrDefault("FIELDBOT_STATE_DIR", DefaultStateDir),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       util.EnvOrDefault("API_ADDR", api.DefaultAddr),
		VerifyToken:   os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		AccessToken:   os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		Transport:     os.Getenv("FIELDBOT_TRANSPORT"),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		OpsNumber:     os.Getenv("OPS_WHATSAPP_NUMBER"),
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.Transport == "" {
		if config.AccessToken != "" && config.PhoneNumberID != "" {
			config.Transport = TransportCloudAPI
		} else {
			config.Transport = TransportWhatsmeow
		}
		slog.Debug("No FIELDBOT_TRANSPORT set, inferred from credentials", "transport", config.Transport)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"FIELDBOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"WEBHOOK_VERIFY_TOKEN_SET", config.VerifyToken != "",
		"WHATSAPP_ACCESS_TOKEN_SET", config.AccessToken != "",
		"FIELDBOT_TRANSPORT", config.Transport,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for field bot data (overrides $FIELDBOT_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for conversation state (overrides $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for audio transcription (overrides $OPENAI_API_KEY)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		verifyToken: flag.String("verify-token", config.VerifyToken, "webhook verification token (overrides $WEBHOOK_VERIFY_TOKEN)"),
		transport:   flag.String("transport", config.Transport, "message transport: cloudapi or whatsmeow (overrides $FIELDBOT_TRANSPORT)"),
		qrOutput:    flag.String("qr-output", "", "path to write login QR code (whatsmeow transport)"),
		numeric:     flag.Bool("numeric-code", util.ParseBoolEnv("FIELDBOT_NUMERIC_CODE", false), "use numeric login code instead of QR code (whatsmeow transport)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport,
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory ready", "state_dir", stateDir)
	}
	return nil
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStateStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	dispatcher := flow.NewDispatcher(buildNotificationSink())

	engineOpts := buildEngineOptions(flags)
	engine := flow.NewEngine(st, dispatcher, engineOpts...)

	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Error("Failed to stop messaging service", "error", err)
		}
	}()

	responder := messaging.NewResponder(msgService, engine)
	responder.Start(ctx)

	emitter, _ := msgService.(api.MessageEmitter)
	apiOpts := []api.Option{api.WithVerifyToken(*flags.verifyToken)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(emitter, st, apiOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// buildStateStore selects the conversation state backend from the DSN.
func buildStateStore(flags Flags) (store.StateStore, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildNotificationSink prefers Twilio when credentials are present, falling
// back to log-only delivery.
func buildNotificationSink() flow.NotificationSink {
	if os.Getenv("TWILIO_ACCOUNT_SID") != "" {
		sink, err := notify.NewTwilioSink()
		if err != nil {
			slog.Error("Twilio sink unavailable, falling back to log sink", "error", err)
			return notify.NewLogSink()
		}
		slog.Info("Notifications routed to Twilio ops number")
		return sink
	}
	slog.Debug("No Twilio credentials, notifications routed to log")
	return notify.NewLogSink()
}

// buildEngineOptions constructs the media archiver when a blob directory is
// available.
func buildEngineOptions(flags Flags) []flow.EngineOption {
	blobDir := filepath.Join(*flags.stateDir, DefaultMediaDirName)
	blobs, err := media.NewBlobStore(blobDir)
	if err != nil {
		slog.Error("Media blob store unavailable, media archiving disabled", "error", err)
		return nil
	}

	var fetcher *media.Fetcher
	if os.Getenv("WHATSAPP_ACCESS_TOKEN") != "" {
		fetcher, err = media.NewFetcher()
		if err != nil {
			slog.Error("Media fetcher unavailable", "error", err)
		}
	}

	var archiverOpts []media.ArchiverOption
	if *flags.openaiKey != "" {
		transcriber, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Error("Transcription unavailable", "error", err)
		} else {
			archiverOpts = append(archiverOpts, media.WithTranscriber(transcriber))
		}
	}

	archiver := media.NewArchiver(fetcher, blobs, archiverOpts...)
	return []flow.EngineOption{flow.WithArchiver(archiver)}
}

// buildMessagingService selects the transport from configuration.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch strings.ToLower(*flags.transport) {
	case TransportWhatsmeow:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.dbDSN)}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		slog.Info("Messaging transport: whatsmeow")
		return messaging.NewWhatsAppService(client), nil

	default:
		service, err := messaging.NewCloudAPIService()
		if err != nil {
			return nil, err
		}
		slog.Info("Messaging transport: cloudapi")
		return service, nil
	}
}
