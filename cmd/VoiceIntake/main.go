package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/VoiceIntake/internal/api"
	"github.com/BTreeMap/VoiceIntake/internal/genai"
	"github.com/BTreeMap/VoiceIntake/internal/interview"
	"github.com/BTreeMap/VoiceIntake/internal/lockfile"
	"github.com/BTreeMap/VoiceIntake/internal/store"
	"github.com/BTreeMap/VoiceIntake/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for VoiceIntake state data
	DefaultStateDir = "/var/lib/voiceintake"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "voiceintake.db"
	// DefaultHistoryTTL expires Redis conversation history after a day of inactivity
	DefaultHistoryTTL = 24 * time.Hour
)

func main() {
	os.Exit(run())
}

func run() int {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		slog.Error("Failed to parse command line flags", "error", err)
		return 2
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		return 1
	}

	// One process per SQLite state directory
	if dir, ok := sqliteStateDir(flags); ok {
		lock, err := lockfile.Acquire(dir, flags.APIAddr)
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			return 1
		}
		defer lock.Release()
	}

	// Build module options
	storeCfg := buildStoreConfig(flags)
	interviewCfg := buildInterviewConfig(flags)
	genaiOpts := buildGenAIOptions(flags, interviewCfg)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping VoiceIntake with configured modules")
	slog.Debug("Module options counts", "genai", len(genaiOpts), "api", len(apiOpts))
	slog.Debug("Final configuration",
		"state_dir", flags.StateDir,
		"dsn_set", storeCfg.SQLDSN != "",
		"mongo_set", storeCfg.MongoURI != "",
		"redis_set", storeCfg.RedisURL != "",
		"api_addr", flags.APIAddr,
		"reply_model", interviewCfg.ReplyModel,
		"extraction_model", interviewCfg.ExtractionModel,
		"default_voice", interviewCfg.DefaultVoice,
		"merge_extraction", interviewCfg.MergeExtraction)
	if err := api.Run(storeCfg, genaiOpts, interviewCfg, apiOpts); err != nil {
		slog.Error("VoiceIntake failed to run", "error", err)
		return 1
	}
	slog.Info("VoiceIntake exited successfully")
	return 0
}

// Config holds environment configuration
type Config struct {
	StateDir    string
	DatabaseURL string
	MongoURI    string
	MongoDBName string
	RedisURL    string
	HistoryTTL  time.Duration

	OpenAIKey            string
	OpenAIBaseURL        string
	TranscriptionBaseURL string
	TranscriptionAPIKey  string

	ReplyModel         string
	ExtractionModel    string
	Temperature        float64
	MaxTokens          int
	TTSModel           string
	TranscriptionModel string
	TTSVoice           string
	MergeExtraction    bool

	QuestionnaireCode string
	APIAddr           string
	CORSOrigins       []string
}

// Flags holds command line flag values
type Flags struct {
	Config
	InMemory bool
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

	defaults := interview.DefaultConfig()
	config := Config{
		StateDir:             os.Getenv("VOICEINTAKE_STATE_DIR"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		MongoURI:             os.Getenv("MONGODB_URI"),
		MongoDBName:          os.Getenv("MONGODB_DBNAME"),
		RedisURL:             os.Getenv("REDIS_URL"),
		HistoryTTL:           util.ParseDurationEnv("HISTORY_TTL", DefaultHistoryTTL),
		OpenAIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:        os.Getenv("OPENAI_BASE_URL"),
		TranscriptionBaseURL: os.Getenv("TRANSCRIPTION_BASE_URL"),
		TranscriptionAPIKey:  os.Getenv("TRANSCRIPTION_API_KEY"),
		ReplyModel:           envOr("REPLY_MODEL", defaults.ReplyModel),
		ExtractionModel:      envOr("EXTRACTION_MODEL", defaults.ExtractionModel),
		Temperature:          util.ParseFloatEnv("MODEL_TEMPERATURE", defaults.Temperature),
		MaxTokens:            util.ParseIntEnv("MAX_TOKENS", defaults.MaxTokens),
		TTSModel:             envOr("TTS_MODEL", defaults.TTSModel),
		TranscriptionModel:   envOr("TRANSCRIPTION_MODEL", defaults.TranscriptionModel),
		TTSVoice:             os.Getenv("TTS_VOICE"),
		MergeExtraction:      util.ParseBoolEnv("EXTRACTION_MERGE", false),
		QuestionnaireCode:    os.Getenv("QUESTIONNAIRE_CODE"),
		APIAddr:              os.Getenv("API_ADDR"),
		CORSOrigins:          util.SplitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VOICEINTAKE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("VOICEINTAKE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"VOICEINTAKE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"MONGODB_URI_SET", config.MongoURI != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_BASE_URL_SET", config.OpenAIBaseURL != "",
		"TRANSCRIPTION_BASE_URL_SET", config.TranscriptionBaseURL != "",
		"API_ADDR", config.APIAddr,
		"TTS_VOICE", config.TTSVoice,
		"CORS_ALLOWED_ORIGINS", config.CORSOrigins)

	return config
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	flags := Flags{Config: config}
	fs := flag.NewFlagSet("VoiceIntake", flag.ContinueOnError)
	fs.StringVar(&flags.StateDir, "state-dir", config.StateDir, "state directory for VoiceIntake data (overrides $VOICEINTAKE_STATE_DIR)")
	fs.StringVar(&flags.DatabaseURL, "db-dsn", config.DatabaseURL, "PostgreSQL DSN or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&flags.MongoURI, "mongodb-uri", config.MongoURI, "MongoDB URI for response records (overrides $MONGODB_URI)")
	fs.StringVar(&flags.RedisURL, "redis-url", config.RedisURL, "Redis URL for conversation history (overrides $REDIS_URL)")
	fs.BoolVar(&flags.InMemory, "in-memory", false, "keep all data in memory (testing only)")
	fs.StringVar(&flags.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&flags.ReplyModel, "reply-model", config.ReplyModel, "model for conversational replies (overrides $REPLY_MODEL)")
	fs.StringVar(&flags.ExtractionModel, "extraction-model", config.ExtractionModel, "model for record extraction (overrides $EXTRACTION_MODEL)")
	fs.StringVar(&flags.TTSVoice, "tts-voice", config.TTSVoice, "default text-to-speech voice (overrides $TTS_VOICE)")
	fs.BoolVar(&flags.MergeExtraction, "merge-extraction", config.MergeExtraction, "merge extracted answers into the stored record (overrides $EXTRACTION_MERGE)")
	fs.StringVar(&flags.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	slog.Debug("flags parsed",
		"stateDir", flags.StateDir,
		"dbDSN_set", flags.DatabaseURL != "",
		"inMemory", flags.InMemory,
		"openaiKeySet", flags.OpenAIKey != "",
		"replyModel", flags.ReplyModel,
		"extractionModel", flags.ExtractionModel,
		"ttsVoice", flags.TTSVoice,
		"apiAddr", flags.APIAddr)

	// Update database DSN if not explicitly set but state directory is provided
	if flags.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && flags.StateDir != config.StateDir {
		flags.DatabaseURL = filepath.Join(flags.StateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", flags.StateDir)
	}
	if flags.InMemory {
		flags.DatabaseURL = ""
	}
	if flags.TTSVoice != "" && !genai.IsSupportedVoice(flags.TTSVoice) {
		return flags, fmt.Errorf("unsupported TTS voice %q", flags.TTSVoice)
	}

	return flags, nil
}

// usesSQL reports whether any data lives in the SQL store.
func usesSQL(flags Flags) bool {
	return flags.DatabaseURL != "" && (flags.MongoURI == "" || flags.RedisURL == "")
}

// sqliteStateDir returns the directory of the SQLite database when one is used.
func sqliteStateDir(flags Flags) (string, bool) {
	if !usesSQL(flags) || store.DetectDSNType(flags.DatabaseURL) == "postgres" {
		return "", false
	}
	return filepath.Dir(flags.DatabaseURL), true
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	dir, ok := sqliteStateDir(flags)
	if !ok {
		return nil
	}
	slog.Debug("Creating state directory for file-based database", "state_dir", dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
		return err
	}
	return nil
}

// buildStoreConfig selects the store backends
func buildStoreConfig(flags Flags) store.Config {
	cfg := store.Config{
		MongoURI:      flags.MongoURI,
		MongoDatabase: flags.MongoDBName,
		RedisURL:      flags.RedisURL,
		HistoryTTL:    flags.HistoryTTL,
	}
	if usesSQL(flags) {
		cfg.SQLDSN = flags.DatabaseURL
		slog.Debug("SQL store configured", "dsn_type", store.DetectDSNType(flags.DatabaseURL))
	} else if flags.DatabaseURL == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return cfg
}

// buildGenAIOptions constructs GenAI configuration options. Model parameters
// come from the interview configuration; endpoints and keys from the flags.
func buildGenAIOptions(flags Flags, cfg interview.Config) []genai.Option {
	genaiOpts := []genai.Option{
		genai.WithModel(cfg.ReplyModel),
		genai.WithTemperature(cfg.Temperature),
		genai.WithMaxTokens(cfg.MaxTokens),
		genai.WithSpeechModel(cfg.TTSModel),
		genai.WithTranscription(flags.TranscriptionBaseURL, flags.TranscriptionAPIKey, cfg.TranscriptionModel),
	}
	if flags.OpenAIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(flags.OpenAIKey))
	}
	if flags.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(flags.OpenAIBaseURL))
	}
	return genaiOpts
}

// buildInterviewConfig constructs the interview configuration
func buildInterviewConfig(flags Flags) interview.Config {
	cfg := interview.DefaultConfig()
	cfg.ReplyModel = flags.ReplyModel
	cfg.ExtractionModel = flags.ExtractionModel
	cfg.Temperature = flags.Temperature
	cfg.MaxTokens = flags.MaxTokens
	cfg.TTSModel = flags.TTSModel
	cfg.TranscriptionModel = flags.TranscriptionModel
	cfg.DefaultVoice = util.PickVoice(flags.TTSVoice, genai.Voices)
	cfg.QuestionnaireCode = flags.QuestionnaireCode
	cfg.MergeExtraction = flags.MergeExtraction
	return cfg
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if flags.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.APIAddr))
	}
	if len(flags.CORSOrigins) > 0 {
		apiOpts = append(apiOpts, api.WithAllowedOrigins(flags.CORSOrigins...))
	}
	return apiOpts
}
