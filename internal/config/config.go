// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBDriver        string // "sqlite" or "postgres"
	DBPath          string
	DatabaseURL     string
	Identity        IdentityConfig
	Model           ModelConfig
	Interview       InterviewConfig
	RateLimit       RateLimitConfig
	Room            RoomConfig
	Kafka           KafkaConfig
	ConversationLog ConversationLogConfig
	MetricsEnabled  bool
}

// IdentityConfig selects how requests are attributed to a user.
type IdentityConfig struct {
	Mode   string // "anonymous" or "header"
	Header string
}

// ModelConfig holds the language model settings. Generation parameters are
// fixed here and never taken from requests.
type ModelConfig struct {
	Provider        string // "gemini" or "openai"
	APIKey          string
	Name            string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration
}

// InterviewConfig describes the interviewer persona and turn-taking behavior.
type InterviewConfig struct {
	OpeningLine       string        `yaml:"opening_line"`
	SystemInstruction string        `yaml:"system_instruction"`
	FirstTurnPreamble string        `yaml:"first_turn_preamble"`
	AutoSubmitDelay   time.Duration `yaml:"auto_submit_delay"`
	AutoListen        bool          `yaml:"auto_listen"`
	ResumeListening   bool          `yaml:"resume_listening"`
	Voice             VoiceConfig   `yaml:"voice"`
}

// VoiceConfig controls speech synthesis voice selection.
type VoiceConfig struct {
	Language  string   `yaml:"language"`
	Preferred []string `yaml:"preferred"`
	Rate      float64  `yaml:"rate"`
	Pitch     float64  `yaml:"pitch"`
}

// RateLimitConfig bounds chat requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// RoomConfig controls interview room WebSocket lifecycle.
type RoomConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// KafkaConfig controls turn event publishing.
type KafkaConfig struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	Principal string
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

const (
	DefaultOpeningLine = "Hello! I am an AI interviewer here to assess your technical knowledge. " +
		"Please provide or tell me your skills to start the interview."

	DefaultSystemInstruction = "You are a friendly but professional technical interviewer. " +
		"Ask one conceptual question at a time based on the candidate's stack. " +
		"Wait for the answer, give short feedback, then ask the next question. " +
		"Keep responses concise and focused on technical concepts."

	DefaultFirstTurnPreamble = "Act as a strict but friendly technical interviewer. " +
		"Your goal is to test the candidate.\n" +
		"- Ask ONE conceptual question at a time.\n" +
		"- Keep answers short (max 100 words).\n" +
		"- Review the candidate's answer and then ask the next question."
)

// DefaultPreferredVoices lists voice names tried first, in order.
var DefaultPreferredVoices = []string{
	"Microsoft David",
	"Microsoft Mark",
	"Microsoft Ryan",
	"Google UK English Male",
	"Google US English",
	"Daniel",
	"Alex",
}

// DefaultInterview returns the built-in interviewer settings.
func DefaultInterview() InterviewConfig {
	return InterviewConfig{
		OpeningLine:       DefaultOpeningLine,
		SystemInstruction: DefaultSystemInstruction,
		FirstTurnPreamble: DefaultFirstTurnPreamble,
		AutoSubmitDelay:   4 * time.Second,
		AutoListen:        false,
		ResumeListening:   false,
		Voice: VoiceConfig{
			Language:  "en-US",
			Preferred: append([]string(nil), DefaultPreferredVoices...),
			Rate:      0.95,
			Pitch:     1.0,
		},
	}
}

// Load reads configuration from environment variables, then applies the
// optional YAML file named by CONFIG_FILE.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	provider := strings.ToLower(getEnv("MODEL_PROVIDER", "gemini"))
	interview := DefaultInterview()
	interview.OpeningLine = getEnv("INTERVIEW_OPENING_LINE", interview.OpeningLine)
	interview.AutoSubmitDelay = getEnvDuration("INTERVIEW_AUTO_SUBMIT_DELAY", interview.AutoSubmitDelay)
	interview.AutoListen = getEnvBool("INTERVIEW_AUTO_LISTEN", interview.AutoListen)
	interview.ResumeListening = getEnvBool("INTERVIEW_RESUME_LISTENING", interview.ResumeListening)
	interview.Voice.Language = getEnv("INTERVIEW_VOICE_LANGUAGE", interview.Voice.Language)

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:      getEnv("DB_PATH", "./data/interview.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Identity: IdentityConfig{
			Mode:   strings.ToLower(getEnv("IDENTITY_MODE", "anonymous")),
			Header: getEnv("IDENTITY_HEADER", "X-User-ID"),
		},
		Model: ModelConfig{
			Provider:        provider,
			APIKey:          modelAPIKey(provider),
			Name:            getEnv("MODEL_NAME", defaultModelName(provider)),
			Temperature:     getEnvFloat("MODEL_TEMPERATURE", 0.7),
			MaxOutputTokens: getEnvInt("MODEL_MAX_OUTPUT_TOKENS", 500),
			Timeout:         getEnvDuration("MODEL_TIMEOUT", 30*time.Second),
		},
		Interview: interview,
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Room: RoomConfig{
			IdleTTL:       getEnvDuration("ROOM_IDLE_TTL", 30*time.Minute),
			SweepInterval: getEnvDuration("ROOM_SWEEP_INTERVAL", time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:   getEnvBool("KAFKA_ENABLED", false),
			Brokers:   getEnvList("KAFKA_BROKERS"),
			Topic:     getEnv("KAFKA_TOPIC_TURNS", "interview.turns"),
			Principal: getEnv("KAFKA_PRINCIPAL", "interview-room"),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.Identity.Mode {
	case "anonymous":
	case "header":
		if c.Identity.Header == "" {
			return fmt.Errorf("IDENTITY_HEADER cannot be empty in header mode")
		}
	default:
		return fmt.Errorf("unsupported IDENTITY_MODE %q", c.Identity.Mode)
	}
	switch c.Model.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unsupported MODEL_PROVIDER %q", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("MODEL_NAME cannot be empty")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("MODEL_TEMPERATURE must be within [0, 2]")
	}
	if c.Model.MaxOutputTokens <= 0 {
		return fmt.Errorf("MODEL_MAX_OUTPUT_TOKENS must be > 0")
	}
	if c.Interview.AutoSubmitDelay <= 0 {
		return fmt.Errorf("INTERVIEW_AUTO_SUBMIT_DELAY must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// ModelConfigured reports whether a model API key is present. Without one the
// server still starts but chat requests fail with a configuration error.
func (c *Config) ModelConfigured() bool {
	return c.Model.APIKey != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func modelAPIKey(provider string) string {
	if key := getEnv("MODEL_API_KEY", ""); key != "" {
		return key
	}
	if provider == "openai" {
		return getEnv("OPENAI_API_KEY", "")
	}
	return getEnv("GEMINI_API_KEY", "")
}

func defaultModelName(provider string) string {
	if provider == "openai" {
		return "gpt-4o-mini"
	}
	return "gemini-2.0-flash"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
