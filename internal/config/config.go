package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// Store backends
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"

	// Telephony defaults
	DefaultRingTimeoutSeconds = 30
	DefaultVoice              = "alice"
	DefaultVoiceLanguage      = "en-US"
	DefaultSpeechModel        = "experimental_conversations"
	DefaultGatherTimeout      = 3
	DefaultSpeechTimeout      = 2

	// Completion defaults
	DefaultGeminiBaseURL     = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel       = "gemini-1.5-flash"
	DefaultCompletionTimeout = 10 * time.Second

	// Conversation defaults
	DefaultAssistantName     = "Otto"
	DefaultPrincipalName     = "the customer"
	DefaultMaxNoInputPrompts = 3
	DefaultConversationTTL   = 2 * time.Hour
	DefaultCleanupInterval   = 5 * time.Minute
)

// CallConfig holds everything the outbound call service needs at runtime
type CallConfig struct {
	Port   string
	LogEnv string

	// Twilio configuration
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// Public URL Twilio uses to reach the voice and status webhooks
	PublicBaseURL string

	// Gemini configuration
	GeminiAPIKey      string
	GeminiBaseURL     string
	GeminiModel       string
	CompletionTimeout time.Duration

	// Persona used in prompts
	AssistantName string
	PrincipalName string

	// Voice response configuration
	Voice              string
	VoiceLanguage      string
	SpeechModel        string
	GatherTimeout      int
	SpeechTimeout      int
	RingTimeoutSeconds int
	MaxNoInputPrompts  int

	// Outbound call rate limit
	CallRatePerSecond float64
	CallRateBurst     int

	// Conversation store configuration
	StoreBackend    string
	ConversationTTL time.Duration
	CleanupInterval time.Duration

	// Redis configuration (only used when StoreBackend is "redis")
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
}

// LoadConfig loads the call service configuration from environment variables.
// .env files are loaded by main before this is called.
func LoadConfig() *CallConfig {
	return &CallConfig{
		Port:   getEnvOrDefault("PORT", "8080"),
		LogEnv: getEnvOrDefault("LOG_ENV", "development"),

		TwilioAccountSID:  getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber: getEnvOrDefault("TWILIO_PHONE_NUMBER", ""),

		PublicBaseURL: strings.TrimSuffix(getEnvOrDefault("PUBLIC_BASE_URL", ""), "/"),

		GeminiAPIKey:      getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiBaseURL:     getEnvOrDefault("GEMINI_BASE_URL", DefaultGeminiBaseURL),
		GeminiModel:       getEnvOrDefault("GEMINI_MODEL", DefaultGeminiModel),
		CompletionTimeout: getEnvAsDurationOrDefault("COMPLETION_TIMEOUT", DefaultCompletionTimeout),

		AssistantName: getEnvOrDefault("ASSISTANT_NAME", DefaultAssistantName),
		PrincipalName: getEnvOrDefault("PRINCIPAL_NAME", DefaultPrincipalName),

		Voice:              getEnvOrDefault("VOICE", DefaultVoice),
		VoiceLanguage:      getEnvOrDefault("VOICE_LANGUAGE", DefaultVoiceLanguage),
		SpeechModel:        getEnvOrDefault("SPEECH_MODEL", DefaultSpeechModel),
		GatherTimeout:      getEnvAsIntOrDefault("GATHER_TIMEOUT", DefaultGatherTimeout),
		SpeechTimeout:      getEnvAsIntOrDefault("SPEECH_TIMEOUT", DefaultSpeechTimeout),
		RingTimeoutSeconds: getEnvAsIntOrDefault("RING_TIMEOUT", DefaultRingTimeoutSeconds),
		MaxNoInputPrompts:  getEnvAsIntOrDefault("MAX_NO_INPUT_PROMPTS", DefaultMaxNoInputPrompts),

		CallRatePerSecond: getEnvAsFloatOrDefault("CALL_RATE_PER_SECOND", 1),
		CallRateBurst:     getEnvAsIntOrDefault("CALL_RATE_BURST", 1),

		StoreBackend:    strings.ToLower(getEnvOrDefault("STORE_BACKEND", StoreBackendMemory)),
		ConversationTTL: getEnvAsDurationOrDefault("CONVERSATION_TTL", DefaultConversationTTL),
		CleanupInterval: getEnvAsDurationOrDefault("CLEANUP_INTERVAL", DefaultCleanupInterval),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsIntOrDefault("REDIS_DB", 0),
	}
}

// Validate returns the names of required settings that are missing.
// Missing settings are reported, not fatal: the service still starts.
func (c *CallConfig) Validate() []string {
	required := []struct {
		name  string
		value string
	}{
		{"TWILIO_ACCOUNT_SID", c.TwilioAccountSID},
		{"TWILIO_AUTH_TOKEN", c.TwilioAuthToken},
		{"TWILIO_PHONE_NUMBER", c.TwilioPhoneNumber},
		{"GEMINI_API_KEY", c.GeminiAPIKey},
		{"PUBLIC_BASE_URL", c.PublicBaseURL},
	}

	missing := make([]string, 0)
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	return missing
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault accepts Go durations ("90s") or plain seconds ("90")
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
