package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	Environment     string
	InstanceID      string
	FirebaseProject string

	// AuthProvider selects the credential verifier: "jwt" or "firebase".
	AuthProvider string
	JWTSecret    string
	JWKSURL      string
	JWTIssuer    string
	AuthTimeout  time.Duration

	// StorageDriver selects the persistence store: "firestore" or "memory".
	StorageDriver string
	// IdentitySeedFile is a JSON file of customers and operators loaded into
	// the memory identity store.
	IdentitySeedFile string

	RedisURL     string
	RedisChannel string

	// PresenceTTL bounds how long a crashed instance's connections keep
	// reading as online in Redis.
	PresenceTTL time.Duration

	MaxContentLength int
	SendBufferSize   int
	ReadLimitBytes   int64
	PongWait         time.Duration
	AllowedOrigins   []string

	MessagesPerMinute int
	TypingPerMinute   int
}

func Load() (*Config, error) {
	godotenv.Load()

	hostname, _ := os.Hostname()

	config := &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		InstanceID:        getEnv("INSTANCE_ID", hostname),
		FirebaseProject:   getEnv("FIREBASE_PROJECT_ID", ""),
		AuthProvider:      strings.ToLower(getEnv("AUTH_PROVIDER", "jwt")),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWKSURL:           getEnv("JWKS_URL", ""),
		JWTIssuer:         getEnv("JWT_ISSUER", ""),
		AuthTimeout:       getEnvAsDuration("AUTH_TIMEOUT", 10*time.Second),
		StorageDriver:     strings.ToLower(getEnv("STORAGE_DRIVER", "firestore")),
		IdentitySeedFile:  getEnv("IDENTITY_SEED_FILE", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		RedisChannel:      getEnv("REDIS_CHANNEL", "marketchat:events"),
		PresenceTTL:       getEnvAsDuration("PRESENCE_TTL", 30*time.Second),
		MaxContentLength:  getEnvAsInt("MAX_CONTENT_LENGTH", 4000),
		SendBufferSize:    getEnvAsInt("SEND_BUFFER_SIZE", 256),
		ReadLimitBytes:    int64(getEnvAsInt("READ_LIMIT_BYTES", 64*1024)),
		PongWait:          getEnvAsDuration("PONG_WAIT", 60*time.Second),
		AllowedOrigins:    splitAndTrim(getEnv("ALLOWED_ORIGINS", "*")),
		MessagesPerMinute: getEnvAsInt("MESSAGES_PER_MINUTE", 30),
		TypingPerMinute:   getEnvAsInt("TYPING_PER_MINUTE", 60),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.AuthProvider {
	case "jwt":
		if c.JWTSecret == "" && c.JWKSURL == "" {
			return fmt.Errorf("JWT_SECRET or JWKS_URL is required when AUTH_PROVIDER=jwt")
		}
	case "firebase":
		if c.FirebaseProject == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required when AUTH_PROVIDER=firebase")
		}
	default:
		return fmt.Errorf("unsupported AUTH_PROVIDER: %s", c.AuthProvider)
	}

	switch c.StorageDriver {
	case "memory":
	case "firestore":
		if c.FirebaseProject == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required when STORAGE_DRIVER=firestore")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER: %s", c.StorageDriver)
	}

	if c.AuthTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT must be positive")
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive")
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	return nil
}

func (c *Config) NeedsFirebase() bool {
	return c.AuthProvider == "firebase" || c.StorageDriver == "firestore"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
