package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Store modes.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// Config aggregates application configuration values loaded from environment
// variables.
type Config struct {
	Env              string
	HTTPAddr         string
	StoreMode        string
	MongoURI         string
	MongoDB          string
	MongoTimeout     time.Duration
	KafkaBrokers     []string
	KafkaTopicPrefix string
	FixturesPath     string
	AuthTokens       map[string]string
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		StoreMode:        strings.ToLower(getEnv("STORE_MODE", StoreMemory)),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "campusfound"),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		FixturesPath:     getEnv("FIXTURES_PATH", ""),
	}
	switch cfg.StoreMode {
	case StoreMemory, StoreMongo:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_MODE: %s", cfg.StoreMode)
	}
	if cfg.StoreMode == StoreMongo && cfg.MongoURI == "" {
		return Config{}, fmt.Errorf("MONGO_URI is required for STORE_MODE=mongo")
	}

	timeout, err := parseDurationEnv("MONGO_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.MongoTimeout = timeout

	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}

	cfg.AuthTokens, err = parseTokens(os.Getenv("AUTH_TOKENS"))
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseTokens reads "token=userID" pairs separated by commas.
func parseTokens(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitAndTrim(raw) {
		token, userID, ok := strings.Cut(pair, "=")
		token = strings.TrimSpace(token)
		userID = strings.TrimSpace(userID)
		if !ok || token == "" || userID == "" {
			return nil, fmt.Errorf("invalid AUTH_TOKENS entry: %q", pair)
		}
		out[token] = userID
	}
	return out, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}
