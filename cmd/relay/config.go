package main

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Config struct {
	Port string
	// RedisURL is empty for a single instance relay.
	RedisURL        string
	FrontendBaseURL string
	JWTSecret       []byte
	MaxMessages     int
	LogLevel        zerolog.Level
}

func loadConfigFromEnv() (Config, error) {
	cfg := Config{
		Port:            getenv("PORT", "5000"),
		RedisURL:        getenv("REDIS_URL", ""),
		FrontendBaseURL: getenv("FRONTEND_BASE_URL", ""),
		JWTSecret:       []byte(getenv("JWT_SECRET", "")),
		MaxMessages:     getenvInt("MAX_MESSAGES", 100),
	}

	level, err := zerolog.ParseLevel(strings.ToLower(getenv("LOG_LEVEL", "info")))
	if err != nil {
		return Config{}, errors.New("relay: invalid LOG_LEVEL: " + os.Getenv("LOG_LEVEL"))
	}
	cfg.LogLevel = level

	if cfg.MaxMessages <= 0 {
		return Config{}, errors.New("relay: MAX_MESSAGES must be positive")
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
