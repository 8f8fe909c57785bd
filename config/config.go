package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the application.
type Config struct {
	DatabaseURL  string
	RedisURL     string
	ServerPort   int
	JWTSecretKey string

	TelegramToken string
	Admins        []string
	LogoPath      string

	AdminAPIUser         string
	AdminAPIPasswordHash string

	MinVotes              int
	SubmissionsPerUser    int
	MatchDurationOverride int
	AutovoteUntil         int
	DowntimeNotifications bool

	RenderVersusCmd  string
	RenderBracketCmd string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string
	R2PublicBaseURL   string

	CORSAllowedOrigins []string
}

// Load reads the configuration from environment variables. A .env file is
// loaded first when present, which is convenient for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Admins:             splitList("ADMIN_USERNAMES"),
		LogoPath:           os.Getenv("LOGO_PATH"),
		CORSAllowedOrigins: splitList("CORS_ALLOWED_ORIGINS"),
	}

	var err error
	if cfg.DatabaseURL, err = require("DATABASE_URL"); err != nil {
		return nil, err
	}
	if cfg.RedisURL, err = require("REDIS_URL"); err != nil {
		return nil, err
	}
	if cfg.JWTSecretKey, err = require("JWT_SECRET_KEY"); err != nil {
		return nil, err
	}
	if cfg.TelegramToken, err = require("TELEGRAM_TOKEN"); err != nil {
		return nil, err
	}
	if cfg.AdminAPIUser, err = require("ADMIN_API_USER"); err != nil {
		return nil, err
	}
	if cfg.AdminAPIPasswordHash, err = require("ADMIN_API_PASSWORD_HASH"); err != nil {
		return nil, err
	}
	if cfg.RenderVersusCmd, err = require("RENDER_VERSUS_CMD"); err != nil {
		return nil, err
	}
	if cfg.RenderBracketCmd, err = require("RENDER_BRACKET_CMD"); err != nil {
		return nil, err
	}
	if cfg.R2AccountID, err = require("R2_ACCOUNT_ID"); err != nil {
		return nil, err
	}
	if cfg.R2AccessKeyID, err = require("R2_ACCESS_KEY_ID"); err != nil {
		return nil, err
	}
	if cfg.R2SecretAccessKey, err = require("R2_SECRET_ACCESS_KEY"); err != nil {
		return nil, err
	}
	if cfg.R2Bucket, err = require("R2_BUCKET"); err != nil {
		return nil, err
	}
	if cfg.R2PublicBaseURL, err = require("R2_PUBLIC_BASE_URL"); err != nil {
		return nil, err
	}

	if len(cfg.Admins) == 0 {
		return nil, fmt.Errorf("ADMIN_USERNAMES environment variable is not set")
	}

	if cfg.ServerPort, err = intOrDefault("SERVER_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", cfg.ServerPort)
	}

	if cfg.MinVotes, err = intOrDefault("MIN_VOTES", 1); err != nil {
		return nil, err
	}
	if cfg.SubmissionsPerUser, err = intOrDefault("SUBMISSIONS_PER_USER", 0); err != nil {
		return nil, err
	}
	if cfg.MatchDurationOverride, err = intOrDefault("MATCH_DURATION_OVERRIDE", 0); err != nil {
		return nil, err
	}
	if cfg.AutovoteUntil, err = intOrDefault("AUTOVOTE_UNTIL", 0); err != nil {
		return nil, err
	}
	if cfg.DowntimeNotifications, err = boolFlag("DOWNTIME_NOTIFICATIONS"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func require(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("%s environment variable is not set", name)
	}
	return value, nil
}

func intOrDefault(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return value, nil
}

func boolFlag(name string) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return value, nil
}

func splitList(name string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
