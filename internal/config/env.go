package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// EnvConfig содержит токены и другие переменные окружения.
type EnvConfig struct {
	TelegramBotToken  string
	TelegramChannelID string
	ConfigPath        string
	LogLevel          string // перекрывает log.level из YAML
	RedisPassword     string // перекрывает state.redis_password из YAML
	DryRun            bool   // только оценка постов, без публикации и записи состояния
}

// DefaultConfigPath используется, если RELAY_CONFIG не задан.
const DefaultConfigPath = "configs/relay.yaml"

// LoadEnvConfig читает переменные окружения (и .env, если он есть).
// Возвращает ошибку, если обязательные переменные отсутствуют или пустые.
func LoadEnvConfig() (*EnvConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &EnvConfig{
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChannelID: os.Getenv("TELEGRAM_CHANNEL_ID"),
		ConfigPath:        os.Getenv("RELAY_CONFIG"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		DryRun:            os.Getenv("DRY_RUN") == "1",
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = DefaultConfigPath
	}

	// В режиме dry run Telegram не нужен
	if cfg.DryRun {
		return cfg, nil
	}
	if cfg.TelegramBotToken == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN environment variable is required")
	}
	if cfg.TelegramChannelID == "" {
		return nil, errors.New("TELEGRAM_CHANNEL_ID environment variable is required")
	}
	return cfg, nil
}
