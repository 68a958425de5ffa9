// Package config provides configuration loading for the bot.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// TruncationMarker is appended to rendered leaderboards that exceed MaxLength.
const TruncationMarker = "..."

// Config holds all configuration for the bot
type Config struct {
	Discord     DiscordConfig     `yaml:"discord"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Habbo       HabboConfig       `yaml:"habbo"`
	Sync        SyncConfig        `yaml:"sync"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// DiscordConfig contains bot credentials and command scope.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"` // empty registers commands globally
}

// DatabaseConfig contains the DSN; the driver is auto-detected from it.
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"-"` // "postgres" or "sqlite"
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// HabboConfig contains external API settings.
type HabboConfig struct {
	BaseURL           string        `yaml:"base_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// SyncConfig contains the rate-limit knobs of the sync worker.
type SyncConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	ItemDelay    time.Duration `yaml:"item_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SuccessIcon  string        `yaml:"success_icon"`
	FailureIcon  string        `yaml:"failure_icon"`
}

// LeaderboardConfig describes the published leaderboard display.
type LeaderboardConfig struct {
	ChannelID       string        `yaml:"channel_id"`
	MessageID       string        `yaml:"message_id"` // seed only; the live id is persisted in the database
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MaxLength       int           `yaml:"max_length"`
	Title           string        `yaml:"title"`
	Footer          string        `yaml:"footer"`
	Color           int           `yaml:"color"`
}

// HTTPConfig contains admin API settings.
type HTTPConfig struct {
	Port        int      `yaml:"port"` // 0 disables the admin API
	CORSOrigins []string `yaml:"cors_origins"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN: "sqlite3://" + filepath.Join(xdg.DataHome, "battlebot", "battlebot.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   filepath.Join(xdg.StateHome, "battlebot", "logs", "bot.log"),
		},
		Habbo: HabboConfig{
			BaseURL:           "https://www.habbo.com",
			RequestsPerSecond: 5,
			Timeout:           30 * time.Second,
		},
		Sync: SyncConfig{
			BatchSize:    3,
			ItemDelay:    time.Second,
			PollInterval: time.Minute,
			SuccessIcon:  "✅",
			FailureIcon:  "❌",
		},
		Leaderboard: LeaderboardConfig{
			RefreshInterval: 15 * time.Minute,
			// 4096 is Discord's embed description limit, minus the code fence.
			MaxLength: 4096 - len("``````"),
			Title:     "BattleBall Leaderboard",
			Footer:    "It's probably not updated in real-time, but it should give you a good idea of who's on top!",
			Color:     0xF4D701,
		},
		HTTP: HTTPConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and finally the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.Database.Driver = detectDriver(cfg.Database.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	// Discord
	cfg.Discord.Token = getEnv("DISCORD_TOKEN", cfg.Discord.Token)
	cfg.Discord.GuildID = getEnv("DISCORD_GUILD_ID", cfg.Discord.GuildID)

	// Database
	cfg.Database.DSN = getEnv("DATABASE_DSN", cfg.Database.DSN)

	// Logging
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)

	// Habbo API
	cfg.Habbo.BaseURL = getEnv("HABBO_API_URL", cfg.Habbo.BaseURL)
	cfg.Habbo.RequestsPerSecond = getEnvFloat("HABBO_REQUESTS_PER_SECOND", cfg.Habbo.RequestsPerSecond)
	cfg.Habbo.Timeout = getEnvDuration("HABBO_TIMEOUT", cfg.Habbo.Timeout)

	// Sync worker
	cfg.Sync.BatchSize = getEnvInt("SYNC_BATCH_SIZE", cfg.Sync.BatchSize)
	cfg.Sync.ItemDelay = getEnvDuration("SYNC_ITEM_DELAY", cfg.Sync.ItemDelay)
	cfg.Sync.PollInterval = getEnvDuration("SYNC_POLL_INTERVAL", cfg.Sync.PollInterval)

	// Leaderboard
	cfg.Leaderboard.ChannelID = getEnv("LEADERBOARD_CHANNEL_ID", cfg.Leaderboard.ChannelID)
	cfg.Leaderboard.MessageID = getEnv("LEADERBOARD_MESSAGE_ID", cfg.Leaderboard.MessageID)
	cfg.Leaderboard.RefreshInterval = getEnvDuration("LEADERBOARD_REFRESH_INTERVAL", cfg.Leaderboard.RefreshInterval)
	cfg.Leaderboard.MaxLength = getEnvInt("LEADERBOARD_MAX_LENGTH", cfg.Leaderboard.MaxLength)

	// Admin API
	cfg.HTTP.Port = getEnvInt("PORT", cfg.HTTP.Port)
	cfg.HTTP.CORSOrigins = getEnvList("CORS_ORIGINS", cfg.HTTP.CORSOrigins)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Discord.Token == "" {
		errs = append(errs, errors.New("DISCORD_TOKEN is required"))
	}
	if c.Sync.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("sync batch size must be at least 1, got %d", c.Sync.BatchSize))
	}
	if c.Sync.ItemDelay < 0 {
		errs = append(errs, fmt.Errorf("sync item delay must not be negative, got %s", c.Sync.ItemDelay))
	}
	if c.Leaderboard.MaxLength <= len(TruncationMarker) {
		errs = append(errs, fmt.Errorf("leaderboard max length must exceed %d, got %d", len(TruncationMarker), c.Leaderboard.MaxLength))
	}
	if c.Habbo.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("habbo requests per second must be positive, got %v", c.Habbo.RequestsPerSecond))
	}
	return errors.Join(errs...)
}

// detectDriver determines the database driver from DSN
func detectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "sqlite3://") || strings.HasPrefix(dsn, "sqlite://") {
		return "sqlite"
	}
	// Default to sqlite for file paths
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") || dsn == ":memory:" {
		return "sqlite"
	}
	return "postgres"
}

// CleanDSN removes the driver prefix from DSN for database/sql
func (c *DatabaseConfig) CleanDSN() string {
	dsn := c.DSN
	dsn = strings.TrimPrefix(dsn, "postgres://")
	dsn = strings.TrimPrefix(dsn, "postgresql://")
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	if c.Driver == "postgres" {
		return "postgres://" + dsn
	}
	return dsn
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
