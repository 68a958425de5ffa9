package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Sync.BatchSize != 3 {
		t.Errorf("Default sync.batch_size = %d, want 3", cfg.Sync.BatchSize)
	}
	if cfg.Sync.ItemDelay != time.Second {
		t.Errorf("Default sync.item_delay = %s, want 1s", cfg.Sync.ItemDelay)
	}
	if cfg.Leaderboard.MaxLength != 4090 {
		t.Errorf("Default leaderboard.max_length = %d, want 4090", cfg.Leaderboard.MaxLength)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Default logging.level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name: "missing token",
			modify: func(c *Config) {
				c.Discord.Token = ""
			},
			wantErr: true,
		},
		{
			name: "zero batch size",
			modify: func(c *Config) {
				c.Sync.BatchSize = 0
			},
			wantErr: true,
		},
		{
			name: "max length shorter than marker",
			modify: func(c *Config) {
				c.Leaderboard.MaxLength = len(TruncationMarker)
			},
			wantErr: true,
		},
		{
			name: "non-positive request rate",
			modify: func(c *Config) {
				c.Habbo.RequestsPerSecond = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Discord.Token = "token"
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "battlebot.yaml")
	content := `
discord:
  token: file-token
  guild_id: "123"
sync:
  batch_size: 5
  item_delay: 250ms
leaderboard:
  channel_id: "999"
database:
  dsn: sqlite3://` + filepath.Join(dir, "bot.db") + `
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("SYNC_ITEM_DELAY", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Discord.Token != "env-token" {
		t.Errorf("token = %q, want env override", cfg.Discord.Token)
	}
	if cfg.Discord.GuildID != "123" {
		t.Errorf("guild id = %q, want 123", cfg.Discord.GuildID)
	}
	if cfg.Sync.BatchSize != 5 {
		t.Errorf("batch size = %d, want 5", cfg.Sync.BatchSize)
	}
	if cfg.Sync.ItemDelay != 2*time.Second {
		t.Errorf("item delay = %s, want 2s", cfg.Sync.ItemDelay)
	}
	if cfg.Leaderboard.ChannelID != "999" {
		t.Errorf("channel id = %q, want 999", cfg.Leaderboard.ChannelID)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDetectDriver(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://user@localhost/db", "postgres"},
		{"postgresql://user@localhost/db", "postgres"},
		{"sqlite3://./bot.db", "sqlite"},
		{"sqlite://./bot.db", "sqlite"},
		{"./bot.db", "sqlite"},
		{":memory:", "sqlite"},
		{"host=localhost user=bot", "postgres"},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			if got := detectDriver(tt.dsn); got != tt.want {
				t.Errorf("detectDriver(%q) = %q, want %q", tt.dsn, got, tt.want)
			}
		})
	}
}

func TestCleanDSN(t *testing.T) {
	sqlite := DatabaseConfig{DSN: "sqlite3://./data/bot.db", Driver: "sqlite"}
	if got := sqlite.CleanDSN(); got != "./data/bot.db" {
		t.Errorf("sqlite CleanDSN = %q", got)
	}

	pg := DatabaseConfig{DSN: "postgresql://bot@db/bot", Driver: "postgres"}
	if got := pg.CleanDSN(); got != "postgres://bot@db/bot" {
		t.Errorf("postgres CleanDSN = %q", got)
	}
}
