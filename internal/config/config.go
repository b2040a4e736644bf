// Package config provides configuration management using viper.
// It supports loading from YAML files, a .env file and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Daily     DailyConfig     `mapstructure:"daily"`
	Account   AccountConfig   `mapstructure:"account"`
	Wager     WagerConfig     `mapstructure:"wager"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token         string        `mapstructure:"token"`
	PollerTimeout time.Duration `mapstructure:"poller_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries  int           `mapstructure:"connect_retries"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// DailyConfig holds daily bonus configuration.
type DailyConfig struct {
	Reward        float64 `mapstructure:"reward"`
	CooldownHours int     `mapstructure:"cooldown_hours"`
}

// AccountConfig holds new-account configuration.
type AccountConfig struct {
	InitialBalance float64       `mapstructure:"initial_balance"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
}

// WagerConfig holds session engine limits and timings.
type WagerConfig struct {
	CommissionRate       float64       `mapstructure:"commission_rate"`
	MinStake             float64       `mapstructure:"min_stake"`
	MaxStake             float64       `mapstructure:"max_stake"`
	LobbyMinPlayers      int           `mapstructure:"lobby_min_players"`
	LobbyMaxPlayers      int           `mapstructure:"lobby_max_players"`
	LobbyCountdown       time.Duration `mapstructure:"lobby_countdown"`
	StaleSessionTimeout  time.Duration `mapstructure:"stale_session_timeout"`
	OpenChallengeTimeout time.Duration `mapstructure:"open_challenge_timeout"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	TombstoneRetention   time.Duration `mapstructure:"tombstone_retention"`
}

// HTTPConfig holds the ops endpoint configuration.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Validation errors.
var (
	ErrInvalidStakeRange = errors.New("wager.min_stake must be positive and not above wager.max_stake")
	ErrInvalidCommission = errors.New("wager.commission_rate must be within [0, 1)")
	ErrInvalidLobbySize  = errors.New("wager lobby player bounds must satisfy 2 <= min <= max")
)

// Load reads configuration from file and environment variables.
// It looks for config.yaml in configPath, the working directory and ./config.
// A .env file in the working directory is loaded into the environment first.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. BOT_TOKEN, DATABASE_HOST, WAGER_COMMISSION_RATE.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Keys without a default are invisible to AutomaticEnv on Unmarshal.
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.poller_timeout", "10s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "wagerbot")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "wagerbot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Daily bonus defaults
	v.SetDefault("daily.reward", 50)
	v.SetDefault("daily.cooldown_hours", 24)

	v.SetDefault("account.initial_balance", 0)
	v.SetDefault("account.lock_timeout", "5s")

	// Wager defaults
	v.SetDefault("wager.commission_rate", 0.08)
	v.SetDefault("wager.min_stake", 1)
	v.SetDefault("wager.max_stake", 10000)
	v.SetDefault("wager.lobby_min_players", 3)
	v.SetDefault("wager.lobby_max_players", 5)
	v.SetDefault("wager.lobby_countdown", "30s")
	v.SetDefault("wager.stale_session_timeout", "10m")
	v.SetDefault("wager.open_challenge_timeout", "24h")
	v.SetDefault("wager.sweep_interval", "1m")
	v.SetDefault("wager.tombstone_retention", "10m")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	w := c.Wager
	if w.MinStake <= 0 || w.MinStake > w.MaxStake {
		return ErrInvalidStakeRange
	}
	if w.CommissionRate < 0 || w.CommissionRate >= 1 {
		return ErrInvalidCommission
	}
	if w.LobbyMinPlayers < 2 || w.LobbyMinPlayers > w.LobbyMaxPlayers {
		return ErrInvalidLobbySize
	}
	return nil
}

// Money converts a configured float amount to a cent-precision decimal.
func Money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
