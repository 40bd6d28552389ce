// Package config はアプリケーションの設定を管理します
// 既定値、YAML ファイル、環境変数の順に読み込み、後のものが前のものを上書きします
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIAddr         = ":8080"
	defaultRoomTTL         = 30 * time.Minute
	defaultReapCron        = "*/5 * * * *"
	defaultSettleDelay     = 500 * time.Millisecond
	defaultRejoinDelay     = 300 * time.Millisecond
	defaultIdentityTTL     = 24 * time.Hour
	defaultRateRPS         = 20
	defaultRateBurst       = 40
	defaultMaxMessageBytes = 50 << 20
	defaultSendQueue       = 64
	defaultLogLevel        = "info"
)

// defaultAllowedOrigins はCORSとWebSocketで許可するデフォルトのオリジン一覧
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

// Config はアプリケーションの設定を保持します
type Config struct {
	APIAddr         string    `yaml:"api_addr"`
	AllowedOrigins  []string  `yaml:"allowed_origins"`
	RedisAddr       string    `yaml:"redis_addr"` // 空ならルームディレクトリを使わない
	RoomTTL         Duration  `yaml:"room_ttl"`
	ReapCron        string    `yaml:"reap_cron"`
	SettleDelay     Duration  `yaml:"settle_delay"`
	RejoinDelay     Duration  `yaml:"rejoin_delay"`
	IdentityTTL     Duration  `yaml:"identity_ttl"`
	RateRPS         float64   `yaml:"rate_rps"`
	RateBurst       int       `yaml:"rate_burst"`
	MaxMessageBytes SizeBytes `yaml:"max_message_bytes"`
	SendQueue       int       `yaml:"send_queue"`
	LogLevel        string    `yaml:"log_level"`
}

// Default は既定値の設定を返します
func Default() Config {
	return Config{
		APIAddr:         defaultAPIAddr,
		AllowedOrigins:  append([]string(nil), defaultAllowedOrigins...),
		RoomTTL:         Duration(defaultRoomTTL),
		ReapCron:        defaultReapCron,
		SettleDelay:     Duration(defaultSettleDelay),
		RejoinDelay:     Duration(defaultRejoinDelay),
		IdentityTTL:     Duration(defaultIdentityTTL),
		RateRPS:         defaultRateRPS,
		RateBurst:       defaultRateBurst,
		MaxMessageBytes: defaultMaxMessageBytes,
		SendQueue:       defaultSendQueue,
		LogLevel:        defaultLogLevel,
	}
}

// Load は path の YAML ファイル（空なら省略）と環境変数から設定を読み込みます
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.APIAddr = envOr("API_ADDR", c.APIAddr)
	c.AllowedOrigins = envCSV("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	c.RedisAddr = envOr("REDIS_ADDR", c.RedisAddr)
	c.RoomTTL = envDuration("ROOM_TTL", c.RoomTTL)
	c.ReapCron = envOr("REAP_CRON", c.ReapCron)
	c.SettleDelay = envDuration("SETTLE_DELAY", c.SettleDelay)
	c.RejoinDelay = envDuration("REJOIN_DELAY", c.RejoinDelay)
	c.IdentityTTL = envDuration("IDENTITY_TTL", c.IdentityTTL)
	c.RateRPS = envFloat("RATE_RPS", c.RateRPS)
	c.RateBurst = envInt("RATE_BURST", c.RateBurst)
	c.MaxMessageBytes = envBytes("MAX_MESSAGE_BYTES", c.MaxMessageBytes)
	c.SendQueue = envInt("SEND_QUEUE", c.SendQueue)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
}

// Validate は設定値を検証します
func (c Config) Validate() error {
	if c.APIAddr == "" {
		return fmt.Errorf("api_addr must not be empty")
	}
	for name, d := range map[string]Duration{
		"room_ttl":     c.RoomTTL,
		"settle_delay": c.SettleDelay,
		"rejoin_delay": c.RejoinDelay,
		"identity_ttl": c.IdentityTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d.Duration())
		}
	}
	if !gronx.New().IsValid(c.ReapCron) {
		return fmt.Errorf("invalid reap_cron %q: not a valid cron expression", c.ReapCron)
	}
	if c.RateRPS <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("rate_rps and rate_burst must be positive")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("max_message_bytes must be positive")
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("send_queue must be positive")
	}
	return nil
}

// SlogLevel はログレベルの文字列を slog.Level に変換します
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// envOr は環境変数から文字列を取得します
// 環境変数が設定されていない場合はデフォルト値を返します
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt は環境変数から整数を取得します
// 無効な値の場合はデフォルト値を返します
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", def)
			return def
		}
		return i
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid number in environment, using default", "key", key, "value", v, "default", def)
			return def
		}
		return f
	}
	return def
}

func envDuration(key string, def Duration) Duration {
	if v := os.Getenv(key); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			slog.Warn("invalid duration in environment, using default", "key", key, "value", v, "default", def.Duration())
			return def
		}
		return d
	}
	return def
}

func envBytes(key string, def SizeBytes) SizeBytes {
	if v := os.Getenv(key); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			slog.Warn("invalid size in environment, using default", "key", key, "value", v, "default", int64(def))
			return def
		}
		return SizeBytes(n)
	}
	return def
}

// envCSV は環境変数からカンマ区切りの文字列リストを取得します
// 環境変数が設定されていない、または空の場合はデフォルト値を返します
func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
