package config

import (
	"os"

	"github.com/spf13/pflag"
)

// Flags はコマンドライン引数です。指定されたものだけが環境変数と設定ファイルを上書きします
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath string
	addr       string
	redisAddr  string
	logLevel   string
	reapCron   string
}

// NewFlags はフラグを fs に登録します
func NewFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigPath, "config", os.Getenv("RELAY_CONFIG"), "path to a YAML config file")
	fs.StringVar(&f.addr, "addr", "", "listen address (overrides API_ADDR)")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "redis address for the room directory (overrides REDIS_ADDR)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	fs.StringVar(&f.reapCron, "reap-cron", "", "cron schedule of the idle room sweep (overrides REAP_CRON)")
	return f
}

// Apply は明示的に指定されたフラグを cfg に反映します
func (f *Flags) Apply(cfg *Config) {
	if f.fs.Changed("addr") {
		cfg.APIAddr = f.addr
	}
	if f.fs.Changed("redis-addr") {
		cfg.RedisAddr = f.redisAddr
	}
	if f.fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if f.fs.Changed("reap-cron") {
		cfg.ReapCron = f.reapCron
	}
}
