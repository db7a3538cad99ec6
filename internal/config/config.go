package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`

	Auth struct {
		Secret           string        `mapstructure:"secret"`
		HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	} `mapstructure:"auth"`

	WS struct {
		ReadLimit     int64         `mapstructure:"read_limit"`
		PingPeriod    time.Duration `mapstructure:"ping_period"`
		PongWait      time.Duration `mapstructure:"pong_wait"`
		WriteWait     time.Duration `mapstructure:"write_wait"`
		SendQueueSize int           `mapstructure:"send_queue_size"`
	} `mapstructure:"ws"`

	Room struct {
		ReplayDepth int           `mapstructure:"replay_depth"`
		DedupWindow time.Duration `mapstructure:"dedup_window"`
		GracePeriod time.Duration `mapstructure:"grace_period"`
	} `mapstructure:"room"`

	Attachments struct {
		MaxBytes int64  `mapstructure:"max_bytes"`
		Dir      string `mapstructure:"dir"`
	} `mapstructure:"attachments"`

	SQLitePath string `mapstructure:"sqlite_path"`
	RedisAddr  string `mapstructure:"redis_addr"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("auth.handshake_timeout", "10s")
	v.SetDefault("ws.read_limit", 65536)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.write_wait", "10s")
	v.SetDefault("ws.send_queue_size", 64)
	v.SetDefault("room.replay_depth", 200)
	v.SetDefault("room.dedup_window", "5s")
	v.SetDefault("room.grace_period", "30s")
	v.SetDefault("attachments.max_bytes", 8<<20)
	v.SetDefault("attachments.dir", "./data/attachments")
	v.SetDefault("sqlite_path", "./data/stagehall.db")
	v.SetDefault("redis_addr", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No file is fine, env vars and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
