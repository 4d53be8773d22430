package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env                string `mapstructure:"env"`
	LocalStackEndpoint string `mapstructure:"localstack_endpoint"`
	Signer             SignerConfig
	DB                 DBConfig
	Redis              RedisConfig
	Stream             StreamConfig
}

// StreamConfig holds settings for the Polymarket order-book streaming
// engine: connector endpoints, heartbeat/backoff tuning, the event
// broadcast buffer, resync policy, and session recording.
type StreamConfig struct {
	WSMarketURL       string `mapstructure:"ws_market_url"`
	WSUserURL         string `mapstructure:"ws_user_url"`
	HeartbeatInterval int    `mapstructure:"heartbeat_interval_s"`
	ReconnectInitial  int    `mapstructure:"reconnect_initial_ms"`
	ReconnectMax      int    `mapstructure:"reconnect_max_ms"`
	EventBufferSize   int    `mapstructure:"event_buffer_size"`
	AutoSyncOnHashMismatch bool `mapstructure:"auto_sync_on_hash_mismatch"`
	PostReconnectCoolOff   bool `mapstructure:"post_reconnect_cool_off"`
	RecorderEnabled   bool   `mapstructure:"recorder_enabled"`
	RecorderRootPath  string `mapstructure:"recorder_root_path"`
	RecorderQueueCap  int    `mapstructure:"recorder_queue_capacity"`
	HashAlgorithm     string `mapstructure:"hash_algorithm"`
}

// SignerConfig holds signer-specific settings.
type SignerConfig struct {
	SocketPath    string `mapstructure:"socket_path"`
	SessionTTLSec int    `mapstructure:"session_ttl_sec"`
	KMSKeyID      string `mapstructure:"kms_key_id"`
	AWSRegion     string `mapstructure:"aws_region"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads configuration from environment variables prefixed with CAESAR_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAESAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")

	// Signer defaults
	v.SetDefault("signer.socket_path", "/var/run/caesar/signer.sock")
	v.SetDefault("signer.session_ttl_sec", 3600)
	v.SetDefault("signer.aws_region", "us-east-1")

	// DB defaults
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "caesar")
	v.SetDefault("db.password", "caesar")
	v.SetDefault("db.dbname", "caesar")
	v.SetDefault("db.sslmode", "disable")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Stream defaults
	v.SetDefault("stream.ws_market_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("stream.ws_user_url", "wss://ws-subscriptions-clob.polymarket.com/ws/user")
	v.SetDefault("stream.heartbeat_interval_s", 10)
	v.SetDefault("stream.reconnect_initial_ms", 500)
	v.SetDefault("stream.reconnect_max_ms", 30000)
	v.SetDefault("stream.event_buffer_size", 4096)
	v.SetDefault("stream.auto_sync_on_hash_mismatch", true)
	v.SetDefault("stream.post_reconnect_cool_off", true)
	v.SetDefault("stream.recorder_enabled", false)
	v.SetDefault("stream.recorder_root_path", "/var/lib/caesar/recordings")
	v.SetDefault("stream.recorder_queue_capacity", 1024)
	v.SetDefault("stream.hash_algorithm", "sha256")

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.LocalStackEndpoint = v.GetString("localstack_endpoint")

	cfg.Signer = SignerConfig{
		SocketPath:    v.GetString("signer.socket_path"),
		SessionTTLSec: v.GetInt("signer.session_ttl_sec"),
		KMSKeyID:      v.GetString("signer.kms_key_id"),
		AWSRegion:     v.GetString("signer.aws_region"),
	}

	cfg.DB = DBConfig{
		Host:     v.GetString("db.host"),
		Port:     v.GetInt("db.port"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		DBName:   v.GetString("db.dbname"),
		SSLMode:  v.GetString("db.sslmode"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	cfg.Stream = StreamConfig{
		WSMarketURL:            v.GetString("stream.ws_market_url"),
		WSUserURL:              v.GetString("stream.ws_user_url"),
		HeartbeatInterval:      v.GetInt("stream.heartbeat_interval_s"),
		ReconnectInitial:       v.GetInt("stream.reconnect_initial_ms"),
		ReconnectMax:           v.GetInt("stream.reconnect_max_ms"),
		EventBufferSize:        v.GetInt("stream.event_buffer_size"),
		AutoSyncOnHashMismatch: v.GetBool("stream.auto_sync_on_hash_mismatch"),
		PostReconnectCoolOff:   v.GetBool("stream.post_reconnect_cool_off"),
		RecorderEnabled:        v.GetBool("stream.recorder_enabled"),
		RecorderRootPath:       v.GetString("stream.recorder_root_path"),
		RecorderQueueCap:       v.GetInt("stream.recorder_queue_capacity"),
		HashAlgorithm:          v.GetString("stream.hash_algorithm"),
	}

	return cfg, nil
}
