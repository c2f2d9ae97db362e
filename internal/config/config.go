package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Database DatabaseConfig `envPrefix:"DATABASE_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	Feed     FeedConfig     `envPrefix:"FEED_"`
	Presence PresenceConfig `envPrefix:"PRESENCE_"`
	Typing   TypingConfig   `envPrefix:"TYPING_"`
	Storage  StorageConfig  `envPrefix:"STORAGE_"`
	Gamify   GamifyConfig   `envPrefix:"GAMIFY_"`
	Identity IdentityConfig `envPrefix:"IDENTITY_"`
}

type ServerConfig struct {
	Addr       string `env:"ADDR" envDefault:"0.0.0.0:8080"`
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:".*"`
}

type DatabaseConfig struct {
	Hosts    []string `env:"HOSTS" envDefault:"localhost:27017"`
	Database string   `env:"DATABASE" envDefault:"teamhub_chat"`
	Username string   `env:"USERNAME"`
	Password string   `env:"PASSWORD"`
	AuthDB   string   `env:"AUTH_DB" envDefault:"admin"`
	Direct   bool     `env:"DIRECT" envDefault:"true"`
}

type KafkaConfig struct {
	Enabled bool     `env:"ENABLED" envDefault:"true"`
	Brokers []string `env:"BROKERS" envDefault:"localhost:9092"`
	Topic   string   `env:"TOPIC" envDefault:"chat-changes"`
	GroupID string   `env:"GROUP_ID" envDefault:"chat-core"`
}

type FeedConfig struct {
	// ResyncSkew widens the watermark window on reconnect so events written
	// just before the gap are not missed.
	ResyncSkew time.Duration `env:"RESYNC_SKEW" envDefault:"30s"`
	// OrphanTTL bounds how long update/delete events for a not-yet-seen
	// message are buffered before being dropped as anomalies.
	OrphanTTL time.Duration `env:"ORPHAN_TTL" envDefault:"30s"`
	// MatchTolerance bounds the timestamp window for matching a feed echo
	// against a pending write by (author, body).
	MatchTolerance time.Duration `env:"MATCH_TOLERANCE" envDefault:"2s"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF" envDefault:"1m"`
}

type PresenceConfig struct {
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	// OfflineAfter is the dead-man's-switch window: an identity with no
	// heartbeat or event for this long is considered offline.
	OfflineAfter time.Duration `env:"OFFLINE_AFTER" envDefault:"90s"`
}

type TypingConfig struct {
	TTL time.Duration `env:"TTL" envDefault:"4s"`
	// RenewInterval must stay well under TTL so an active typist never
	// flickers between renewals.
	RenewInterval time.Duration `env:"RENEW_INTERVAL" envDefault:"2s"`
}

type StorageConfig struct {
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:9000"`
	Bucket  string `env:"BUCKET" envDefault:"attachments"`
}

type GamifyConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	BaseURL string `env:"BASE_URL"`
}

type IdentityConfig struct {
	// ServiceUser is the identity used for activity originating from this
	// process itself, such as presence heartbeats, when no request identity
	// is available.
	ServiceUser string `env:"SERVICE_USER"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
