package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents runtime configuration for the service, read from the
// environment.
type Config struct {
	ServerAddr string `env:"SERVER_ADDR" envDefault:":8000"`

	// Token signing. The default exists so local development works out of
	// the box; deployments must override it.
	SecretKey        string `env:"SECRET_KEY" envDefault:"change-this-secret-key"`
	JWTExpireMinutes int    `env:"JWT_EXPIRE_MINUTES" envDefault:"1440"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DBDSN    string `env:"DB_DSN" envDefault:"./data/afterlife.db"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Root directory holding per-session ciphertext and the key store.
	StorageRoot string `env:"STORAGE_ROOT" envDefault:"./data/sessions"`

	DailyInteractionLimit int `env:"DAILY_INTERACTION_LIMIT" envDefault:"10"`
	// Product policy: a failed avatar call still consumes a quota slot so
	// retry storms cannot burn providers for free.
	FailedInteractConsumesQuota bool `env:"FAILED_INTERACT_CONSUMES_QUOTA" envDefault:"true"`

	MaxPhotoBytes   int64   `env:"MAX_PHOTO_BYTES" envDefault:"5242880"`
	MaxAudioBytes   int64   `env:"MAX_AUDIO_BYTES" envDefault:"5242880"`
	MaxTextBytes    int64   `env:"MAX_TEXT_BYTES" envDefault:"10485760"`
	MaxAudioSeconds float64 `env:"MAX_AUDIO_SECONDS" envDefault:"30"`

	ExternalTimeout time.Duration `env:"EXTERNAL_TIMEOUT" envDefault:"60s"`

	// External capability providers. Empty keys select the built-in local
	// fallbacks so the core remains operable in development.
	ElevenLabsAPIKey  string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsBaseURL string `env:"ELEVENLABS_BASE_URL" envDefault:"https://api.elevenlabs.io"`
	DIDAPIKey         string `env:"DID_API_KEY"`
	DIDBaseURL        string `env:"DID_BASE_URL" envDefault:"https://api.d-id.com"`

	LLMProvider string `env:"LLM_PROVIDER"`
	LLMModel    string `env:"LLM_MODEL"`
	LLMBaseURL  string `env:"LLM_BASE_URL"`
	LLMAPIKey   string `env:"LLM_API_KEY"`

	PersonaDir string `env:"PERSONA_DIR" envDefault:"./data/personas"`

	MinWorkers        int           `env:"MIN_WORKERS" envDefault:"2"`
	MaxWorkers        int           `env:"MAX_WORKERS" envDefault:"8"`
	QueueSize         int           `env:"QUEUE_SIZE" envDefault:"64"`
	WorkerIdleTimeout time.Duration `env:"WORKER_IDLE_TIMEOUT" envDefault:"5m"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if cfg.DailyInteractionLimit <= 0 {
		return nil, fmt.Errorf("DAILY_INTERACTION_LIMIT must be positive")
	}
	if cfg.JWTExpireMinutes <= 0 {
		return nil, fmt.Errorf("JWT_EXPIRE_MINUTES must be positive")
	}
	return &cfg, nil
}

// TokenTTL reports the configured token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpireMinutes) * time.Minute
}
