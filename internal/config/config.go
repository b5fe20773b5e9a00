package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Auth    AuthConfig
	App     AppConfig
	Kafka   KafkaConfig
}

type ServerConfig struct {
	Host     string
	Port     string
	Mode     string
	LogLevel string
}

type StorageConfig struct {
	Backend         string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	UsePathStyle    bool
	BucketName      string
	Region          string
	CreateBucket    bool
	// LocalDir is the root of the file backend.
	LocalDir string
}

type AuthConfig struct {
	Username     string
	PasswordHash string
	// Password is hashed at startup when PasswordHash is empty.
	Password    string
	TokenSecret string
}

type AppConfig struct {
	ResetDelay    time.Duration
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	return FromViper(viper.New())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "localhost")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "release")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE_BACKEND", "s3")
	v.SetDefault("STORAGE_ENDPOINT", "")
	v.SetDefault("STORAGE_ACCESS_KEY_ID", "")
	v.SetDefault("STORAGE_SECRET_ACCESS_KEY", "")
	v.SetDefault("STORAGE_USE_SSL", true)
	v.SetDefault("STORAGE_USE_PATH_STYLE", false)
	v.SetDefault("STORAGE_BUCKET_NAME", "tr-sw-trnda-diagrams")
	v.SetDefault("STORAGE_REGION", "eu-central-1")
	v.SetDefault("STORAGE_CREATE_BUCKET", false)
	v.SetDefault("STORAGE_LOCAL_DIR", "./uploads")
	v.SetDefault("AUTH_USERNAME", "sw")
	v.SetDefault("AUTH_PASSWORD_HASH", "")
	v.SetDefault("AUTH_PASSWORD", "")
	v.SetDefault("AUTH_TOKEN_SECRET", "")
	v.SetDefault("APP_RESET_DELAY", 3*time.Second)
	v.SetDefault("APP_SESSION_TTL", 30*time.Minute)
	v.SetDefault("APP_SWEEP_INTERVAL", time.Minute)
	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC", "diagram-uploads")
}

// FromViper builds a Config from v, applying defaults and environment
// overrides.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host:     v.GetString("SERVER_HOST"),
			Port:     v.GetString("SERVER_PORT"),
			Mode:     v.GetString("SERVER_MODE"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Storage: StorageConfig{
			Backend:         strings.ToLower(v.GetString("STORAGE_BACKEND")),
			Endpoint:        v.GetString("STORAGE_ENDPOINT"),
			AccessKeyID:     v.GetString("STORAGE_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("STORAGE_SECRET_ACCESS_KEY"),
			UseSSL:          v.GetBool("STORAGE_USE_SSL"),
			UsePathStyle:    v.GetBool("STORAGE_USE_PATH_STYLE"),
			BucketName:      strings.TrimSpace(v.GetString("STORAGE_BUCKET_NAME")),
			Region:          v.GetString("STORAGE_REGION"),
			CreateBucket:    v.GetBool("STORAGE_CREATE_BUCKET"),
			LocalDir:        v.GetString("STORAGE_LOCAL_DIR"),
		},
		Auth: AuthConfig{
			Username:     v.GetString("AUTH_USERNAME"),
			PasswordHash: v.GetString("AUTH_PASSWORD_HASH"),
			Password:     v.GetString("AUTH_PASSWORD"),
			TokenSecret:  v.GetString("AUTH_TOKEN_SECRET"),
		},
		App: AppConfig{
			ResetDelay:    v.GetDuration("APP_RESET_DELAY"),
			SessionTTL:    v.GetDuration("APP_SESSION_TTL"),
			SweepInterval: v.GetDuration("APP_SWEEP_INTERVAL"),
		},
		Kafka: KafkaConfig{
			Enabled: v.GetBool("KAFKA_ENABLED"),
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "s3", "minio", "file":
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q: want s3, minio or file", c.Storage.Backend)
	}
	if c.Storage.Backend == "minio" && c.Storage.Endpoint == "" {
		return fmt.Errorf("STORAGE_ENDPOINT is required for the minio backend")
	}
	if c.Storage.Backend == "file" && strings.TrimSpace(c.Storage.LocalDir) == "" {
		return fmt.Errorf("STORAGE_LOCAL_DIR is required for the file backend")
	}
	if c.Storage.BucketName == "" {
		return fmt.Errorf("STORAGE_BUCKET_NAME is required")
	}
	if c.App.SessionTTL <= 0 {
		return fmt.Errorf("APP_SESSION_TTL must be positive")
	}
	if c.App.SweepInterval <= 0 {
		return fmt.Errorf("APP_SWEEP_INTERVAL must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
