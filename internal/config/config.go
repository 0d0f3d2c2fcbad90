package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Index    IndexConfig    `mapstructure:"index"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Encoder  EncoderConfig  `mapstructure:"encoder"`
	Matching MatchingConfig `mapstructure:"matching"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Activity ActivityConfig `mapstructure:"activity"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

// IndexConfig selects and tunes the similarity index backend.
type IndexConfig struct {
	Backend       string        `mapstructure:"backend"` // memory or qdrant
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	FlushBatch    int           `mapstructure:"flush_batch"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// EncoderConfig points at the external CLIP encoder sidecar that turns alert
// text and reference images into 512-dimensional vectors.
type EncoderConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	ModelVersion string `mapstructure:"model_version"`
	Dimensions   int    `mapstructure:"dimensions"`
}

type MatchingConfig struct {
	Workers   int `mapstructure:"workers"`
	TopK      int `mapstructure:"top_k"`
	QueueSize int `mapstructure:"queue_size"`
}

type NotifyConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	APIKey         string        `mapstructure:"api_key"`
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	CycleInterval  time.Duration `mapstructure:"cycle_interval"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type ActivityConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/rewear.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.flush_interval", "200ms")
	v.SetDefault("index.flush_batch", 64)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "garments")
	v.SetDefault("encoder.base_url", "http://localhost:8089")
	v.SetDefault("encoder.model_version", "fashion-clip-v2")
	v.SetDefault("encoder.dimensions", 512)
	v.SetDefault("matching.workers", 4)
	v.SetDefault("matching.top_k", 200)
	v.SetDefault("matching.queue_size", 256)
	v.SetDefault("notify.debounce_window", "1h")
	v.SetDefault("notify.cycle_interval", "30s")
	v.SetDefault("notify.max_retries", 5)
	v.SetDefault("notify.base_backoff", "1m")
	v.SetDefault("notify.max_backoff", "30m")
	v.SetDefault("activity.buffer_size", 1024)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "alert-references")
	v.SetDefault("storage.region", "")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("encoder.base_url", "ENCODER_BASE_URL")
	v.BindEnv("encoder.api_key", "ENCODER_API_KEY")
	v.BindEnv("notify.webhook_url", "NOTIFY_WEBHOOK_URL")
	v.BindEnv("notify.api_key", "NOTIFY_API_KEY")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
