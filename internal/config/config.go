package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Encoder    EncoderConfig    `mapstructure:"encoder"`
	Detection  DetectionConfig  `mapstructure:"detection"`
	Clustering ClusteringConfig `mapstructure:"clustering"`
	Candidates CandidatesConfig `mapstructure:"candidates"`
	Qdrant     QdrantConfig     `mapstructure:"qdrant"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Storage    StorageConfig    `mapstructure:"storage"`
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
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

// ClusteringConfig tunes the batch clustering run.
type ClusteringConfig struct {
	TimeWindowDays     int     `mapstructure:"time_window_days"`
	MinClusterSize     int     `mapstructure:"min_cluster_size"`
	MinSamples         int     `mapstructure:"min_samples"`
	SemanticWeight     float64 `mapstructure:"semantic_weight"`
	SpatialWeight      float64 `mapstructure:"spatial_weight"`
	TemporalWeight     float64 `mapstructure:"temporal_weight"`
	SpatialScaleMeters float64 `mapstructure:"spatial_scale_meters"`
	TemporalScaleDays  float64 `mapstructure:"temporal_scale_days"`
}

// CandidatesConfig selects where nearby reports are looked up.
type CandidatesConfig struct {
	Backend string `mapstructure:"backend"` // gorm or qdrant
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// RedisConfig configures the clustering run lock. An empty Addr keeps the lock in-process.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockKey  string        `mapstructure:"lock_key"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// StorageConfig configures the run archive. An empty Bucket disables archiving.
type StorageConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

// Enabled reports whether run archiving is configured.
func (c *StorageConfig) Enabled() bool {
	return c.Bucket != ""
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

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets are bound to conventional variable names
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("encoder.api_key", "ENCODER_API_KEY")
	v.BindEnv("encoder.base_url", "ENCODER_BASE_URL")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Encoder.Validate(); err != nil {
		return nil, err
	}
	cfg.Detection.normalize()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/civiclens.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "civiclens")
	v.SetDefault("database.dbname", "civiclens")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("encoder.provider", "openai-compatible")
	v.SetDefault("encoder.base_url", "http://localhost:8081/v1")
	v.SetDefault("encoder.model", DefaultEncoderModel)
	v.SetDefault("encoder.model_version", DefaultEncoderModelVersion)
	v.SetDefault("encoder.dimensions", DefaultEmbeddingDimensions)
	v.SetDefault("encoder.batch_size", 8)
	v.SetDefault("encoder.max_concurrency", 2)
	v.SetDefault("encoder.timeout", 30*time.Second)

	v.SetDefault("detection.lookback_days", 30)
	v.SetDefault("detection.candidate_limit", 50)
	v.SetDefault("detection.default_category", DefaultCategory)

	v.SetDefault("clustering.time_window_days", 30)
	v.SetDefault("clustering.min_cluster_size", 2)
	v.SetDefault("clustering.min_samples", 1)
	v.SetDefault("clustering.semantic_weight", 0.6)
	v.SetDefault("clustering.spatial_weight", 0.3)
	v.SetDefault("clustering.temporal_weight", 0.1)
	v.SetDefault("clustering.spatial_scale_meters", 500.0)
	v.SetDefault("clustering.temporal_scale_days", 30.0)

	v.SetDefault("candidates.backend", "gorm")

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "reports")

	v.SetDefault("redis.lock_key", "civiclens:cluster-run")
	v.SetDefault("redis.lock_ttl", 30*time.Minute)

	v.SetDefault("storage.prefix", "cluster-runs")
}
