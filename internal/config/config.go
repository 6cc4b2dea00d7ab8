package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Blobstore BlobstoreConfig `mapstructure:"blobstore"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Lark      LarkConfig      `mapstructure:"lark"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// OwnerID identifies whose records this instance serves.
	OwnerID string `mapstructure:"owner_id"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// BlobstoreConfig holds attachment storage configuration
type BlobstoreConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	URLPrefix string `mapstructure:"url_prefix"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PromptsPath string        `mapstructure:"prompts_path"`
}

// UploadConfig holds upload pipeline configuration
type UploadConfig struct {
	AllowedMimeTypes []string      `mapstructure:"allowed_mime_types"`
	MaxFileSize      int64         `mapstructure:"max_file_size"`
	AutoDismissDelay time.Duration `mapstructure:"auto_dismiss_delay"`
	ProcessingTick   time.Duration `mapstructure:"processing_tick"`
}

// LarkConfig holds Lark messaging configuration. Optional: an empty
// app_id disables record alerts.
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	ReceiveID string `mapstructure:"receive_id"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Override with environment variables
	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.owner_id", "default")

	// Database defaults
	viper.SetDefault("database.path", "data/medvault.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Blobstore defaults
	viper.SetDefault("blobstore.base_dir", "data/blobs")
	viper.SetDefault("blobstore.url_prefix", "/blobs")

	// OpenAI defaults
	viper.SetDefault("openai.model", "gpt-4")
	viper.SetDefault("openai.temperature", 0.3)
	viper.SetDefault("openai.max_tokens", 1000)
	viper.SetDefault("openai.timeout", 60*time.Second)

	// Upload defaults
	viper.SetDefault("upload.max_file_size", 10<<20)
	viper.SetDefault("upload.auto_dismiss_delay", 5*time.Second)
	viper.SetDefault("upload.processing_tick", 200*time.Millisecond)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("lark.app_id", "LARK_APP_ID")
	viper.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	viper.BindEnv("lark.receive_id", "LARK_RECEIVE_ID")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Blobstore.BaseDir == "" {
		return fmt.Errorf("blobstore.base_dir is required")
	}
	if c.Server.OwnerID == "" {
		return fmt.Errorf("server.owner_id is required")
	}
	if c.Upload.MaxFileSize < 0 {
		return fmt.Errorf("upload.max_file_size must not be negative")
	}
	// Lark credentials come as a pair when alerts are enabled.
	if c.Lark.AppID != "" && c.Lark.AppSecret == "" {
		return fmt.Errorf("lark.app_secret is required when lark.app_id is set")
	}
	return nil
}
