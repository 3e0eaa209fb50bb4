package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Catalogue CatalogueConfig `mapstructure:"catalogue"`
	Explorer  ExplorerConfig  `mapstructure:"explorer"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Debug     bool            `mapstructure:"debug"`
}

// AnalyticsConfig contains connection settings for the read-only
// analytics database
type AnalyticsConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheck     time.Duration `mapstructure:"health_check_period"`
}

// CatalogueConfig contains connection settings for the primary
// application database holding the metadata catalogue
type CatalogueConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// ExplorerConfig contains the query safety pipeline settings
type ExplorerConfig struct {
	AllowListTTL          time.Duration `mapstructure:"allow_list_ttl"`
	SystemMaxRowCap       int           `mapstructure:"system_max_row_cap"`
	QueryTimeout          time.Duration `mapstructure:"query_timeout"`
	QueryTimeoutCeiling   time.Duration `mapstructure:"query_timeout_ceiling"`
	PoolSize              int32         `mapstructure:"pool_size"`
	QueueTimeout          time.Duration `mapstructure:"queue_timeout"`
	NLPromptMetadataLimit int           `mapstructure:"nl_prompt_metadata_limit"`
}

// LLMConfig contains settings for the natural-language-to-SQL provider
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"` // openai, azure, ollama
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerMin int           `mapstructure:"requests_per_minute"`

	// OpenAI settings
	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`

	// Azure OpenAI settings
	AzureAPIKey     string `mapstructure:"azure_api_key"`
	AzureEndpoint   string `mapstructure:"azure_endpoint"`
	AzureDeployment string `mapstructure:"azure_deployment"`
	AzureAPIVersion string `mapstructure:"azure_api_version"`

	// Ollama settings
	OllamaEndpoint string `mapstructure:"ollama_endpoint"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	viper.SetConfigName("explorer")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/explorer")

	// Set defaults
	setDefaults()

	// Enable environment variable support with underscore replacer
	viper.AutomaticEnv()
	viper.SetEnvPrefix("EXPLORER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file (if it exists)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
		"../.env", // For when running from subdirectories
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	// Analytics database defaults
	viper.SetDefault("analytics.host", "localhost")
	viper.SetDefault("analytics.port", 5432)
	viper.SetDefault("analytics.user", "explorer_ro")
	viper.SetDefault("analytics.password", "")
	viper.SetDefault("analytics.database", "analytics")
	viper.SetDefault("analytics.ssl_mode", "require")
	viper.SetDefault("analytics.max_conn_lifetime", "1h")
	viper.SetDefault("analytics.max_conn_idle_time", "30m")
	viper.SetDefault("analytics.health_check_period", "1m")

	// Catalogue database defaults
	viper.SetDefault("catalogue.host", "localhost")
	viper.SetDefault("catalogue.port", 5432)
	viper.SetDefault("catalogue.user", "explorer")
	viper.SetDefault("catalogue.password", "")
	viper.SetDefault("catalogue.database", "app")
	viper.SetDefault("catalogue.ssl_mode", "require")

	// Explorer pipeline defaults
	viper.SetDefault("explorer.allow_list_ttl", "60s")
	viper.SetDefault("explorer.system_max_row_cap", 10000)
	viper.SetDefault("explorer.query_timeout", "30s")
	viper.SetDefault("explorer.query_timeout_ceiling", "120s")
	viper.SetDefault("explorer.pool_size", 16)
	viper.SetDefault("explorer.queue_timeout", "5s")
	viper.SetDefault("explorer.nl_prompt_metadata_limit", 50)

	// LLM defaults
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4-turbo")
	viper.SetDefault("llm.timeout", "30s")
	viper.SetDefault("llm.requests_per_minute", 30)
	viper.SetDefault("llm.azure_api_version", "2024-02-15-preview")
	viper.SetDefault("llm.ollama_endpoint", "http://localhost:11434")

	// General defaults
	viper.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Explorer.SystemMaxRowCap <= 0 {
		return fmt.Errorf("system_max_row_cap must be positive")
	}

	if c.Explorer.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}

	if c.Explorer.QueryTimeout > c.Explorer.QueryTimeoutCeiling {
		return fmt.Errorf("query_timeout must not exceed query_timeout_ceiling")
	}

	if c.Explorer.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if c.Explorer.AllowListTTL <= 0 {
		return fmt.Errorf("allow_list_ttl must be positive")
	}

	switch c.LLM.Provider {
	case "openai", "azure", "ollama":
	default:
		return fmt.Errorf("invalid llm provider: %s (must be one of: openai, azure, ollama)", c.LLM.Provider)
	}

	return nil
}

// ConnectionString returns the PostgreSQL connection string for the
// analytics database
func (ac *AnalyticsConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		ac.User, ac.Password, ac.Host, ac.Port, ac.Database, ac.SSLMode)
}

// ConnectionString returns the PostgreSQL connection string for the
// catalogue database
func (cc *CatalogueConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cc.User, cc.Password, cc.Host, cc.Port, cc.Database, cc.SSLMode)
}
