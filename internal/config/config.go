package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogJSON     bool   `mapstructure:"log_json"`
	LogDebug    bool   `mapstructure:"log_debug"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"redis"`

	Upstream struct {
		URL string `mapstructure:"url"`
		// Token is the default bearer credential for headless runs; the
		// console API carries per-connection tokens instead.
		Token           string        `mapstructure:"token"`
		OrganizationID  string        `mapstructure:"organization_id"`
		RequestInterval time.Duration `mapstructure:"request_interval"`
		MaxRetries      int           `mapstructure:"max_retries"`
		PageSize        int           `mapstructure:"page_size"`
		BatchSize       int           `mapstructure:"batch_size"`
		VerifyBatchSize int           `mapstructure:"verify_batch_size"`
		ChunkDelay      time.Duration `mapstructure:"chunk_delay"`
		VerifyDelay     time.Duration `mapstructure:"verify_delay"`
		// WebhookURLs receive a summary POST after every completed run.
		WebhookURLs []string `mapstructure:"webhook_urls"`
	} `mapstructure:"upstream"`

	Auth struct {
		IssuerURL     string `mapstructure:"issuer_url"`
		ClientID      string `mapstructure:"client_id"`
		ClientSecret  string `mapstructure:"client_secret"`
		RedirectURL   string `mapstructure:"redirect_url"`
		DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	} `mapstructure:"auth"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// a config file is optional when everything comes from the env
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.IssuerURL = normalizeIssuer(config.Auth.IssuerURL)

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "DEV")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.cache_ttl", 10*time.Minute)
	viper.SetDefault("upstream.url", "https://api.pipefy.com/graphql")
	// ~500 requests per 30s upstream window; 60ms spacing stays well under it.
	viper.SetDefault("upstream.request_interval", 60*time.Millisecond)
	viper.SetDefault("upstream.max_retries", 3)
	viper.SetDefault("upstream.page_size", 50)
	viper.SetDefault("upstream.batch_size", 50)
	viper.SetDefault("upstream.verify_batch_size", 20)
	viper.SetDefault("upstream.chunk_delay", 500*time.Millisecond)
	viper.SetDefault("upstream.verify_delay", 300*time.Millisecond)
}

// normalizeIssuer ensures the provided OIDC issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact, so the full URL can be pasted from the provider's admin
// console as-is.
func normalizeIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
