package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Server        struct {
		Addr    string `mapstructure:"addr"`
		TLSAddr string `mapstructure:"tls_addr"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Redis struct {
		Addr      string `mapstructure:"addr"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		Stream    string `mapstructure:"stream"`
		MaxLength int64  `mapstructure:"max_length"`
	} `mapstructure:"redis"`
	Events struct {
		RedeliverInterval time.Duration `mapstructure:"redeliver_interval"`
	} `mapstructure:"events"`
	Directory struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"directory"`
	Auth struct {
		Issuer          string `mapstructure:"issuer"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Log struct {
		Level   string `mapstructure:"level"`
		Console bool   `mapstructure:"console"`
	} `mapstructure:"log"`
	Metrics struct {
		Enable bool `mapstructure:"enable"`
	} `mapstructure:"metrics"`
}

// IsDev reports whether the service runs in the development environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "dev")
}

// UsePostgres reports whether a database is configured; without one the
// service keeps state in memory.
func (c *Config) UsePostgres() bool {
	return c.DB.Host != ""
}

// DSN returns the libpq connection string for the configured database.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// setDefaults registers every key so that environment variables can
// override keys that are absent from the file.
func setDefaults() {
	viper.SetDefault("environment", "prod")
	viper.SetDefault("dev_mode_bypass", false)
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.tls_addr", ":8443")
	viper.SetDefault("db.host", "")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.user", "")
	viper.SetDefault("db.password", "")
	viper.SetDefault("db.name", "workflows")
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.stream", "workflow-events")
	viper.SetDefault("redis.max_length", 100000)
	viper.SetDefault("events.redeliver_interval", time.Minute)
	viper.SetDefault("directory.url", "")
	viper.SetDefault("auth.issuer", "")
	viper.SetDefault("auth.client_id", "")
	viper.SetDefault("auth.client_secret", "")
	viper.SetDefault("auth.redirect_url", "")
	viper.SetDefault("auth.swagger_client_id", "")
	viper.SetDefault("tls.enable", false)
	viper.SetDefault("tls.cert_file", "")
	viper.SetDefault("tls.key_file", "")
	viper.SetDefault("tls.hostnames", []string{})
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.console", false)
	viper.SetDefault("metrics.enable", true)
}

// LoadConfig loads the configuration from a file and the environment. An
// explicit path must exist; otherwise config.yaml is looked up in . and
// ./config and may be absent. Environment variables use the WORKFLOW_ prefix,
// e.g. WORKFLOW_DB_HOST.
func LoadConfig(path string) (*Config, error) {
	setDefaults()
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvPrefix("WORKFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)
	config.Directory.URL = strings.TrimRight(strings.TrimSpace(config.Directory.URL), "/")

	return &config, nil
}

// normalizeIssuer strips surrounding space and any trailing slash so the
// issuer matches the "iss" claim of tokens exactly.
func normalizeIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
