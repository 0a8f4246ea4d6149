// Package config loads application configuration from file and
// environment and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Feed    FeedConfig    `yaml:"feed" mapstructure:"feed"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Images  ImagesConfig  `yaml:"images" mapstructure:"images"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FeedConfig configures the upstream feed endpoints.
type FeedConfig struct {
	// URLTemplate is a printf template taking the state code.
	URLTemplate string `yaml:"url_template" mapstructure:"url_template"`
	// RootURL is the landing page fetched once per session for cookies.
	RootURL string `yaml:"root_url" mapstructure:"root_url"`
	// MinDelaySecs/MaxDelaySecs bound the politeness pause between fetches.
	MinDelaySecs int `yaml:"min_delay_secs" mapstructure:"min_delay_secs"`
	MaxDelaySecs int `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	TimeoutSecs  int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MinDelay returns the configured politeness floor as a duration.
func (c FeedConfig) MinDelay() time.Duration { return time.Duration(c.MinDelaySecs) * time.Second }

// MaxDelay returns the configured politeness ceiling as a duration.
func (c FeedConfig) MaxDelay() time.Duration { return time.Duration(c.MaxDelaySecs) * time.Second }

// Timeout returns the per-request timeout as a duration.
func (c FeedConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSecs) * time.Second }

// GeocodeConfig holds the HERE credential slots. Key1 is tried first.
type GeocodeConfig struct {
	Key1    string `yaml:"key1" mapstructure:"key1"`
	Key2    string `yaml:"key2" mapstructure:"key2"`
	Key3    string `yaml:"key3" mapstructure:"key3"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// Keys returns the configured credential slots in rotation order.
func (c GeocodeConfig) Keys() []string {
	return []string{c.Key1, c.Key2, c.Key3}
}

// ImagesConfig configures photo mirroring.
type ImagesConfig struct {
	// Dir is the root of the local photo cache.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// PhotoBaseURL is the origin photo directory.
	PhotoBaseURL string           `yaml:"photo_base_url" mapstructure:"photo_base_url"`
	Cloudinary   CloudinaryConfig `yaml:"cloudinary" mapstructure:"cloudinary"`
}

// CloudinaryConfig holds blob store credentials.
type CloudinaryConfig struct {
	CloudName string `yaml:"cloud_name" mapstructure:"cloud_name"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	APISecret string `yaml:"api_secret" mapstructure:"api_secret"`
}

// Enabled reports whether credentials are present.
func (c CloudinaryConfig) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// ServerConfig configures the query API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IMOVSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("feed.url_template", "https://venda-imoveis.caixa.gov.br/listaweb/Lista_imoveis_%s.csv")
	v.SetDefault("feed.root_url", "https://venda-imoveis.caixa.gov.br/")
	v.SetDefault("feed.min_delay_secs", 1)
	v.SetDefault("feed.max_delay_secs", 3)
	v.SetDefault("feed.timeout_secs", 30)
	v.SetDefault("geocode.base_url", "https://geocode.search.hereapi.com/v1/geocode")
	v.SetDefault("images.dir", "imagens_imoveis")
	v.SetDefault("images.photo_base_url", "https://venda-imoveis.caixa.gov.br/fotos")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
