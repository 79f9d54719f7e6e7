package internal

import (
	"fmt"
	"log/slog"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config represents the application configuration. It is assembled from an
// optional YAML file, environment variables, and CLI flags, then passed
// explicitly into the orchestrators; nothing reads configuration ad hoc.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Redash RedashConfig      `yaml:"redash"`
	Sync   SyncConfig        `yaml:"sync"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Redash.Validate(); err != nil {
		return err
	}
	return c.Sync.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// RedashConfig identifies the Redash instance to sync against.
type RedashConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	DataSource string `yaml:"data_source"` // push target, optional
}

// Validate validates the Redash connection configuration.
func (c *RedashConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, validation.By(validURL)),
		validation.Field(&c.APIKey, validation.Required),
	)
}

// SyncConfig holds the local tree location.
type SyncConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

func validURL(value any) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL")
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Sync: SyncConfig{
			Dir: ".",
		},
	}
}
