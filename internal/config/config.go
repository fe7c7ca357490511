package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Github   GithubConfig   `mapstructure:"github"`
	Trello   TrelloConfig   `mapstructure:"trello"`
	Signoff  SignoffConfig  `mapstructure:"signoff"`
	Google   GoogleConfig   `mapstructure:"google"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required"`
	// PublicURL is the externally reachable base used to build webhook callbacks.
	PublicURL  string `mapstructure:"public_url" validate:"required,url"`
	Workers    int    `mapstructure:"workers" validate:"min=1"`
	AdminToken string `mapstructure:"admin_token"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type GithubConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	APIURL       string        `mapstructure:"api_url" validate:"omitempty,url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type TrelloConfig struct {
	APIKey    string        `mapstructure:"api_key" validate:"required"`
	APISecret string        `mapstructure:"api_secret"`
	APIURL    string        `mapstructure:"api_url" validate:"required,url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type SignoffConfig struct {
	Context            string        `mapstructure:"context" validate:"required"`
	PendingDescription string        `mapstructure:"pending_description" validate:"required"`
	SuccessDescription string        `mapstructure:"success_description" validate:"required"`
	ChecklistName      string        `mapstructure:"checklist_name" validate:"required"`
	TargetURL          string        `mapstructure:"target_url" validate:"omitempty,url"`
	CallTimeout        time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
}

type GoogleConfig struct {
	ServiceAccount map[string]any `mapstructure:"service_account"`
	// Sender is the mailbox notification emails are sent as.
	Sender string `mapstructure:"sender" validate:"omitempty,email"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.workers", 10)
	v.SetDefault("database.path", "signoff.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("github.timeout", 15*time.Second)
	v.SetDefault("trello.api_url", "https://api.trello.com/1")
	v.SetDefault("trello.timeout", 15*time.Second)
	v.SetDefault("signoff.context", "product-signoff")
	v.SetDefault("signoff.pending_description", "Awaiting product signoff")
	v.SetDefault("signoff.success_description", "Product signoff has been received")
	v.SetDefault("signoff.checklist_name", "Pull requests")
	v.SetDefault("signoff.call_timeout", 10*time.Second)
}

// envKeys are bound explicitly because AutomaticEnv only reaches Unmarshal
// for keys viper already knows from a default or the config file.
var envKeys = []string{
	"server.port",
	"server.public_url",
	"server.workers",
	"server.admin_token",
	"database.path",
	"log.level",
	"github.client_id",
	"github.client_secret",
	"github.api_url",
	"github.timeout",
	"trello.api_key",
	"trello.api_secret",
	"trello.api_url",
	"trello.timeout",
	"signoff.context",
	"signoff.pending_description",
	"signoff.success_description",
	"signoff.checklist_name",
	"signoff.target_url",
	"signoff.call_timeout",
	"google.sender",
}

// Load reads config.toml from path (a file or directory) and applies
// SIGNOFF_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("signoff")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path == "" {
		path = "."
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(filepath.Clean(path))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GithubCallbackURL is the pull_request webhook target for a repository slug.
func (c *Config) GithubCallbackURL(slug string) string {
	return strings.TrimRight(c.Server.PublicURL, "/") + "/github/callback/" + slug
}

// TrelloCallbackURL is the webhook target shared by all list registrations.
func (c *Config) TrelloCallbackURL() string {
	return strings.TrimRight(c.Server.PublicURL, "/") + "/trello/callback"
}
