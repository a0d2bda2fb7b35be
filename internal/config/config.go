package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the calsync daemon.
type Config struct {
	Timezone string       `mapstructure:"timezone"`
	Sync     SyncConfig   `mapstructure:"sync"`
	Source   SourceConfig `mapstructure:"source"`
	Target   TargetConfig `mapstructure:"target"`
}

// SyncConfig bounds the reconciliation cadence and window.
type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	PastHorizon   time.Duration `mapstructure:"past_horizon"`
	FutureHorizon time.Duration `mapstructure:"future_horizon"`
}

// SourceConfig selects and configures the source calendar provider.
type SourceConfig struct {
	Kind     string        `mapstructure:"kind"` // "outlook" or "caldav"
	Calendar string        `mapstructure:"calendar"`
	Outlook  OutlookConfig `mapstructure:"outlook"`
	CalDAV   CalDAVConfig  `mapstructure:"caldav"`
}

// OutlookConfig holds Microsoft Graph OAuth settings.
type OutlookConfig struct {
	TenantID  string `mapstructure:"tenant_id"`
	ClientID  string `mapstructure:"client_id"`
	TokenPath string `mapstructure:"token_path"`
}

// CalDAVConfig holds CalDAV server settings. Password is typically an
// app-specific password.
type CalDAVConfig struct {
	ServerURL string `mapstructure:"server_url"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Path      string `mapstructure:"path"`
}

// TargetConfig configures the Google Calendar target.
type TargetConfig struct {
	Calendar string       `mapstructure:"calendar"`
	Google   GoogleConfig `mapstructure:"google"`
}

// GoogleConfig holds Google OAuth2 credentials and token path.
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenPath    string `mapstructure:"token_path"`
}

// Load reads configuration from file, env vars, and defaults. When cfgFile is
// empty the usual locations are searched; the file itself is optional as long
// as the required credentials arrive via environment.
func Load(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("timezone", "")
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.past_horizon", "168h")    // 7 days
	v.SetDefault("sync.future_horizon", "672h")  // 28 days
	v.SetDefault("source.kind", "outlook")
	v.SetDefault("source.calendar", "Calendar")
	v.SetDefault("source.outlook.tenant_id", "common")
	v.SetDefault("source.outlook.token_path", "$HOME/.config/calsync/outlook-token.json")
	v.SetDefault("target.calendar", "primary")
	v.SetDefault("target.google.token_path", "$HOME/.config/calsync/google-token.json")

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("calsync")
		v.AddConfigPath("/etc/calsync")
		v.AddConfigPath("$HOME/.config/calsync")
		v.AddConfigPath(".")
	}

	v.BindEnv("source.outlook.tenant_id", "OUTLOOK_TENANT_ID")
	v.BindEnv("source.outlook.client_id", "OUTLOOK_CLIENT_ID")
	v.BindEnv("source.outlook.token_path", "OUTLOOK_TOKEN_PATH")
	v.BindEnv("source.caldav.password", "CALDAV_PASSWORD")
	v.BindEnv("target.google.client_id", "GOOGLE_CLIENT_ID")
	v.BindEnv("target.google.client_secret", "GOOGLE_CLIENT_SECRET")
	v.BindEnv("target.google.token_path", "GOOGLE_TOKEN_PATH")

	_ = v.ReadInConfig() // config file is optional

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks that everything the daemon needs is present.
func Validate(cfg Config) error {
	if cfg.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if cfg.Sync.PastHorizon < 0 || cfg.Sync.FutureHorizon < 0 {
		return fmt.Errorf("sync horizons must not be negative")
	}

	switch cfg.Source.Kind {
	case "outlook":
		if cfg.Source.Outlook.ClientID == "" {
			return fmt.Errorf("source.outlook.client_id is required")
		}
		if cfg.Source.Outlook.TokenPath == "" {
			return fmt.Errorf("source.outlook.token_path is required")
		}
	case "caldav":
		if cfg.Source.CalDAV.ServerURL == "" {
			return fmt.Errorf("source.caldav.server_url is required")
		}
		if cfg.Source.CalDAV.Username == "" {
			return fmt.Errorf("source.caldav.username is required")
		}
		if cfg.Source.CalDAV.Password == "" {
			return fmt.Errorf("source.caldav.password is required")
		}
	default:
		return fmt.Errorf("source.kind must be \"outlook\" or \"caldav\", got %q", cfg.Source.Kind)
	}

	if cfg.Target.Google.ClientID == "" {
		return fmt.Errorf("target.google.client_id is required")
	}
	if cfg.Target.Google.ClientSecret == "" {
		return fmt.Errorf("target.google.client_secret is required")
	}
	if cfg.Target.Google.TokenPath == "" {
		return fmt.Errorf("target.google.token_path is required")
	}
	return nil
}

// Location resolves the configured timezone, defaulting to the host's local
// zone. Both providers normalize timestamps into this location so that
// fingerprints are comparable across them.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
