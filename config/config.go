package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete autoupdate-report configuration
type Config struct {
	Site     SiteConfig        `yaml:"site"`
	Log      LogConfig         `yaml:"log"`
	Mail     MailConfig        `yaml:"mail"`
	Users    map[string]string `yaml:"users"` // login -> email, for extra recipients given by username
	Schedule ScheduleConfig    `yaml:"schedule"`
	Server   ServerConfig      `yaml:"server"`
	State    StateConfig       `yaml:"state"`
	Verbose  bool              `yaml:"verbose"`
}

// SiteConfig describes the site whose updates are reported
type SiteConfig struct {
	Name        string `yaml:"name"`
	Root        string `yaml:"root"`
	ThemesDir   string `yaml:"themes_dir"`
	ActiveTheme string `yaml:"active_theme"`
	LogsDir     string `yaml:"logs_dir"`
	Timezone    string `yaml:"timezone"`

	location *time.Location
}

// LogConfig holds update log settings
type LogConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// MailConfig holds report delivery settings
type MailConfig struct {
	AdminEmail      string     `yaml:"admin_email"`
	ExtraRecipients []string   `yaml:"extra_recipients"`
	From            string     `yaml:"from"`
	Transport       string     `yaml:"transport"` // "smtp", "outbox"
	SMTP            SMTPConfig `yaml:"smtp"`
	OutboxDir       string     `yaml:"outbox_dir"`
}

// SMTPConfig holds SMTP relay settings
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ScheduleConfig holds weekly job settings
type ScheduleConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// ServerConfig holds hook listener settings
type ServerConfig struct {
	Addr         string  `yaml:"addr"`
	HtpasswdFile string  `yaml:"htpasswd_file"`
	RateLimit    float64 `yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst    int     `yaml:"rate_burst"`
}

// StateConfig holds where scheduler state is kept
type StateConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			Name:     "WordPress",
			Root:     "/var/www/html",
			Timezone: "UTC",
		},
		Log: LogConfig{
			MaxEntries: 1000,
		},
		Mail: MailConfig{
			Transport: "smtp",
			SMTP: SMTPConfig{
				Port:    587,
				Timeout: 30 * time.Second,
			},
		},
		Schedule: ScheduleConfig{
			Enabled:    true,
			Interval:   7 * 24 * time.Hour,
			RunTimeout: 10 * time.Minute,
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:8731",
			RateLimit: 5,
			RateBurst: 20,
		},
		State: StateConfig{
			Path: "/var/lib/autoupdate-report",
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors and fills derived paths
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Site.Name) == "" {
		return fmt.Errorf("site.name is required")
	}
	if c.Mail.AdminEmail == "" {
		return fmt.Errorf("mail.admin_email is required")
	}
	if !strings.Contains(c.Mail.AdminEmail, "@") {
		return fmt.Errorf("mail.admin_email %q is not an email address", c.Mail.AdminEmail)
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return fmt.Errorf("site.timezone: %w", err)
	}
	c.Site.location = loc

	// The log lives in the active theme's logs directory unless set explicitly
	if c.Site.ThemesDir == "" && c.Site.Root != "" {
		c.Site.ThemesDir = filepath.Join(c.Site.Root, "wp-content", "themes")
	}
	if c.Site.LogsDir == "" {
		if c.Site.ActiveTheme == "" || c.Site.ThemesDir == "" {
			return fmt.Errorf("site.logs_dir or site.active_theme is required")
		}
		c.Site.LogsDir = filepath.Join(c.Site.ThemesDir, c.Site.ActiveTheme, "logs")
	}

	if c.Log.MaxEntries < 0 {
		return fmt.Errorf("log.max_entries must not be negative")
	}

	switch c.Mail.Transport {
	case "smtp":
		if c.Mail.SMTP.Host == "" {
			return fmt.Errorf("mail.smtp.host is required for the smtp transport")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("mail.from is required for the smtp transport")
		}
	case "outbox":
		if c.Mail.OutboxDir == "" {
			c.Mail.OutboxDir = filepath.Join(c.State.Path, "outbox")
		}
	default:
		return fmt.Errorf("mail.transport must be \"smtp\" or \"outbox\", got %q", c.Mail.Transport)
	}

	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be positive")
	}
	if c.Schedule.RunTimeout <= 0 {
		return fmt.Errorf("schedule.run_timeout must be positive")
	}

	return nil
}

// Location returns the time zone report dates are shown in.
func (c *Config) Location() *time.Location {
	if c.Site.location == nil {
		return time.UTC
	}
	return c.Site.location
}
