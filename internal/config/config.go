package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // timezone validation must not depend on the host zoneinfo

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appLog "groupmecal/internal/log"
)

const (
	DefaultListen          = "127.0.0.1:8080"
	DefaultTimezone        = "America/Chicago"
	DefaultCacheMinutes    = 60
	DefaultAPIBaseURL      = "https://api.groupme.com/v3"
	DefaultUpstreamTimeout = 15
	DefaultLogLevel        = "info"
)

// Environment variable names. These are the primary way the service is
// configured in container deployments; the YAML file is optional.
const (
	EnvGroupID           = "GROUPME_GROUP_ID"
	EnvAPIKey            = "GROUPME_API_KEY"
	EnvCacheDuration     = "CACHE_DURATION"
	EnvTimezone          = "GROUPME_CALENDAR_TIMEZONE"
	EnvStaticName        = "GROUPME_STATIC_NAME"
	EnvProxyURL          = "GROUPME_PROXY_URL"
	EnvAPIBaseURL        = "GROUPME_API_BASE_URL"
	EnvUpstreamTimeout   = "GROUPME_UPSTREAM_TIMEOUT"
	EnvListen            = "GROUPMECAL_LISTEN"
	EnvPort              = "PORT"
	EnvLogLevel          = "GROUPMECAL_LOG_LEVEL"
	EnvBasicAuthUser     = "GROUPMECAL_BASIC_AUTH_USER"
	EnvBasicAuthPassword = "GROUPMECAL_BASIC_AUTH_PASSWORD"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the web routes.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// GroupID and APIKey identify the GroupMe group and the access token
	// used for the X-Access-Token header. Both are required to serve a feed.
	GroupID string `yaml:"group_id" json:"group_id"`
	APIKey  string `yaml:"api_key" json:"-"`

	// CacheMinutes is the freshness window for the built feed.
	// Zero disables caching: every request refetches.
	CacheMinutes int `yaml:"cache_duration_minutes" json:"cache_duration_minutes"`

	// Timezone is the IANA name emitted as X-WR-TIMEZONE.
	Timezone string `yaml:"timezone" json:"timezone"`

	// StaticName, if set, is used as the calendar display name instead of
	// the group name reported by GroupMe.
	StaticName string `yaml:"static_name" json:"static_name"`

	// ProxyURL is the externally visible feed URL. When empty it is derived
	// from the inbound request.
	ProxyURL string `yaml:"proxy_url" json:"proxy_url"`

	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// UpstreamTimeoutSeconds bounds each GroupMe API request.
	UpstreamTimeoutSeconds int `yaml:"upstream_timeout_seconds" json:"upstream_timeout_seconds"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// MissingError reports a required setting that is absent. Var is the
// environment variable name shown to the operator.
type MissingError struct {
	Var string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("The %s is not set.", e.Var)
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 DefaultListen,
		CacheMinutes:           DefaultCacheMinutes,
		Timezone:               DefaultTimezone,
		APIBaseURL:             DefaultAPIBaseURL,
		UpstreamTimeoutSeconds: DefaultUpstreamTimeout,
		LogLevel:               DefaultLogLevel,
	}
}

// checkTimezone accepts IANA zone names only. "Local" resolves on the host
// but means nothing to a calendar client reading X-WR-TIMEZONE.
func checkTimezone(name string) error {
	if strings.EqualFold(name, "Local") {
		return fmt.Errorf("timezone %q is not an IANA zone name", name)
	}
	_, err := time.LoadLocation(name)
	return err
}

// Normalize fills in missing/zero values with sensible defaults. An unknown
// timezone is logged and replaced by DefaultTimezone; it never fails.
func (c *Config) Normalize() {
	c.GroupID = strings.TrimSpace(c.GroupID)
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.StaticName = strings.TrimSpace(c.StaticName)
	c.ProxyURL = strings.TrimSpace(c.ProxyURL)

	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.CacheMinutes < 0 {
		c.CacheMinutes = DefaultCacheMinutes
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if err := checkTimezone(c.Timezone); err != nil {
		appLog.Error("invalid timezone; falling back", err, "timezone", c.Timezone, "fallback", DefaultTimezone)
		c.Timezone = DefaultTimezone
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.UpstreamTimeoutSeconds <= 0 {
		c.UpstreamTimeoutSeconds = DefaultUpstreamTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	// Empty credentials are treated as "disabled".
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		c.BasicAuth = nil
	}
}

// CacheDuration returns the freshness window as a time.Duration.
func (c *Config) CacheDuration() time.Duration {
	return time.Duration(c.CacheMinutes) * time.Minute
}

// UpstreamTimeout returns the per-request GroupMe API timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSeconds) * time.Second
}

// RequireUpstream returns a *MissingError naming the first required
// setting that is empty, checking the group id before the access token.
func (c *Config) RequireUpstream() error {
	if c.GroupID == "" {
		return &MissingError{Var: EnvGroupID}
	}
	if c.APIKey == "" {
		return &MissingError{Var: EnvAPIKey}
	}
	return nil
}

// Load builds the configuration.
//
// Behavior:
//   - start from DefaultConfig
//   - if path is non-empty and the file exists, unmarshal YAML over it
//     (a missing file is not an error)
//   - overlay environment variables
//   - normalize defaults
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			appLog.Debug("config file not found; using defaults and environment", "config_path", path)
		default:
			return nil, err
		}
	}

	applyEnv(cfg, newEnv())
	cfg.Normalize()

	return cfg, nil
}

// newEnv returns a viper instance bound to the environment variables the
// service understands, keyed by the YAML field names.
func newEnv() *viper.Viper {
	v := viper.New()
	bind := func(key, env string) {
		// BindEnv only errors when called without a key.
		_ = v.BindEnv(key, env)
	}
	bind("listen", EnvListen)
	bind("port", EnvPort)
	bind("group_id", EnvGroupID)
	bind("api_key", EnvAPIKey)
	bind("cache_duration_minutes", EnvCacheDuration)
	bind("timezone", EnvTimezone)
	bind("static_name", EnvStaticName)
	bind("proxy_url", EnvProxyURL)
	bind("api_base_url", EnvAPIBaseURL)
	bind("upstream_timeout_seconds", EnvUpstreamTimeout)
	bind("log_level", EnvLogLevel)
	bind("basic_auth.username", EnvBasicAuthUser)
	bind("basic_auth.password", EnvBasicAuthPassword)
	return v
}

func applyEnv(cfg *Config, v *viper.Viper) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if !v.IsSet(key) {
			return
		}
		raw := strings.TrimSpace(v.GetString(key))
		n, err := strconv.Atoi(raw)
		if err != nil {
			appLog.Error("ignoring non-integer setting", err, "key", key, "value", raw)
			return
		}
		*dst = n
	}

	if v.IsSet("port") {
		cfg.Listen = ":" + strings.TrimPrefix(v.GetString("port"), ":")
	}
	setString("listen", &cfg.Listen)
	setString("group_id", &cfg.GroupID)
	setString("api_key", &cfg.APIKey)
	setInt("cache_duration_minutes", &cfg.CacheMinutes)
	setString("timezone", &cfg.Timezone)
	setString("static_name", &cfg.StaticName)
	setString("proxy_url", &cfg.ProxyURL)
	setString("api_base_url", &cfg.APIBaseURL)
	setInt("upstream_timeout_seconds", &cfg.UpstreamTimeoutSeconds)
	setString("log_level", &cfg.LogLevel)

	if v.IsSet("basic_auth.username") || v.IsSet("basic_auth.password") {
		if cfg.BasicAuth == nil {
			cfg.BasicAuth = &BasicAuthConfig{}
		}
		setString("basic_auth.username", &cfg.BasicAuth.Username)
		setString("basic_auth.password", &cfg.BasicAuth.Password)
	}
}
