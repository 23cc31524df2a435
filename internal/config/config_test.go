package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment does
// not leak into tests. Empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		EnvGroupID, EnvAPIKey, EnvCacheDuration, EnvTimezone, EnvStaticName,
		EnvProxyURL, EnvAPIBaseURL, EnvUpstreamTimeout, EnvListen, EnvPort,
		EnvLogLevel, EnvBasicAuthUser, EnvBasicAuthPassword,
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultCacheMinutes, cfg.CacheMinutes)
	assert.Equal(t, 60*time.Minute, cfg.CacheDuration())
	assert.Equal(t, DefaultTimezone, cfg.Timezone)
	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, 15*time.Second, cfg.UpstreamTimeout())
	assert.Nil(t, cfg.BasicAuth)
}

func TestLoad_EnvironmentOverlaysFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "groupmecal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "0.0.0.0:9000"
group_id: "from-file"
api_key: "file-key"
cache_duration_minutes: 15
timezone: "Europe/Berlin"
static_name: "File Name"
`), 0o600))

	t.Setenv(EnvGroupID, "from-env")
	t.Setenv(EnvCacheDuration, "0")
	t.Setenv(EnvProxyURL, " https://cal.example.com/calendar.ics ")
	t.Setenv(EnvBasicAuthUser, "alice")
	t.Setenv(EnvBasicAuthPassword, "pw")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "from-env", cfg.GroupID)
	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, 0, cfg.CacheMinutes)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, "File Name", cfg.StaticName)
	assert.Equal(t, "https://cal.example.com/calendar.ics", cfg.ProxyURL)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "alice", cfg.BasicAuth.Username)
}

func TestLoad_PortAndBadInteger(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPort, "5000")
	t.Setenv(EnvCacheDuration, "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.Listen)
	assert.Equal(t, DefaultCacheMinutes, cfg.CacheMinutes)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalize_InvalidTimezoneFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	cfg.CacheMinutes = -5
	cfg.BasicAuth = &BasicAuthConfig{Username: "alice"}
	cfg.Normalize()

	assert.Equal(t, DefaultTimezone, cfg.Timezone)
	assert.Equal(t, DefaultCacheMinutes, cfg.CacheMinutes)
	assert.Nil(t, cfg.BasicAuth)
}

func TestNormalize_TimezoneNames(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Local", DefaultTimezone},
		{"local", DefaultTimezone},
		{"UTC", "UTC"},
		{"Europe/Berlin", "Europe/Berlin"},
		{"", DefaultTimezone},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Timezone = tt.in
			cfg.Normalize()
			assert.Equal(t, tt.want, cfg.Timezone)
		})
	}
}

func TestRequireUpstream(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.RequireUpstream()
	var me *MissingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, EnvGroupID, me.Var)
	assert.Equal(t, "The GROUPME_GROUP_ID is not set.", err.Error())

	cfg.GroupID = "123"
	require.True(t, errors.As(cfg.RequireUpstream(), &me))
	assert.Equal(t, EnvAPIKey, me.Var)

	cfg.APIKey = "key"
	assert.NoError(t, cfg.RequireUpstream())
}
