package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Contains(t, cfg.Feed.URLTemplate, "%s")
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "imagens_imoveis", cfg.Images.Dir)
	assert.NotEmpty(t, cfg.Geocode.BaseURL)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("IMOVSYNC_STORE_DRIVER", "sqlite")
	t.Setenv("IMOVSYNC_SERVER_PORT", "9999")
	t.Setenv("IMOVSYNC_GEOCODE_KEY1", "k-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"k-1", "", ""}, cfg.Geocode.Keys())
}

func TestCloudinaryEnabled(t *testing.T) {
	assert.False(t, CloudinaryConfig{}.Enabled())
	assert.False(t, CloudinaryConfig{CloudName: "c", APIKey: "k"}.Enabled())
	assert.True(t, CloudinaryConfig{CloudName: "c", APIKey: "k", APISecret: "s"}.Enabled())
}

func TestFeedConfigDurations(t *testing.T) {
	c := FeedConfig{MinDelaySecs: 1, MaxDelaySecs: 3, TimeoutSecs: 30}
	assert.Equal(t, "1s", c.MinDelay().String())
	assert.Equal(t, "3s", c.MaxDelay().String())
	assert.Equal(t, "30s", c.Timeout().String())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope"}))
}
