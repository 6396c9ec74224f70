package config

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, DefaultRelayConfig().Validate())
	require.NoError(t, DefaultClientConfig().Validate())

	ft := DefaultClientConfig().FileTransfer
	assert.Equal(t, 3, ft.MaxRetries)
	assert.Equal(t, "downloads", ft.DownloadDir)
	assert.Equal(t, ".part", ft.PartSuffix)
}

func TestRelayConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RelayConfig)
	}{
		{"no listen address", func(c *RelayConfig) { c.ListenAddr = "" }},
		{"tiny key", func(c *RelayConfig) { c.KeyBits = 512 }},
		{"zero handshake timeout", func(c *RelayConfig) { c.HandshakeTimeout = 0 }},
		{"negative write timeout", func(c *RelayConfig) { c.WriteTimeout = -time.Second }},
		{"bad log level", func(c *RelayConfig) { c.LogLevel = "loud" }},
		{"bad log format", func(c *RelayConfig) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRelayConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ClientConfig)
	}{
		{"no server", func(c *ClientConfig) { c.ServerAddr = "" }},
		{"zero heartbeat", func(c *ClientConfig) { c.HeartbeatInterval = 0 }},
		{"oversized chunk", func(c *ClientConfig) { c.FileTransfer.ChunkSize = 1 << 20 }},
		{"no retries", func(c *ClientConfig) { c.FileTransfer.MaxRetries = 0 }},
		{"no download dir", func(c *ClientConfig) { c.FileTransfer.DownloadDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClientConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestSetupLogging(t *testing.T) {
	defer func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	}()

	var buf bytes.Buffer
	require.NoError(t, SetupLogging("debug", "json", &buf))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	logrus.WithField("component", "test").Debug("hello")
	assert.Contains(t, buf.String(), `"component":"test"`)

	assert.ErrorIs(t, SetupLogging("nope", "text", nil), ErrInvalidConfig)
}
