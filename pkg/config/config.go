// Package config holds the relay and client settings with their defaults
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// RelayConfig configures the relay server
type RelayConfig struct {
	ListenAddr       string
	APIAddr          string // empty disables the HTTP status API
	KeyFile          string // empty generates an ephemeral identity key
	KeyBits          int
	UserDB           string // empty keeps accounts in memory
	AutoRegister     bool
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	LogLevel         string
	LogFormat        string
}

// DefaultRelayConfig returns default relay configuration
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		ListenAddr:       ":9090",
		APIAddr:          ":8080",
		KeyBits:          2048,
		AutoRegister:     true,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     15 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Validate checks the relay configuration
func (c *RelayConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}
	if c.KeyBits < 1024 {
		return fmt.Errorf("%w: key size %d below 1024 bits", ErrInvalidConfig, c.KeyBits)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: handshake timeout must be positive", ErrInvalidConfig)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write timeout must not be negative", ErrInvalidConfig)
	}
	return validateLogging(c.LogLevel, c.LogFormat)
}

// FileTransferConfig holds the file transfer timing and layout parameters
type FileTransferConfig struct {
	ChunkSize     int
	AckTimeout    time.Duration
	MaxRetries    int
	ResumeTimeout time.Duration
	OfferTTL      time.Duration // group offers expire after this
	DownloadDir   string
	PartSuffix    string
}

// DefaultFileTransferConfig returns default transfer parameters
func DefaultFileTransferConfig() FileTransferConfig {
	return FileTransferConfig{
		ChunkSize:     protocol.FileChunkSize,
		AckTimeout:    10 * time.Second,
		MaxRetries:    3,
		ResumeTimeout: 2 * time.Second,
		OfferTTL:      30 * time.Second,
		DownloadDir:   "downloads",
		PartSuffix:    ".part",
	}
}

// ClientConfig configures a chat client
type ClientConfig struct {
	ServerAddr        string
	DialTimeout       time.Duration
	LoginTimeout      time.Duration
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	FileTransfer      FileTransferConfig
	LogLevel          string
	LogFormat         string
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerAddr:        "localhost:9090",
		DialTimeout:       10 * time.Second,
		LoginTimeout:      25 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		ReconnectDelay:    3 * time.Second,
		FileTransfer:      DefaultFileTransferConfig(),
		LogLevel:          "warn",
		LogFormat:         "text",
	}
}

// Validate checks the client configuration
func (c *ClientConfig) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("%w: server address is required", ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 || c.ReconnectDelay <= 0 || c.LoginTimeout <= 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	}

	ft := c.FileTransfer
	if ft.ChunkSize <= 0 || ft.ChunkSize > protocol.FileChunkSize {
		return fmt.Errorf("%w: chunk size %d out of range", ErrInvalidConfig, ft.ChunkSize)
	}
	if ft.MaxRetries < 1 {
		return fmt.Errorf("%w: at least one send attempt is required", ErrInvalidConfig)
	}
	if ft.DownloadDir == "" || ft.PartSuffix == "" {
		return fmt.Errorf("%w: download directory and part suffix are required", ErrInvalidConfig)
	}
	return validateLogging(c.LogLevel, c.LogFormat)
}

func validateLogging(level, format string) error {
	if _, err := logrus.ParseLevel(level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(format) {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, format)
}

// SetupLogging configures the standard logrus logger. A nil writer keeps
// stderr.
func SetupLogging(level, format string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	logrus.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		})
	}

	if out == nil {
		out = os.Stderr
	}
	logrus.SetOutput(out)
	return nil
}
