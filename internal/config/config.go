// Package config loads server configuration with viper. Priority
// order: environment variables > config file > defaults. The defaults
// encode the protocol constants; deployments normally only set
// BIND_ADDR.
package config

import (
	"fmt"
	"time"
)

// ServerConfig is the root configuration object.
type ServerConfig struct {
	Server ServerSettings `yaml:"server"`
}

// ServerSettings contains all server-wide settings.
type ServerSettings struct {
	// BindAddr is the listen address of the HTTP/WebSocket listener.
	BindAddr string `yaml:"bindAddr"`
	// WebsocketPath is the upgrade endpoint. The legacy
	// /api/matchmaking endpoint is always registered as well.
	WebsocketPath string `yaml:"websocketPath"`

	// Room shape.
	MaxPlayersPerRoom int           `yaml:"maxPlayersPerRoom"`
	MinPlayersPerRoom int           `yaml:"minPlayersPerRoom"`
	RoomCountdown     time.Duration `yaml:"roomCountdown"`

	// Session liveness.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	ClientTimeout     time.Duration `yaml:"clientTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`

	// RelayQueueMaxSize caps the pre-playing relay buffer; a session
	// exceeding it is considered non-responsive and closed.
	RelayQueueMaxSize int `yaml:"relayQueueMaxSize"`
	// EventQueueSize is the per-session mailbox depth for coordinator
	// pushes; a session that cannot drain it is closed.
	EventQueueSize int `yaml:"eventQueueSize"`

	// MaxMessageSize caps inbound websocket frames.
	MaxMessageSize int64 `yaml:"maxMessageSize"`

	// HTTP surface.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimit       float64       `yaml:"rateLimit"`
	RateLimitBurst  int           `yaml:"rateLimitBurst"`
	MaxRequestSize  int64         `yaml:"maxRequestSize"`

	// Logging.
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerSettings{
			BindAddr:      "0.0.0.0:8081",
			WebsocketPath: "/ws",

			MaxPlayersPerRoom: 8,
			MinPlayersPerRoom: 3,
			RoomCountdown:     30 * time.Second,

			HeartbeatInterval: 5 * time.Second,
			ClientTimeout:     10 * time.Second,
			WriteTimeout:      10 * time.Second,

			RelayQueueMaxSize: 64,
			EventQueueSize:    256,
			MaxMessageSize:    64 * 1024,

			ShutdownTimeout: 30 * time.Second,
			RateLimit:       10,
			RateLimitBurst:  20,
			MaxRequestSize:  1 << 20,

			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *ServerConfig) Validate() error {
	s := &c.Server
	if s.BindAddr == "" {
		return fmt.Errorf("bindAddr must be set")
	}
	if s.WebsocketPath == "" || s.WebsocketPath[0] != '/' {
		return fmt.Errorf("websocketPath must be an absolute path")
	}
	if s.MinPlayersPerRoom < 2 {
		return fmt.Errorf("minPlayersPerRoom must be at least 2")
	}
	if s.MinPlayersPerRoom > s.MaxPlayersPerRoom {
		return fmt.Errorf("minPlayersPerRoom cannot be greater than maxPlayersPerRoom")
	}
	if s.RoomCountdown <= 0 {
		return fmt.Errorf("roomCountdown must be positive")
	}
	if s.HeartbeatInterval <= 0 || s.ClientTimeout <= 0 {
		return fmt.Errorf("heartbeat settings must be positive")
	}
	if s.ClientTimeout < s.HeartbeatInterval {
		return fmt.Errorf("clientTimeout cannot be shorter than heartbeatInterval")
	}
	if s.RelayQueueMaxSize < 1 {
		return fmt.Errorf("relayQueueMaxSize must be at least 1")
	}
	if s.EventQueueSize < 1 {
		return fmt.Errorf("eventQueueSize must be at least 1")
	}
	if s.MaxMessageSize < 1 {
		return fmt.Errorf("maxMessageSize must be positive")
	}
	return nil
}
