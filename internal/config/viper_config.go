package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration using viper. When configPath is
// empty, a server.yaml is searched in ./config, the working directory
// and /etc/matchrelay; the file is optional.
func LoadConfig(configPath string) (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("server")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/matchrelay")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Short env names for the settings deployments actually touch.
	v.BindEnv("server.bindaddr", "BIND_ADDR")
	v.BindEnv("server.websocketpath", "WS_PATH")
	v.BindEnv("server.loglevel", "LOG_LEVEL")
	v.BindEnv("server.logformat", "LOG_FORMAT")
	v.BindEnv("server.ratelimit", "RATE_LIMIT")
	v.BindEnv("server.ratelimitburst", "RATE_LIMIT_BURST")
	v.BindEnv("server.maxrequestsize", "MAX_REQUEST_SIZE")

	def := DefaultConfig().Server
	v.SetDefault("server.bindaddr", def.BindAddr)
	v.SetDefault("server.websocketpath", def.WebsocketPath)
	v.SetDefault("server.maxplayersperroom", def.MaxPlayersPerRoom)
	v.SetDefault("server.minplayersperroom", def.MinPlayersPerRoom)
	v.SetDefault("server.roomcountdown", def.RoomCountdown.String())
	v.SetDefault("server.heartbeatinterval", def.HeartbeatInterval.String())
	v.SetDefault("server.clienttimeout", def.ClientTimeout.String())
	v.SetDefault("server.writetimeout", def.WriteTimeout.String())
	v.SetDefault("server.relayqueuemaxsize", def.RelayQueueMaxSize)
	v.SetDefault("server.eventqueuesize", def.EventQueueSize)
	v.SetDefault("server.maxmessagesize", def.MaxMessageSize)
	v.SetDefault("server.shutdowntimeout", def.ShutdownTimeout.String())
	v.SetDefault("server.ratelimit", def.RateLimit)
	v.SetDefault("server.ratelimitburst", def.RateLimitBurst)
	v.SetDefault("server.maxrequestsize", def.MaxRequestSize)
	v.SetDefault("server.loglevel", def.LogLevel)
	v.SetDefault("server.logformat", def.LogFormat)

	if err := v.ReadInConfig(); err != nil {
		// The config file is optional; only a malformed file is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok &&
			!strings.Contains(err.Error(), "no such file or directory") {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &ServerConfig{}
	// Viper's default decode hooks parse "30s"-style duration strings.
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
