// Package config loads server configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultLabel  = "geckos.io"
	DefaultRoot   = "/.wrtc/v2"
	DefaultListen = ":9208"
)

type Config struct {
	Listen   string   `mapstructure:"listen"`
	Root     string   `mapstructure:"root"`
	WebRTC   WebRTC   `mapstructure:"webrtc"`
	Timeouts Timeouts `mapstructure:"timeouts"`
	CORS     CORS     `mapstructure:"cors"`
	Auth     Auth     `mapstructure:"auth"`
	Log      Log      `mapstructure:"log"`
	Audit    Audit    `mapstructure:"audit"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Events   Events   `mapstructure:"events"`
}

// WebRTC holds data channel and peer connection options.
type WebRTC struct {
	// Ordered selects in-order delivery. Defaults to false.
	Ordered bool   `mapstructure:"ordered"`
	Label   string `mapstructure:"label"`

	ICEServers         []ICEServer `mapstructure:"ice_servers"`
	ICETransportPolicy string      `mapstructure:"ice_transport_policy"`
	PortRange          PortRange   `mapstructure:"port_range"`

	// MaxPacketLifeTime wins over MaxRetransmits when both are set.
	MaxPacketLifeTime *uint16 `mapstructure:"max_packet_life_time"`
	MaxRetransmits    *uint16 `mapstructure:"max_retransmits"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type PortRange struct {
	Min uint16 `mapstructure:"min"`
	Max uint16 `mapstructure:"max"`
}

type Timeouts struct {
	Channel time.Duration `mapstructure:"channel"`
	// Description of zero falls back to the default. A negative value
	// answers without waiting for the local description.
	Description time.Duration `mapstructure:"description"`
	// Connect of zero disables the connect deadline.
	Connect time.Duration `mapstructure:"connect"`
}

type CORS struct {
	Origin             string `mapstructure:"origin"`
	AllowAuthorization bool   `mapstructure:"allow_authorization"`
}

type Auth struct {
	Tokens []string `mapstructure:"tokens"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Audit struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type Events struct {
	Enabled bool `mapstructure:"enabled"`
}

func Default() *Config {
	retransmits := uint16(0)
	return &Config{
		Listen: DefaultListen,
		Root:   DefaultRoot,
		WebRTC: WebRTC{
			Ordered:            false,
			Label:              DefaultLabel,
			ICEServers:         []ICEServer{},
			ICETransportPolicy: "all",
			MaxRetransmits:     &retransmits,
		},
		Timeouts: Timeouts{
			Channel:     2000 * time.Millisecond,
			Description: 1000 * time.Millisecond,
			Connect:     30 * time.Second,
		},
		CORS: CORS{Origin: "*"},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		Audit: Audit{
			Enabled: false,
			Path:    "geckos.sqlite3",
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from path (if non-empty) on top of Default.
// Environment variables use the prefix GECKOS with '.' replaced by '_',
// for example GECKOS_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GECKOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("root", cfg.Root)
	v.SetDefault("webrtc.ordered", cfg.WebRTC.Ordered)
	v.SetDefault("webrtc.label", cfg.WebRTC.Label)
	v.SetDefault("webrtc.ice_transport_policy", cfg.WebRTC.ICETransportPolicy)
	v.SetDefault("webrtc.port_range.min", cfg.WebRTC.PortRange.Min)
	v.SetDefault("webrtc.port_range.max", cfg.WebRTC.PortRange.Max)
	v.SetDefault("timeouts.channel", cfg.Timeouts.Channel)
	v.SetDefault("timeouts.description", cfg.Timeouts.Description)
	v.SetDefault("timeouts.connect", cfg.Timeouts.Connect)
	v.SetDefault("cors.origin", cfg.CORS.Origin)
	v.SetDefault("cors.allow_authorization", cfg.CORS.AllowAuthorization)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("audit.enabled", cfg.Audit.Enabled)
	v.SetDefault("audit.path", cfg.Audit.Path)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
	v.SetDefault("events.enabled", cfg.Events.Enabled)

	if path == "" {
		path = os.Getenv("GECKOS_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes cfg in place and rejects invalid values.
func (c *Config) Validate() error {
	c.WebRTC.ICETransportPolicy = strings.ToLower(strings.TrimSpace(c.WebRTC.ICETransportPolicy))
	switch c.WebRTC.ICETransportPolicy {
	case "":
		c.WebRTC.ICETransportPolicy = "all"
	case "all", "relay":
	default:
		return fmt.Errorf("invalid webrtc.ice_transport_policy: %q", c.WebRTC.ICETransportPolicy)
	}

	if c.WebRTC.Label == "" {
		c.WebRTC.Label = DefaultLabel
	}

	pr := c.WebRTC.PortRange
	if pr.Min > 0 && pr.Max > 0 && pr.Min > pr.Max {
		return fmt.Errorf("invalid webrtc.port_range: min %d > max %d", pr.Min, pr.Max)
	}

	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d]: no urls", i)
		}
	}

	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "trace", "debug", "info", "warn", "warning", "error":
		c.Log.Level = lvl
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Root == "" {
		c.Root = DefaultRoot
	}
	c.Root = "/" + strings.Trim(c.Root, "/")

	if c.Timeouts.Channel <= 0 {
		return fmt.Errorf("invalid timeouts.channel: %s", c.Timeouts.Channel)
	}
	if c.Timeouts.Description == 0 {
		c.Timeouts.Description = Default().Timeouts.Description
	}
	if c.Timeouts.Connect < 0 {
		return errors.New("timeouts.connect must not be negative")
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return errors.New("audit.path is required when audit is enabled")
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	return nil
}
