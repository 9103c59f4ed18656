// Package config loads the worldctl configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/worldlink/internal/authority"
	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/observability/metrics"
	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/internal/core/protocol/transport"
	"github.com/zeusync/worldlink/pkg/codec"
	"github.com/zeusync/worldlink/sdk/go/client"
)

var ErrInvalid = errors.New("config: invalid configuration")

// Config is the whole configuration file.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Authority AuthorityConfig `yaml:"authority"`
	Log       log.Config      `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ClientConfig configures the World used by the client commands.
type ClientConfig struct {
	Endpoint       string        `yaml:"endpoint"` // mode://host:port[/path]
	Codec          string        `yaml:"codec"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	MaxFrameSize   int           `yaml:"max_frame_size"`
	AutoName       bool          `yaml:"auto_name"`
}

// AuthorityConfig configures the reference authority run by worldctl serve.
type AuthorityConfig struct {
	Listen       []string      `yaml:"listen"`
	Codec        string        `yaml:"codec"`
	Shards       int           `yaml:"shards"`
	MaxFrameSize int           `yaml:"max_frame_size"`
	RateLimit    int           `yaml:"rate_limit"`
	RateWindow   time.Duration `yaml:"rate_window"`

	// UDPIdleTimeout closes UDP peers that stay silent this long.
	UDPIdleTimeout time.Duration `yaml:"udp_idle_timeout"`
}

type MetricsConfig struct {
	// Address serves /metrics when not empty.
	Address           string `yaml:"address"`
	ProcessCollectors bool   `yaml:"process_collectors"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	auth := authority.DefaultConfig()
	listen := make([]string, 0, len(auth.Endpoints))
	for _, ep := range auth.Endpoints {
		listen = append(listen, ep.String())
	}
	return Config{
		Client: ClientConfig{
			Endpoint:       "udp://127.0.0.1:7400",
			Codec:          codec.JSON.Name(),
			DefaultTimeout: client.DefaultTimeout,
			DialTimeout:    transport.DefaultDialTimeout,
			MaxFrameSize:   protocol.DefaultMaxFrameSize,
		},
		Authority: AuthorityConfig{
			Listen:       listen,
			Codec:        codec.JSON.Name(),
			Shards:       auth.ShardCount,
			MaxFrameSize: protocol.DefaultMaxFrameSize,
			RateWindow:   auth.RateWindow,

			UDPIdleTimeout: transport.DefaultPeerIdleTimeout,
		},
		Log: log.DefaultConfig(),
	}
}

// Load reads a YAML file on top of Default. An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}

// LoadYAML decodes YAML from r on top of Default and validates the result.
func LoadYAML(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := transport.ParseEndpoint(c.Client.Endpoint); err != nil {
		return fmt.Errorf("%w: client.endpoint: %v", ErrInvalid, err)
	}
	if _, err := codec.ByName(c.Client.Codec); err != nil {
		return fmt.Errorf("%w: client.codec: %v", ErrInvalid, err)
	}
	if c.Client.DefaultTimeout < time.Millisecond {
		return fmt.Errorf("%w: client.default_timeout must be at least 1ms, got %s", ErrInvalid, c.Client.DefaultTimeout)
	}
	if c.Client.DialTimeout < 0 || c.Client.MaxFrameSize < 0 {
		return fmt.Errorf("%w: client limits must not be negative", ErrInvalid)
	}

	if len(c.Authority.Listen) == 0 {
		return fmt.Errorf("%w: authority.listen is empty", ErrInvalid)
	}
	seen := make(map[transport.Mode]bool, len(c.Authority.Listen))
	for _, s := range c.Authority.Listen {
		ep, err := transport.ParseEndpoint(s)
		if err != nil {
			return fmt.Errorf("%w: authority.listen: %v", ErrInvalid, err)
		}
		if seen[ep.Mode] {
			return fmt.Errorf("%w: authority.listen has two %s endpoints", ErrInvalid, ep.Mode)
		}
		seen[ep.Mode] = true
	}
	if _, err := codec.ByName(c.Authority.Codec); err != nil {
		return fmt.Errorf("%w: authority.codec: %v", ErrInvalid, err)
	}
	if c.Authority.Shards < 0 || c.Authority.MaxFrameSize < 0 || c.Authority.RateLimit < 0 || c.Authority.UDPIdleTimeout < 0 {
		return fmt.Errorf("%w: authority limits must not be negative", ErrInvalid)
	}
	if c.Authority.RateLimit > 0 && c.Authority.RateWindow <= 0 {
		return fmt.Errorf("%w: authority.rate_window must be positive when rate_limit is set", ErrInvalid)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	return nil
}

// SDK converts the client section into a World configuration.
func (c ClientConfig) SDK(logger log.Log, m *metrics.Metrics) (client.Config, error) {
	ep, err := transport.ParseEndpoint(c.Endpoint)
	if err != nil {
		return client.Config{}, fmt.Errorf("%w: client.endpoint: %v", ErrInvalid, err)
	}
	cfg := client.DefaultConfig()
	cfg.Endpoint = ep
	cfg.Codec = c.Codec
	cfg.DefaultTimeout = c.DefaultTimeout
	cfg.DialTimeout = c.DialTimeout
	cfg.MaxFrameSize = c.MaxFrameSize
	cfg.AutoName = c.AutoName
	cfg.Logger = logger
	cfg.Metrics = m
	return cfg, nil
}

// Server converts the authority section into a server configuration.
func (c AuthorityConfig) Server() (authority.Config, error) {
	cd, err := codec.ByName(c.Codec)
	if err != nil {
		return authority.Config{}, fmt.Errorf("%w: authority.codec: %v", ErrInvalid, err)
	}
	cfg := authority.DefaultConfig()
	cfg.Endpoints = cfg.Endpoints[:0:0]
	for _, s := range c.Listen {
		ep, err := transport.ParseEndpoint(s)
		if err != nil {
			return authority.Config{}, fmt.Errorf("%w: authority.listen: %v", ErrInvalid, err)
		}
		cfg.Endpoints = append(cfg.Endpoints, ep)
	}
	cfg.Codec = cd
	if c.Shards > 0 {
		cfg.ShardCount = c.Shards
	}
	if c.MaxFrameSize > 0 {
		cfg.Transport.MaxFrameSize = c.MaxFrameSize
	}
	if c.UDPIdleTimeout > 0 {
		cfg.Transport.PeerIdleTimeout = c.UDPIdleTimeout
	}
	cfg.RateLimit = c.RateLimit
	if c.RateWindow > 0 {
		cfg.RateWindow = c.RateWindow
	}
	return cfg, nil
}
