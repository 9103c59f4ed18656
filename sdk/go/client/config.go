package client

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/observability/metrics"
	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/internal/core/protocol/transport"
	"github.com/zeusync/worldlink/pkg/codec"
)

// DefaultTimeout applies to calls made without WithTimeout.
const DefaultTimeout = 1000 * time.Millisecond

// Config holds configuration for a World.
type Config struct {
	// Connection settings
	Endpoint    transport.Endpoint
	DialTimeout time.Duration
	KeepAlive   time.Duration
	TLSConfig   *tls.Config

	// Message settings
	Codec          string
	DefaultTimeout time.Duration
	MaxFrameSize   int

	// AutoName gives every spawned entity a unique Name: entity_N when none is given, and
	// name_1, name_2, ... when the given name is already used by this World.
	AutoName bool

	// Logging and metrics. A nil Logger logs nothing; a nil Metrics records nothing.
	Logger  log.Log
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default configuration: JSON over UDP to localhost:7400.
func DefaultConfig() Config {
	return Config{
		Endpoint:       transport.Endpoint{Mode: transport.ModeUDP, Address: "127.0.0.1:7400"},
		DialTimeout:    transport.DefaultDialTimeout,
		Codec:          "json",
		DefaultTimeout: DefaultTimeout,
		MaxFrameSize:   protocol.DefaultMaxFrameSize,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Endpoint.Address == "" {
		return fmt.Errorf("%w: endpoint address is empty", ErrInvalidConfig)
	}
	if _, err := transport.ParseMode(string(c.Endpoint.Mode)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("%w: default timeout %s", ErrInvalidConfig, c.DefaultTimeout)
	}
	if c.MaxFrameSize < 0 {
		return fmt.Errorf("%w: max frame size %d", ErrInvalidConfig, c.MaxFrameSize)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Endpoint.Mode == "" {
		c.Endpoint.Mode = transport.ModeUDP
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	return c
}

func (c Config) transportOptions() transport.Options {
	return transport.Options{
		MaxFrameSize: c.MaxFrameSize,
		DialTimeout:  c.DialTimeout,
		KeepAlive:    c.KeepAlive,
		TLSConfig:    c.TLSConfig,
		Logger:       c.Logger,
	}
}
