// Package injector assembles the process-level dependencies of worldctl.
package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/worldlink/internal/authority"
	"github.com/zeusync/worldlink/internal/config"
	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/observability/metrics"
	"github.com/zeusync/worldlink/sdk/go/client"
)

// Options select the configuration file and override parts of it, as command-line flags do.
type Options struct {
	ConfigPath string
	Endpoint   string
	Codec      string
	LogLevel   string
	Listen     []string
	// MetricsAddr enables /metrics on the given address.
	MetricsAddr string
}

// Authority is a reference authority ready to Listen and Serve.
type Authority struct {
	Server  *authority.Server
	Metrics *metrics.Metrics
	Config  config.Config
	Logger  log.Log
}

var BaseSet = wire.NewSet(
	ProvideConfig,
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideMetrics,
)

func ProvideConfig(opts Options) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Endpoint != "" {
		cfg.Client.Endpoint = opts.Endpoint
	}
	if opts.Codec != "" {
		cfg.Client.Codec = opts.Codec
		cfg.Authority.Codec = opts.Codec
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if len(opts.Listen) > 0 {
		cfg.Authority.Listen = opts.Listen
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Address = opts.MetricsAddr
	}
	return cfg, cfg.Validate()
}

func ProvideLogger(cfg config.Config) (*log.Logger, func(), error) {
	logger, err := log.NewWithConfig(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideMetrics returns nil, which records nothing, unless a metrics address is configured.
func ProvideMetrics(cfg config.Config) *metrics.Metrics {
	if cfg.Metrics.Address == "" {
		return nil
	}
	m := metrics.New()
	if cfg.Metrics.ProcessCollectors {
		m.WithProcessCollectors()
	}
	return m
}

func ProvideWorld(ctx context.Context, cfg config.Config, logger log.Log, m *metrics.Metrics) (*client.World, func(), error) {
	sdk, err := cfg.Client.SDK(logger, m)
	if err != nil {
		return nil, nil, err
	}
	w, err := client.Dial(ctx, sdk)
	if err != nil {
		return nil, nil, err
	}
	return w, func() { _ = w.Close() }, nil
}

func ProvideServer(cfg config.Config, logger log.Log, m *metrics.Metrics) (*authority.Server, error) {
	srvCfg, err := cfg.Authority.Server()
	if err != nil {
		return nil, err
	}
	srvCfg.Transport.Logger = logger
	return authority.NewServer(srvCfg, logger, m), nil
}
