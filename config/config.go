package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opd-ai/aoip/av"
	"github.com/opd-ai/aoip/clock"
	"github.com/opd-ai/aoip/discovery"
	"github.com/opd-ai/aoip/interfaces"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultStatsInterval   = 10 * time.Second
	defaultDiscoveryTTL    = 30 * time.Second
	defaultTAIOffset       = -1
	defaultRealtimePrio    = 0
	defaultClockDomain     = 0
	defaultMulticastLoop   = false
	defaultOffloadDriver   = interfaces.DriverUDP
	defaultDiscoverySource = discovery.BackendDirectory
)

// Config is the complete node configuration.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Clock       ClockConfig       `mapstructure:"clock"`
	ClockDomain ClockDomainConfig `mapstructure:"clock_domain"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Offload     OffloadConfig     `mapstructure:"offload"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Streams     []StreamConfig    `mapstructure:"streams"`
}

// LoggingConfig selects the logrus level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// ClockConfig configures the time base.
type ClockConfig struct {
	// TAIOffset pins the TAI-UTC offset in seconds. Negative reads it from the kernel.
	TAIOffset        int `mapstructure:"tai_offset"`
	RealtimePriority int `mapstructure:"realtime_priority"`
}

// ClockDomainConfig identifies the PTP domain announced in SDP.
type ClockDomainConfig struct {
	GrandmasterID string `mapstructure:"grandmaster_id"`
	Domain        int    `mapstructure:"domain"`
}

// EngineConfig holds engine tuning shared by every stream.
type EngineConfig struct {
	TeardownRetries    int           `mapstructure:"teardown_retries"`
	ReceiveBlockFrames int           `mapstructure:"receive_block_frames"`
	MinPacketsPerWait  int           `mapstructure:"min_packets_per_wait"`
	MaxPacketsPerWait  int           `mapstructure:"max_packets_per_wait"`
	MaxPacketSize      int           `mapstructure:"max_packet_size"`
	StatsInterval      time.Duration `mapstructure:"stats_interval"`
}

// OffloadConfig selects and tunes the offload driver.
type OffloadConfig struct {
	Driver            string `mapstructure:"driver"` // loopback, udp
	Interface         string `mapstructure:"interface"`
	TTL               int    `mapstructure:"ttl"`
	DSCP              int    `mapstructure:"dscp"`
	QueueDepth        int    `mapstructure:"queue_depth"`
	MulticastLoopback bool   `mapstructure:"multicast_loopback"`
}

// DiscoveryConfig selects the discovery backends.
type DiscoveryConfig struct {
	Backends []string      `mapstructure:"backends"` // directory, log
	TTL      time.Duration `mapstructure:"ttl"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with AOIP_ and use underscores for nesting.
// Example: AOIP_OFFLOAD_DRIVER=loopback.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("aoip")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/aoip")
		v.AddConfigPath("$HOME/.aoip")
	}

	v.SetEnvPrefix("AOIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing file is fine: defaults and environment still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "config.Load",
		"file":     v.ConfigFileUsed(),
		"streams":  len(cfg.Streams),
		"driver":   cfg.Offload.Driver,
	}).Info("Configuration loaded")

	return &cfg, nil
}

// SetDefaults registers every default with v. Keys without a default are
// invisible to environment overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.format", defaultLogFormat)

	v.SetDefault("clock.tai_offset", defaultTAIOffset)
	v.SetDefault("clock.realtime_priority", defaultRealtimePrio)

	v.SetDefault("clock_domain.grandmaster_id", "")
	v.SetDefault("clock_domain.domain", defaultClockDomain)

	v.SetDefault("engine.teardown_retries", av.DefaultTeardownRetries)
	v.SetDefault("engine.receive_block_frames", av.DefaultBlockFrames)
	v.SetDefault("engine.min_packets_per_wait", av.DefaultMinPacketsPerWait)
	v.SetDefault("engine.max_packets_per_wait", av.DefaultMaxPacketsPerWait)
	v.SetDefault("engine.max_packet_size", av.DefaultMaxPacketSize)
	v.SetDefault("engine.stats_interval", defaultStatsInterval)

	v.SetDefault("offload.driver", defaultOffloadDriver)
	v.SetDefault("offload.interface", "")
	v.SetDefault("offload.ttl", interfaces.DefaultTTL)
	v.SetDefault("offload.dscp", interfaces.DefaultDSCP)
	v.SetDefault("offload.queue_depth", interfaces.DefaultQueueDepth)
	v.SetDefault("offload.multicast_loopback", defaultMulticastLoop)

	v.SetDefault("discovery.backends", []string{defaultDiscoverySource})
	v.SetDefault("discovery.ttl", defaultDiscoveryTTL)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: logging.level %q", ErrInvalidConfig, c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: logging.format %q must be text or json", ErrInvalidConfig, c.Logging.Format))
	}

	if c.Clock.RealtimePriority < 0 || c.Clock.RealtimePriority > 99 {
		errs = append(errs, fmt.Errorf("%w: clock.realtime_priority %d outside [0,99]", ErrInvalidConfig, c.Clock.RealtimePriority))
	}
	if c.ClockDomain.Domain < 0 || c.ClockDomain.Domain > 127 {
		errs = append(errs, fmt.Errorf("%w: clock_domain.domain %d outside [0,127]", ErrInvalidConfig, c.ClockDomain.Domain))
	}

	e := c.Engine
	if e.TeardownRetries < 0 {
		errs = append(errs, fmt.Errorf("%w: engine.teardown_retries %d", ErrInvalidConfig, e.TeardownRetries))
	}
	if e.ReceiveBlockFrames < 1 {
		errs = append(errs, fmt.Errorf("%w: engine.receive_block_frames %d", ErrInvalidConfig, e.ReceiveBlockFrames))
	}
	if e.MinPacketsPerWait < 1 || e.MaxPacketsPerWait < e.MinPacketsPerWait {
		errs = append(errs, fmt.Errorf("%w: engine packets per wait [%d,%d]",
			ErrInvalidConfig, e.MinPacketsPerWait, e.MaxPacketsPerWait))
	}
	if e.MaxPacketSize < 1 {
		errs = append(errs, fmt.Errorf("%w: engine.max_packet_size %d", ErrInvalidConfig, e.MaxPacketSize))
	}
	if e.StatsInterval < 0 {
		errs = append(errs, fmt.Errorf("%w: engine.stats_interval %s", ErrInvalidConfig, e.StatsInterval))
	}

	if err := c.Offload.ToOffload().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: offload: %w", ErrInvalidConfig, err))
	}

	if len(c.Discovery.Backends) == 0 {
		errs = append(errs, fmt.Errorf("%w: discovery.backends is empty", ErrInvalidConfig))
	}
	for _, name := range c.Discovery.Backends {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case discovery.BackendDirectory, discovery.BackendLog:
		default:
			errs = append(errs, fmt.Errorf("%w: unknown discovery backend %q", ErrInvalidConfig, name))
		}
	}
	if c.Discovery.TTL < 0 {
		errs = append(errs, fmt.Errorf("%w: discovery.ttl %s", ErrInvalidConfig, c.Discovery.TTL))
	}

	seen := make(map[string]bool, len(c.Streams))
	for i := range c.Streams {
		s := &c.Streams[i]
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateStream, s.Name))
			continue
		}
		seen[s.Name] = true
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("streams[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// ToOffload converts the offload section for the provider factory.
func (o OffloadConfig) ToOffload() *interfaces.OffloadConfig {
	return &interfaces.OffloadConfig{
		Driver:            strings.ToLower(strings.TrimSpace(o.Driver)),
		Interface:         o.Interface,
		TTL:               o.TTL,
		DSCP:              o.DSCP,
		MulticastLoopback: o.MulticastLoopback,
		QueueDepth:        o.QueueDepth,
	}
}

// Options returns the clock options the section selects.
func (c ClockConfig) Options() []clock.Option {
	if c.TAIOffset < 0 {
		return nil
	}
	return []clock.Option{clock.WithTAIOffset(c.TAIOffset)}
}

// ApplyLogging configures the global logrus logger. Caller reporting is
// enabled at debug level and below.
func ApplyLogging(c LoggingConfig) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("%w: logging.level %q", ErrInvalidConfig, c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Format)
	}
	logrus.SetLevel(level)
	logrus.SetReportCaller(level >= logrus.DebugLevel)
	return nil
}
