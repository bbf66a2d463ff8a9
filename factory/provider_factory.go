package factory

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/opd-ai/aoip/interfaces"
	"github.com/opd-ai/aoip/real"
	"github.com/opd-ai/aoip/testing"
	"github.com/sirupsen/logrus"
)

// Validation constants for configuration bounds checking.
const (
	// MinQueueDepth is the minimum allowed receive queue depth multiplier.
	MinQueueDepth = 1
	// MaxQueueDepth is the maximum allowed receive queue depth multiplier.
	MaxQueueDepth = 1024
	// MaxTTL is the largest multicast TTL.
	MaxTTL = 255
	// MaxDSCP is the largest differentiated services code point.
	MaxDSCP = 63
)

// Environment variables read by NewProviderFactory.
const (
	EnvDriver            = "AOIP_OFFLOAD_DRIVER"
	EnvInterface         = "AOIP_OFFLOAD_INTERFACE"
	EnvTTL               = "AOIP_OFFLOAD_TTL"
	EnvDSCP              = "AOIP_OFFLOAD_DSCP"
	EnvQueueDepth        = "AOIP_OFFLOAD_QUEUE_DEPTH"
	EnvMulticastLoopback = "AOIP_OFFLOAD_MULTICAST_LOOPBACK"
)

// ProviderFactory creates offload providers based on configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type ProviderFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.OffloadConfig
}

// TestConfigOption is a functional option for customizing the test loopback configuration.
type TestConfigOption func(*interfaces.OffloadConfig)

// NewProviderFactory creates a new factory with default configuration
func NewProviderFactory() *ProviderFactory {
	defaultConfig := createDefaultConfig()
	applyEnvironmentOverrides(defaultConfig)
	logConfigurationInfo(defaultConfig)

	return &ProviderFactory{
		defaultConfig: defaultConfig,
	}
}

// createDefaultConfig initializes the default offload configuration.
//
// Default Value Rationale:
//   - Driver: udp - Production mode by default; the loopback must be explicitly enabled
//   - TTL: 32 - Matches the AES67 recommendation for routed multicast
//   - DSCP: 46 - Expedited Forwarding, the AES67 media class
//   - QueueDepth: 8 - Holds several waits worth of packets per receive stream
func createDefaultConfig() *interfaces.OffloadConfig {
	return &interfaces.OffloadConfig{
		Driver:     interfaces.DriverUDP,
		TTL:        interfaces.DefaultTTL,
		DSCP:       interfaces.DefaultDSCP,
		QueueDepth: interfaces.DefaultQueueDepth,
	}
}

// applyEnvironmentOverrides updates configuration based on environment variables.
// It checks for AOIP_OFFLOAD_* environment variables and overrides defaults if valid values are found.
func applyEnvironmentOverrides(config *interfaces.OffloadConfig) {
	parseDriverSetting(config)
	parseInterfaceSetting(config)
	parseIntSetting(EnvTTL, 0, MaxTTL, &config.TTL)
	parseIntSetting(EnvDSCP, 0, MaxDSCP, &config.DSCP)
	parseIntSetting(EnvQueueDepth, MinQueueDepth, MaxQueueDepth, &config.QueueDepth)
	parseLoopbackSetting(config)
}

// parseDriverSetting updates Driver from AOIP_OFFLOAD_DRIVER. Unknown names are
// logged and ignored.
func parseDriverSetting(config *interfaces.OffloadConfig) {
	driverStr := strings.ToLower(strings.TrimSpace(os.Getenv(EnvDriver)))
	if driverStr == "" {
		return
	}
	switch driverStr {
	case interfaces.DriverLoopback, interfaces.DriverUDP:
		config.Driver = driverStr
	default:
		logrus.WithFields(logrus.Fields{
			"function":    "parseDriverSetting",
			"env_var":     EnvDriver,
			"value":       driverStr,
			"using_value": config.Driver,
		}).Warn("Unknown AOIP_OFFLOAD_DRIVER value, using default")
	}
}

func parseInterfaceSetting(config *interfaces.OffloadConfig) {
	if ifname := strings.TrimSpace(os.Getenv(EnvInterface)); ifname != "" {
		config.Interface = ifname
	}
}

// parseIntSetting reads an integer environment variable into dst. It validates
// the value is within [min, max] and logs warnings for invalid values. dst is
// only updated if parsing succeeds and the value is within range.
func parseIntSetting(envVar string, lo, hi int, dst *int) {
	valueStr := os.Getenv(envVar)
	if valueStr == "" {
		return
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       valueStr,
			"error":       err.Error(),
			"using_value": *dst,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if value < lo || value > hi {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       value,
			"min":         lo,
			"max":         hi,
			"using_value": *dst,
		}).Warn("Environment variable out of bounds, using default")
		return
	}
	*dst = value
}

func parseLoopbackSetting(config *interfaces.OffloadConfig) {
	if loopStr := os.Getenv(EnvMulticastLoopback); loopStr != "" {
		loop, err := strconv.ParseBool(loopStr)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "parseLoopbackSetting",
				"env_var":     EnvMulticastLoopback,
				"value":       loopStr,
				"error":       err.Error(),
				"using_value": config.MulticastLoopback,
			}).Warn("Failed to parse AOIP_OFFLOAD_MULTICAST_LOOPBACK environment variable, using default")
			return
		}
		config.MulticastLoopback = loop
	}
}

// logConfigurationInfo logs the final configuration settings for debugging purposes.
func logConfigurationInfo(config *interfaces.OffloadConfig) {
	logrus.WithFields(logrus.Fields{
		"function":           "NewProviderFactory",
		"driver":             config.Driver,
		"interface":          config.Interface,
		"ttl":                config.TTL,
		"dscp":               config.DSCP,
		"queue_depth":        config.QueueDepth,
		"multicast_loopback": config.MulticastLoopback,
	}).Info("Created offload provider factory with configuration")
}

// CreateProvider creates an offload provider based on the default configuration.
func (f *ProviderFactory) CreateProvider() (interfaces.IStreamProvider, error) {
	return f.CreateProviderWithConfig(nil)
}

// CreateProviderWithConfig creates an offload provider with custom configuration.
// A nil config selects the factory default.
func (f *ProviderFactory) CreateProviderWithConfig(config *interfaces.OffloadConfig) (interfaces.IStreamProvider, error) {
	if config == nil {
		config = f.GetCurrentConfig()
	} else {
		c := *config
		config = &c
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateProviderWithConfig",
		"driver":   config.Driver,
	}).Info("Creating offload provider")

	switch config.Driver {
	case interfaces.DriverLoopback:
		return testing.NewLoopback(config), nil
	case interfaces.DriverUDP:
		p, err := real.NewUDPProvider(config)
		if err != nil {
			return nil, fmt.Errorf("create provider: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", interfaces.ErrUnknownDriver, config.Driver)
}

// WithQueueDepth sets the receive queue depth for the test configuration.
func WithQueueDepth(depth int) TestConfigOption {
	return func(c *interfaces.OffloadConfig) {
		c.QueueDepth = depth
	}
}

// WithDSCP sets the DSCP recorded in the test configuration.
func WithDSCP(dscp int) TestConfigOption {
	return func(c *interfaces.OffloadConfig) {
		c.DSCP = dscp
	}
}

// CreateSimulationForTesting creates a loopback fabric specifically for testing.
// The default test configuration uses QueueDepth=64 so slow test readers do not drop.
func (f *ProviderFactory) CreateSimulationForTesting(opts ...TestConfigOption) *testing.Loopback {
	testConfig := &interfaces.OffloadConfig{
		Driver:     interfaces.DriverLoopback,
		TTL:        interfaces.DefaultTTL,
		DSCP:       interfaces.DefaultDSCP,
		QueueDepth: 64,
	}

	for _, opt := range opts {
		opt(testConfig)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "CreateSimulationForTesting",
		"queue_depth": testConfig.QueueDepth,
	}).Info("Creating loopback fabric for testing")

	return testing.NewLoopback(testConfig)
}

// SwitchToSimulation switches the default driver to the loopback fabric.
func (f *ProviderFactory) SwitchToSimulation() {
	f.switchDriver("SwitchToSimulation", interfaces.DriverLoopback)
}

// SwitchToReal switches the default driver to UDP sockets.
func (f *ProviderFactory) SwitchToReal() {
	f.switchDriver("SwitchToReal", interfaces.DriverUDP)
}

func (f *ProviderFactory) switchDriver(function, driver string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": function,
		"previous": f.defaultConfig.Driver,
		"current":  driver,
	}).Info("Switching factory driver")

	f.defaultConfig.Driver = driver
}

// GetCurrentConfig returns a copy of the current default configuration
func (f *ProviderFactory) GetCurrentConfig() *interfaces.OffloadConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c := *f.defaultConfig
	return &c
}

// IsUsingSimulation returns true if the factory is configured for the loopback fabric
func (f *ProviderFactory) IsUsingSimulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.defaultConfig.Driver == interfaces.DriverLoopback
}

// UpdateConfig validates and replaces the factory's default configuration.
func (f *ProviderFactory) UpdateConfig(config *interfaces.OffloadConfig) error {
	if config == nil {
		return fmt.Errorf("%w: config cannot be nil", interfaces.ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "UpdateConfig",
		"old_driver": f.defaultConfig.Driver,
		"new_driver": config.Driver,
	}).Info("Updating factory configuration")

	c := *config
	f.defaultConfig = &c
	return nil
}
