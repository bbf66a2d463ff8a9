package factory

import (
	"testing"

	"github.com/opd-ai/aoip/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvDriver, EnvInterface, EnvTTL, EnvDSCP, EnvQueueDepth, EnvMulticastLoopback} {
		t.Setenv(k, "")
	}
}

func TestNewProviderFactoryDefaults(t *testing.T) {
	clearEnv(t)
	f := NewProviderFactory()
	require.NotNil(t, f)

	c := f.GetCurrentConfig()
	assert.Equal(t, interfaces.DriverUDP, c.Driver)
	assert.Equal(t, interfaces.DefaultTTL, c.TTL)
	assert.Equal(t, interfaces.DefaultDSCP, c.DSCP)
	assert.Equal(t, interfaces.DefaultQueueDepth, c.QueueDepth)
	assert.False(t, c.MulticastLoopback)
	assert.False(t, f.IsUsingSimulation())
}

func TestEnvironmentVariableParsing(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(*interfaces.OffloadConfig) bool
	}{
		{"driver_loopback", EnvDriver, "loopback", func(c *interfaces.OffloadConfig) bool { return c.Driver == interfaces.DriverLoopback }},
		{"driver_case_insensitive", EnvDriver, " LoopBack ", func(c *interfaces.OffloadConfig) bool { return c.Driver == interfaces.DriverLoopback }},
		{"driver_unknown", EnvDriver, "dpdk", func(c *interfaces.OffloadConfig) bool { return c.Driver == interfaces.DriverUDP }},
		{"interface", EnvInterface, "eth1", func(c *interfaces.OffloadConfig) bool { return c.Interface == "eth1" }},
		{"ttl_valid", EnvTTL, "4", func(c *interfaces.OffloadConfig) bool { return c.TTL == 4 }},
		{"ttl_out_of_range", EnvTTL, "300", func(c *interfaces.OffloadConfig) bool { return c.TTL == interfaces.DefaultTTL }},
		{"ttl_not_a_number", EnvTTL, "abc", func(c *interfaces.OffloadConfig) bool { return c.TTL == interfaces.DefaultTTL }},
		{"dscp_valid", EnvDSCP, "34", func(c *interfaces.OffloadConfig) bool { return c.DSCP == 34 }},
		{"dscp_negative", EnvDSCP, "-1", func(c *interfaces.OffloadConfig) bool { return c.DSCP == interfaces.DefaultDSCP }},
		{"queue_depth_valid", EnvQueueDepth, "32", func(c *interfaces.OffloadConfig) bool { return c.QueueDepth == 32 }},
		{"queue_depth_zero", EnvQueueDepth, "0", func(c *interfaces.OffloadConfig) bool { return c.QueueDepth == interfaces.DefaultQueueDepth }},
		{"loopback_true", EnvMulticastLoopback, "true", func(c *interfaces.OffloadConfig) bool { return c.MulticastLoopback }},
		{"loopback_invalid", EnvMulticastLoopback, "maybe", func(c *interfaces.OffloadConfig) bool { return !c.MulticastLoopback }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			c := NewProviderFactory().GetCurrentConfig()
			assert.True(t, tt.check(c), "%s=%q gave %+v", tt.key, tt.value, c)
		})
	}
}

func TestCreateProviderLoopback(t *testing.T) {
	clearEnv(t)
	f := NewProviderFactory()
	f.SwitchToSimulation()
	assert.True(t, f.IsUsingSimulation())

	p, err := f.CreateProvider()
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, interfaces.DriverLoopback, p.Name())
	assert.True(t, p.IsSimulation())
}

func TestCreateProviderUDP(t *testing.T) {
	clearEnv(t)
	f := NewProviderFactory()

	p, err := f.CreateProvider()
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, interfaces.DriverUDP, p.Name())
	assert.False(t, p.IsSimulation())
}

func TestCreateProviderWithConfigErrors(t *testing.T) {
	clearEnv(t)
	f := NewProviderFactory()

	_, err := f.CreateProviderWithConfig(&interfaces.OffloadConfig{Driver: "rdma", QueueDepth: 1})
	assert.ErrorIs(t, err, interfaces.ErrUnknownDriver)

	_, err = f.CreateProviderWithConfig(&interfaces.OffloadConfig{Driver: interfaces.DriverLoopback})
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)

	_, err = f.CreateProviderWithConfig(&interfaces.OffloadConfig{
		Driver:     interfaces.DriverUDP,
		Interface:  "no-such-interface-0",
		QueueDepth: 1,
	})
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
}

func TestCreateProviderWithConfigDoesNotAliasCaller(t *testing.T) {
	clearEnv(t)
	f := NewProviderFactory()
	c := &interfaces.OffloadConfig{Driver: interfaces.DriverLoopback, QueueDepth: 2}

	p, err := f.CreateProviderWithConfig(c)
	require.NoError(t, err)
	defer p.Close()
	c.QueueDepth = 0
	assert.Equal(t, interfaces.DriverUDP, f.GetCurrentConfig().Driver)
}

func TestCreateSimulationForTesting(t *testing.T) {
	f := NewProviderFactory()
	fabric := f.CreateSimulationForTesting(WithQueueDepth(3), WithDSCP(10))
	require.NotNil(t, fabric)
	defer fabric.Close()
	assert.True(t, fabric.IsSimulation())
	// Creating a fabric for tests leaves the default driver alone.
	assert.Equal(t, NewProviderFactory().GetCurrentConfig().Driver, f.GetCurrentConfig().Driver)
}

func TestSwitchDrivers(t *testing.T) {
	clearEnv(t)
	f := NewProviderFactory()
	f.SwitchToSimulation()
	assert.Equal(t, interfaces.DriverLoopback, f.GetCurrentConfig().Driver)
	f.SwitchToReal()
	assert.Equal(t, interfaces.DriverUDP, f.GetCurrentConfig().Driver)
}

func TestGetCurrentConfigReturnsCopy(t *testing.T) {
	clearEnv(t)
	f := NewProviderFactory()
	c := f.GetCurrentConfig()
	c.TTL = 1
	assert.Equal(t, interfaces.DefaultTTL, f.GetCurrentConfig().TTL)
}

func TestUpdateConfig(t *testing.T) {
	clearEnv(t)
	f := NewProviderFactory()

	assert.ErrorIs(t, f.UpdateConfig(nil), interfaces.ErrInvalidConfig)
	assert.ErrorIs(t, f.UpdateConfig(&interfaces.OffloadConfig{Driver: interfaces.DriverUDP, DSCP: 99, QueueDepth: 1}), interfaces.ErrInvalidConfig)

	c := &interfaces.OffloadConfig{Driver: interfaces.DriverLoopback, TTL: 8, DSCP: 0, QueueDepth: 4}
	require.NoError(t, f.UpdateConfig(c))
	c.TTL = 200
	got := f.GetCurrentConfig()
	assert.Equal(t, 8, got.TTL)
	assert.Equal(t, 4, got.QueueDepth)
	assert.True(t, f.IsUsingSimulation())
}
