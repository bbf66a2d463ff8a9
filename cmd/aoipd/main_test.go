package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkConfig = `
logging:
  level: warn
clock:
  tai_offset: 37
offload:
  driver: loopback
discovery:
  backends: [log]
streams:
  - name: stereo
    direction: transmit
    kind: aes67
    payload_type: 97
    source: 192.168.10.20
    destination: 239.69.10.1
    port: 5004
    sample_rate: 48000
    channels: 2
    bytes_per_sample: 3
    samples_per_packet: 48
  - name: return
    direction: receive
    kind: aes67
    payload_type: 97
    source: 192.168.10.30
    destination: 239.69.10.2
    port: 5004
    sample_rate: 48000
    channels: 2
    bytes_per_sample: 2
    samples_per_packet: 48
`

func TestParseCLIFlags(t *testing.T) {
	cli, err := parseCLIFlags([]string{"-config", "node.yaml", "-log-level", "debug", "-check"})
	require.NoError(t, err)
	assert.Equal(t, "node.yaml", cli.configPath)
	assert.Equal(t, "debug", cli.logLevel)
	assert.True(t, cli.check)
	assert.False(t, cli.help)

	_, err = parseCLIFlags([]string{"-unknown"})
	assert.Error(t, err)

	_, err = parseCLIFlags([]string{"extra"})
	assert.Error(t, err)
}

func TestValidateCLIConfig(t *testing.T) {
	tests := []struct {
		name        string
		config      *CLIConfig
		wantErr     bool
		errContains string
	}{
		{name: "defaults", config: &CLIConfig{}},
		{name: "level and format", config: &CLIConfig{logLevel: "WARN", logFormat: "json"}},
		{name: "bad level", config: &CLIConfig{logLevel: "loud"}, wantErr: true, errContains: "log level"},
		{name: "bad format", config: &CLIConfig{logFormat: "xml"}, wantErr: true, errContains: "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCLIConfig(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRunCheckPrintsSDP(t *testing.T) {
	level := logrus.GetLevel()
	defer logrus.SetLevel(level)

	path := filepath.Join(t.TempDir(), "aoip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(checkConfig), 0o600))

	var out bytes.Buffer
	err := run(context.Background(), &CLIConfig{configPath: path, check: true}, &out)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "# stereo\n")
	assert.Contains(t, text, "a=rtpmap:97 L24/48000/2")
	assert.NotContains(t, text, "# return")
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
}

func TestRunRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoip.yaml")
	require.NoError(t, os.WriteFile(path, []byte("offload:\n  driver: dpdk\n"), 0o600))

	err := run(context.Background(), &CLIConfig{configPath: path, check: true}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration")
}

func TestPrintUsage(t *testing.T) {
	var out bytes.Buffer
	printUsage(&out)
	assert.Contains(t, out.String(), "-check")
	assert.Contains(t, out.String(), "AOIP_OFFLOAD_DRIVER")
}
