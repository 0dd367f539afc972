package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/tof/adapter"
	"github.com/mklimuk/tof/cmd/tof/console"
	"github.com/mklimuk/tof/pkg/config"
)

func TestParseAddress(t *testing.T) {
	for _, in := range []string{"29", "0x29", "0X29"} {
		addr, err := parseAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, byte(0x29), addr)
	}
	_, err := parseAddress("zz")
	assert.Error(t, err)
	_, err = parseAddress("0x129")
	assert.Error(t, err)
}

func TestHexByte(t *testing.T) {
	assert.Equal(t, "0x29", hexByte(0x29))
	assert.Equal(t, "0x01", hexByte(0x01))
}

func TestRangeWithMockAdapter(t *testing.T) {
	code := run([]string{"tof", "--adapter", "mock", "range", "--count", "3", "--interval", "1ms"})
	assert.Equal(t, 0, code)
}

func TestContinuousWithMockAdapter(t *testing.T) {
	code := run([]string{"tof", "--adapter", "mock", "continuous", "--count", "5"})
	assert.Equal(t, 0, code)
}

func TestInfoRequiresHardware(t *testing.T) {
	code := run([]string{"tof", "--adapter", "mock", "info"})
	assert.NotEqual(t, 0, code)
}

func TestInvalidConfig(t *testing.T) {
	code := run([]string{"tof", "--adapter", "serial", "range"})
	assert.NotEqual(t, 0, code)
}

func TestRangeBudgetFlag(t *testing.T) {
	code := run([]string{"tof", "--adapter", "mock", "range", "--count", "1", "--budget", "5000"})
	assert.Equal(t, 0, code)
	code = run([]string{"tof", "--adapter", "mock", "range", "--count", "1", "--budget", "5000000000"})
	assert.Equal(t, console.ExitConfig, code)
}

func TestTxTimeoutForUSBBridge(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, cfg.Sensor.TxTimeout, txTimeout(cfg))
	cfg.Adapter = config.AdapterMCP2221
	assert.Equal(t, adapter.MinTxTimeout, txTimeout(cfg))
	cfg.Sensor.TxTimeout = time.Second
	assert.Equal(t, time.Second, txTimeout(cfg))
}
