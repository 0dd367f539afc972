// Package config holds the command line tool configuration and build metadata.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// set at build time
var (
	Version = "latest"
	Date    = "unknown"
	Commit  = "none"
)

const (
	AdapterGeneric = "generic"
	AdapterMCP2221 = "mcp2221"
	AdapterNanoPi  = "nanopi"
	AdapterMock    = "mock"
)

const (
	XShutNone     = ""
	XShutMCP2221  = "mcp2221"
	XShutMCP23017 = "mcp23017"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Adapter string `yaml:"adapter"`
	// Device is the periph bus name for the generic adapter
	Device string `yaml:"device"`
	// Bus is the gobot bus number for the nanopi adapter
	Bus   int    `yaml:"bus"`
	Speed uint32 `yaml:"speed_hz"`
	Pins  Pins   `yaml:"pins"`

	Sensor Sensor `yaml:"sensor"`
	XShut  XShut  `yaml:"xshut"`
}

type Pins struct {
	SCL string `yaml:"scl"`
	SDA string `yaml:"sda"`
}

type Sensor struct {
	Address      byte          `yaml:"address"`
	Timeout      time.Duration `yaml:"timeout"`
	TxTimeout    time.Duration `yaml:"tx_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	TimingBudget uint32        `yaml:"timing_budget_us"`
}

// XShut describes the line wired to the sensor shutdown pin.
type XShut struct {
	Driver string `yaml:"driver"`
	// Address of the MCP23017 expander
	Address byte `yaml:"address"`
	// Port of the MCP23017 expander, A or B
	Port string `yaml:"port"`
	Pin  int    `yaml:"pin"`
}

func Defaults() Config {
	return Config{
		Adapter: AdapterGeneric,
		Device:  "/dev/i2c-1",
		Bus:     0,
		Speed:   400_000,
		Sensor: Sensor{
			Address:      0x29,
			Timeout:      500 * time.Millisecond,
			TxTimeout:    100 * time.Millisecond,
			PollInterval: time.Millisecond,
			TimingBudget: 66000,
		},
		XShut: XShut{
			Address: 0x20,
			Port:    "A",
		},
	}
}

// Load reads YAML config from path on top of the defaults. Empty path yields defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.Adapter {
	case AdapterGeneric:
		if c.Device == "" {
			errs = append(errs, errors.New("device is required for the generic adapter"))
		}
	case AdapterMCP2221, AdapterMock:
	case AdapterNanoPi:
		if c.Bus < 0 {
			errs = append(errs, fmt.Errorf("invalid bus number %d", c.Bus))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown adapter %q", c.Adapter))
	}
	if c.Sensor.Address < 0x01 || c.Sensor.Address > 0x7E {
		errs = append(errs, fmt.Errorf("sensor address %#02x out of range", c.Sensor.Address))
	}
	if c.Sensor.Timeout < 0 || c.Sensor.TxTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.Sensor.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if (c.Pins.SCL == "") != (c.Pins.SDA == "") {
		errs = append(errs, errors.New("both scl and sda pins must be set"))
	}
	switch c.XShut.Driver {
	case XShutNone:
	case XShutMCP2221:
		if c.XShut.Pin < 0 || c.XShut.Pin > 3 {
			errs = append(errs, fmt.Errorf("mcp2221 has no GP%d", c.XShut.Pin))
		}
	case XShutMCP23017:
		if c.XShut.Pin < 0 || c.XShut.Pin > 7 {
			errs = append(errs, fmt.Errorf("mcp23017 pin %d out of range", c.XShut.Pin))
		}
		if c.XShut.Port != "A" && c.XShut.Port != "B" {
			errs = append(errs, fmt.Errorf("mcp23017 port %q unknown", c.XShut.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown xshut driver %q", c.XShut.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
