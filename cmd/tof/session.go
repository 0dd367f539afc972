package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/tof"
	"github.com/mklimuk/tof/adapter"
	"github.com/mklimuk/tof/cmd/tof/console"
	"github.com/mklimuk/tof/distance"
	"github.com/mklimuk/tof/gpio"
	"github.com/mklimuk/tof/i2c"
	"github.com/mklimuk/tof/pkg/config"
)

// session holds the bus and the sensor opened for a single command.
type session struct {
	cfg    config.Config
	bus    tof.I2CBus
	mcp    *adapter.MCP2221
	sensor distance.RangeSensor
	// device is nil for the mock adapter
	device  *distance.VL53L0X
	closers []func() error
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("adapter") {
		cfg.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		cfg.Device = c.String("device")
	}
	if c.IsSet("address") {
		addr, err := parseAddress(c.String("address"))
		if err != nil {
			return cfg, err
		}
		cfg.Sensor.Address = addr
	}
	return cfg, cfg.Validate()
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, console.Exit(console.ExitConfig, "configuration error: %s", console.Red(err))
	}
	s := &session{cfg: cfg}
	if cfg.Adapter == config.AdapterMock {
		s.sensor = distance.NewMockRangeSensor(mockBehavior())
		return s, nil
	}
	if err := s.openBus(); err != nil {
		s.close()
		return nil, console.Exit(console.ExitAdapter, "adapter initialization error: %s", console.Red(err))
	}
	xshut, err := s.xshutLine()
	if err != nil {
		s.close()
		return nil, console.Exit(console.ExitConfig, "xshut line error: %s", console.Red(err))
	}
	opts := []distance.VL53L0XOpt{
		distance.WithAddress(cfg.Sensor.Address),
		distance.WithTimeout(cfg.Sensor.Timeout),
		distance.WithTxTimeout(txTimeout(cfg)),
		distance.WithPollInterval(cfg.Sensor.PollInterval),
		distance.WithLogger(slog.Default()),
	}
	if xshut != nil {
		opts = append(opts, distance.WithXShut(xshut))
	}
	dev, err := distance.NewVL53L0X(s.bus, opts...)
	if err != nil {
		s.close()
		return nil, console.Exit(console.ExitConfig, "sensor configuration error: %s", console.Red(err))
	}
	s.device = dev
	s.sensor = dev
	return s, nil
}

// txTimeout raises the configured per transaction deadline to what the
// adapter can deliver.
func txTimeout(cfg config.Config) time.Duration {
	if cfg.Adapter == config.AdapterMCP2221 && cfg.Sensor.TxTimeout < adapter.MinTxTimeout {
		slog.Debug("raising transaction timeout for usb bridge", "configured", cfg.Sensor.TxTimeout, "used", adapter.MinTxTimeout)
		return adapter.MinTxTimeout
	}
	return cfg.Sensor.TxTimeout
}

func (s *session) openBus() error {
	switch s.cfg.Adapter {
	case config.AdapterGeneric:
		bus, err := i2c.NewGenericBus(s.cfg.Device)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, bus.Close)
		if s.cfg.Pins.SCL != "" {
			if err := bus.VerifyPins(s.cfg.Pins.SCL, s.cfg.Pins.SDA); err != nil {
				return err
			}
		}
		if s.cfg.Speed > 0 {
			if err := bus.SetSpeed(physic.Frequency(s.cfg.Speed) * physic.Hertz); err != nil {
				slog.Warn("could not set bus speed", "speed", s.cfg.Speed, "error", err)
			}
		}
		s.bus = bus
	case config.AdapterMCP2221:
		mcp := adapter.NewMCP2221()
		if err := mcp.Init(); err != nil {
			return err
		}
		s.closers = append(s.closers, mcp.Close)
		s.mcp = mcp
		s.bus = mcp
	case config.AdapterNanoPi:
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return fmt.Errorf("adaptor connect error: %w", err)
		}
		s.closers = append(s.closers, npi.I2cBusAdaptor.Finalize)
		bus := i2c.NewGobotBus(npi, s.cfg.Bus)
		s.closers = append(s.closers, bus.Close)
		s.bus = bus
	default:
		return fmt.Errorf("unsupported adapter %q", s.cfg.Adapter)
	}
	return nil
}

func (s *session) xshutLine() (gpio.Line, error) {
	x := s.cfg.XShut
	switch x.Driver {
	case config.XShutNone:
		return nil, nil
	case config.XShutMCP2221:
		mcp := s.mcp
		if mcp == nil {
			mcp = adapter.NewMCP2221()
			if err := mcp.Init(); err != nil {
				return nil, err
			}
			s.closers = append(s.closers, mcp.Close)
		}
		return mcp.Line(x.Pin), nil
	case config.XShutMCP23017:
		port := gpio.PortA
		if x.Port == "B" {
			port = gpio.PortB
		}
		return gpio.NewMCP23017(s.bus, x.Address).Pin(port, x.Pin), nil
	}
	return nil, fmt.Errorf("unknown xshut driver %q", x.Driver)
}

// requireDevice fails for commands that need real hardware.
func (s *session) requireDevice(cmd string) error {
	if s.device == nil {
		return console.Exit(console.ExitConfig, "%s requires a hardware adapter, got %s", cmd, s.cfg.Adapter)
	}
	return nil
}

// start runs bring-up and applies the configured timing budget.
func (s *session) start(ctx context.Context) error {
	if err := s.sensor.Init(ctx); err != nil {
		return console.Exit(console.ExitSensor, "sensor bring-up failed: %s", console.Red(err))
	}
	if s.cfg.Sensor.TimingBudget != distance.DefaultTimingBudget {
		if err := s.sensor.SetMeasurementTimingBudget(s.cfg.Sensor.TimingBudget); err != nil {
			return console.Exit(console.ExitSensor, "could not set timing budget: %s", console.Red(err))
		}
	}
	return nil
}

func (s *session) close() {
	var errs []error
	if s.sensor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		errs = append(errs, s.sensor.Close(ctx))
		cancel()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		console.Errorf("error closing session: %s", console.Red(err))
	}
}

// mockBehavior produces a slowly drifting distance with occasional dropouts.
func mockBehavior() distance.RangeBehaviorFunc {
	mm := 600
	return func(ctx context.Context) (uint16, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		mm += rand.IntN(41) - 20
		mm = min(max(mm, 30), 2000)
		if rand.IntN(20) == 0 {
			return distance.InvalidRange, nil
		}
		return uint16(mm), nil
	}
}
