package main

import (
	"errors"
	"math"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/tof/cmd/tof/console"
	"github.com/mklimuk/tof/distance"
)

type sensorInfo struct {
	Address      string          `yaml:"address"`
	Model        string          `yaml:"model"`
	Revision     string          `yaml:"revision"`
	StopVariable string          `yaml:"stop_variable"`
	TimingBudget uint32          `yaml:"timing_budget_us"`
	Timeout      time.Duration   `yaml:"timeout"`
	State        string          `yaml:"state"`
	Faults       distance.Faults `yaml:"faults"`
}

var infoCmd = cli.Command{
	Name:  "info",
	Usage: "run bring-up and print sensor identity and state",
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.close()
		if err := s.requireDevice("info"); err != nil {
			return err
		}
		ctx := c.Context
		id, err := s.device.Identify(ctx)
		if err != nil {
			return console.Exit(console.ExitSensor, "could not identify sensor: %s", console.Red(err))
		}
		if err := s.start(ctx); err != nil {
			return err
		}
		d := s.device
		info := sensorInfo{
			Address:      hexByte(d.Address()),
			Model:        hexByte(id.Model),
			Revision:     hexByte(id.Revision),
			StopVariable: hexByte(d.StopVariable()),
			TimingBudget: d.MeasurementTimingBudget(),
			Timeout:      d.Timeout(),
			State:        d.State().String(),
			Faults:       d.Faults(),
		}
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		if err := enc.Encode(info); err != nil {
			return console.Exit(console.ExitError, "encoding error: %s", console.Red(err))
		}
		return nil
	},
}

var rangeCmd = cli.Command{
	Name:    "range",
	Aliases: []string{"rd"},
	Usage:   "take single-shot measurements",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "count",
			Value: 1,
			Usage: "number of measurements, 0 runs until interrupted",
		},
		&cli.DurationFlag{
			Name:  "interval",
			Value: 100 * time.Millisecond,
		},
		&cli.UintFlag{
			Name:  "budget",
			Usage: "timing budget in µs",
		},
	},
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.close()
		ctx := c.Context
		if err := s.start(ctx); err != nil {
			return err
		}
		if c.IsSet("budget") {
			budget := c.Uint("budget")
			if budget > math.MaxUint32 {
				return console.Exit(console.ExitConfig, "timing budget %dµs out of range", budget)
			}
			if err := s.sensor.SetMeasurementTimingBudget(uint32(budget)); err != nil {
				return console.Exit(console.ExitSensor, "could not set timing budget: %s", console.Red(err))
			}
		}
		count := c.Int("count")
		for i := 0; count == 0 || i < count; i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(c.Duration("interval")):
				}
			}
			mm, err := s.sensor.ReadRangeSingleMillimeters(ctx)
			console.Range(time.Now(), mm, err)
			if err != nil && !errors.Is(err, distance.ErrAbsent) {
				if ctx.Err() != nil {
					return nil
				}
				return console.Exit(console.ExitSensor, "measurement failed: %s", console.Red(err))
			}
		}
		reportFaults(s.sensor)
		return nil
	},
}

var continuousCmd = cli.Command{
	Name:    "continuous",
	Aliases: []string{"cont"},
	Usage:   "stream measurements in continuous mode",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "period",
			Usage: "inter-measurement period, 0 runs back-to-back",
		},
		&cli.IntFlag{
			Name:  "count",
			Usage: "number of measurements, 0 runs until interrupted",
		},
	},
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.close()
		ctx := c.Context
		if err := s.start(ctx); err != nil {
			return err
		}
		if err := s.sensor.StartContinuous(ctx, c.Duration("period")); err != nil {
			return console.Exit(console.ExitSensor, "could not start continuous mode: %s", console.Red(err))
		}
		count := c.Int("count")
		for i := 0; count == 0 || i < count; i++ {
			mm, err := s.sensor.ReadRangeContinuousMillimeters(ctx)
			if ctx.Err() != nil {
				break
			}
			console.Range(time.Now(), mm, err)
			if err != nil && !errors.Is(err, distance.ErrAbsent) {
				return console.Exit(console.ExitSensor, "measurement failed: %s", console.Red(err))
			}
		}
		// the interrupt canceled ctx, stop on a fresh one
		stopCtx, cancel := detached(ctx)
		defer cancel()
		if err := s.sensor.StopContinuous(stopCtx); err != nil {
			return console.Exit(console.ExitSensor, "could not stop continuous mode: %s", console.Red(err))
		}
		reportFaults(s.sensor)
		return nil
	},
}

var addressCmd = cli.Command{
	Name:      "address",
	Usage:     "change the sensor address until next power cycle",
	ArgsUsage: "<new address hex>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(console.ExitConfig, "expected 1 argument, got %d", c.NArg())
		}
		addr, err := parseAddress(c.Args().Get(0))
		if err != nil {
			return console.Exit(console.ExitConfig, "%s", err)
		}
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.close()
		if err := s.requireDevice("address"); err != nil {
			return err
		}
		if !c.Bool("yes") {
			answer, err := console.YesOrNo("move sensor from " + hexByte(s.device.Address()) + " to " + hexByte(addr) + "?")
			if err != nil {
				return console.Exit(console.ExitError, "prompt error: %s", err)
			}
			if answer != console.Yes {
				console.Infof("aborted")
				return nil
			}
		}
		if err := s.device.SetAddress(c.Context, addr); err != nil {
			return console.Exit(console.ExitSensor, "could not change address: %s", console.Red(err))
		}
		console.PInfof(console.PictoPin, "sensor now answers at %s", console.White(hexByte(addr)))
		return nil
	},
}

var resetCmd = cli.Command{
	Name:  "reset",
	Usage: "power cycle the sensor through its shutdown line and run bring-up",
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.close()
		if err := s.requireDevice("reset"); err != nil {
			return err
		}
		ctx := c.Context
		if err := s.device.PowerCycle(ctx); err != nil {
			return console.Exit(console.ExitSensor, "power cycle failed: %s", console.Red(err))
		}
		if err := s.start(ctx); err != nil {
			return err
		}
		console.PInfof(console.PictoPin, "sensor ready at %s", console.White(hexByte(s.device.Address())))
		return nil
	},
}

func reportFaults(sensor distance.RangeSensor) {
	if sensor.TimeoutOccurred() {
		console.Warnf("at least one measurement timed out")
	}
	if sensor.I2CFail() {
		console.Warnf("bus transaction failures occurred")
	}
}
