package main

import (
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/tof/adapter"
	"github.com/mklimuk/tof/cmd/tof/console"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 bridge maintenance",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221GPIOCmd,
		&mcp2221XShutCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name: "status",
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221()
		defer a.Close()
		status, err := a.Status(c.Context)
		if err != nil {
			return console.Exit(console.ExitAdapter, "adapter communication error: %s", console.Red(err))
		}
		return encode(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current I2C transfer and free the bus",
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221()
		defer a.Close()
		status, err := a.ReleaseBus(c.Context)
		if err != nil {
			return console.Exit(console.ExitAdapter, "adapter communication error: %s", console.Red(err))
		}
		return encode(status)
	},
}

var mcp2221GPIOCmd = cli.Command{
	Name:  "gpio",
	Usage: "print GP pin designations and values",
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221()
		defer a.Close()
		params, err := a.GetGPIOParameters(c.Context)
		if err != nil {
			return console.Exit(console.ExitAdapter, "could not read GP parameters: %s", console.Red(err))
		}
		values, err := a.ReadGPIO(c.Context)
		if err != nil {
			return console.Exit(console.ExitAdapter, "could not read GP values: %s", console.Red(err))
		}
		return encode(map[string]any{"parameters": params, "values": values})
	},
}

var mcp2221XShutCmd = cli.Command{
	Name:      "xshut-setup",
	Usage:     "designate GP pins as GPIO outputs so they can drive sensor shutdown lines",
	ArgsUsage: "<pin 0-3>...",
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return console.Exit(console.ExitConfig, "expected at least one pin")
		}
		a := adapter.NewMCP2221()
		defer a.Close()
		params, err := a.GetGPIOParameters(c.Context)
		if err != nil {
			return console.Exit(console.ExitAdapter, "could not read GP parameters: %s", console.Red(err))
		}
		for _, arg := range c.Args().Slice() {
			switch arg {
			case "0":
				params.GPIO0Designation, params.GPIO0Mode = adapter.GPIOOperation, adapter.GPIOModeOut
			case "1":
				params.GPIO1Designation, params.GPIO1Mode = adapter.GPIOOperation, adapter.GPIOModeOut
			case "2":
				params.GPIO2Designation, params.GPIO2Mode = adapter.GPIOOperation, adapter.GPIOModeOut
			case "3":
				params.GPIO3Designation, params.GPIO3Mode = adapter.GPIOOperation, adapter.GPIOModeOut
			default:
				return console.Exit(console.ExitConfig, "invalid GP pin %s", arg)
			}
		}
		if err := a.SetGPIOParameters(c.Context, params); err != nil {
			return console.Exit(console.ExitAdapter, "could not write GP parameters: %s", console.Red(err))
		}
		return encode(params)
	},
}

func encode(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	if err := enc.Encode(v); err != nil {
		return console.Exit(console.ExitError, "encoding error: %s", console.Red(err))
	}
	return enc.Close()
}
