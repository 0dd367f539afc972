package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit codes returned by the tof command.
const (
	ExitError   = 1
	ExitConfig  = 2
	ExitAdapter = 3
	ExitSensor  = 4
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}
