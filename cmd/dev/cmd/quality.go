package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func TestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run unit tests",
		Long: `Run unit tests. Without --pkg the whole module is tested; with it only
the named packages, e.g. dev test --pkg ./distance --run StartContinuous`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := cmd.Flags().GetStringSlice("pkg")
			if err != nil {
				return fmt.Errorf("could not get pkg flag: %w", err)
			}
			run, err := cmd.Flags().GetString("run")
			if err != nil {
				return fmt.Errorf("could not get run flag: %w", err)
			}
			if len(pkgs) == 0 && run == "" {
				if err := test.Test(); err != nil {
					return fmt.Errorf("failed to run tests: %w", err)
				}
				return nil
			}
			goArgs := goTestArgs(pkgs, run)
			slog.Info("running go", "args", goArgs)
			goTest := exec.CommandContext(cmd.Context(), "go", goArgs...)
			goTest.Stdout = os.Stdout
			goTest.Stderr = os.Stderr
			if err := goTest.Run(); err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("pkg", nil, "Packages to test")
	cmd.Flags().String("run", "", "Only run tests matching the pattern")
	return cmd
}

func goTestArgs(pkgs []string, run string) []string {
	args := []string{"test", "-race"}
	if run != "" {
		args = append(args, "-run", run)
	}
	if len(pkgs) == 0 {
		pkgs = []string{"./..."}
	}
	return append(args, pkgs...)
}

func LintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Run linting",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Lint()
			if err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
	return cmd
}

// IntegrationTestCmd runs the test suite against a sensor wired to a real
// adapter. Hardware tests skip themselves when TOF_ADAPTER is unset.
func IntegrationTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integration-test",
		Short: "Run tests against an attached sensor",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := cmd.Flags().GetString("adapter")
			if err != nil {
				return fmt.Errorf("could not get adapter flag: %w", err)
			}
			device, err := cmd.Flags().GetString("device")
			if err != nil {
				return fmt.Errorf("could not get device flag: %w", err)
			}
			for k, v := range hardwareEnv(adapter, device) {
				if err := os.Setenv(k, v); err != nil {
					return fmt.Errorf("could not set %s: %w", k, err)
				}
			}
			slog.Info("running integration tests", "adapter", adapter, "device", device)
			if err := test.Integ(); err != nil {
				return fmt.Errorf("failed to run integration testing: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("adapter", "mcp2221", "Adapter the sensor is attached to (generic, mcp2221, nanopi)")
	cmd.Flags().String("device", "", "I2C device for the generic adapter, e.g. /dev/i2c-1")
	return cmd
}

// hardwareEnv is read by the hardware tests of cmd/tof.
func hardwareEnv(adapter, device string) map[string]string {
	env := map[string]string{"TOF_ADAPTER": adapter}
	if device != "" {
		env["TOF_DEVICE"] = device
	}
	return env
}
