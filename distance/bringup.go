package distance

import (
	"context"
	"errors"
	"fmt"
)

type bringUpStep struct {
	name string
	run  func(ctx context.Context) error
}

// Init runs the bring-up sequence: identification, stop variable capture,
// default tuning, VHV and phase reference calibration and the default timing
// budget. It stops at the first failure and leaves the handle uninitialized.
//
// Running Init on an already initialized handle is not supported; PowerCycle
// the device first.
func (d *VL53L0X) Init(ctx context.Context) error {
	if d.initialized {
		return ErrAlreadyInitialized
	}
	steps := []bringUpStep{
		{name: "identify", run: d.identify},
		{name: "capture", run: d.captureStopVariable},
		{name: "tune", run: d.applyTuning},
		{name: "calibrate-vhv", run: func(ctx context.Context) error {
			return d.calibrate(ctx, calibrationVHV)
		}},
		{name: "calibrate-phase", run: func(ctx context.Context) error {
			return d.calibrate(ctx, calibrationPhase)
		}},
		{name: "default-budget", run: func(ctx context.Context) error {
			return d.SetMeasurementTimingBudget(DefaultTimingBudget)
		}},
	}
	for _, step := range steps {
		d.log.Debug("bring-up", "step", step.name)
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("vl53l0x: bring-up step %s failed: %w", step.name, err)
		}
	}
	d.initialized = true
	d.state = StateIdle
	d.log.Info("initialized", "address", fmt.Sprintf("%#02x", d.address), "budget_us", d.budget)
	return nil
}

func (d *VL53L0X) identify(ctx context.Context) error {
	model, err := d.read8(ctx, regIdentificationModelID)
	if err != nil {
		return err
	}
	if model != modelID {
		return fmt.Errorf("%w: got %#02x, expected %#02x", ErrUnknownModel, model, modelID)
	}
	return nil
}

func (d *VL53L0X) captureStopVariable(ctx context.Context) error {
	if err := d.write8(ctx, regI2CStandardMode, 0x00); err != nil {
		return err
	}
	return d.withInternalPage(ctx, func(ctx context.Context) error {
		v, err := d.read8(ctx, regStopVariable)
		if err != nil {
			return err
		}
		d.stopVariable = v
		return nil
	})
}

func (d *VL53L0X) applyTuning(ctx context.Context) error {
	return d.writeSequence(ctx, tuningSettings())
}

// calibrate runs a single reference calibration selected by mode.
func (d *VL53L0X) calibrate(ctx context.Context, mode byte) error {
	if err := d.write8(ctx, regSysrangeStart, sysrangeSingleShot|mode); err != nil {
		return err
	}
	err := d.waitReady(ctx, regResultInterruptStatus, interruptStatusMask)
	if errors.Is(err, errWaitTimeout) {
		return fmt.Errorf("%w after %s (mode %#02x)", ErrCalibrationTimeout, d.timeout, mode)
	}
	if err != nil {
		return err
	}
	if err := d.write8(ctx, regSystemInterruptClear, interruptClear); err != nil {
		return err
	}
	return d.write8(ctx, regSysrangeStart, sysrangeStop)
}
