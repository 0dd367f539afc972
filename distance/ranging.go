package distance

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// InvalidRange is the raw result at and above which a reading carries no
	// distance.
	InvalidRange uint16 = 8191
	// ContinuousSentinel is returned together with an error by
	// ReadRangeContinuousMillimeters when no distance is available.
	ContinuousSentinel uint16 = 65535
)

var (
	// ErrAbsent is wrapped by every error describing a reading that carries no
	// distance. Callers should skip such samples.
	ErrAbsent            = errors.New("vl53l0x: no valid reading")
	ErrTimeout           = fmt.Errorf("%w: ranging timeout", ErrAbsent)
	ErrOutOfRange        = fmt.Errorf("%w: out of range", ErrAbsent)
	ErrContinuousRunning = errors.New("vl53l0x: continuous ranging is running")
	ErrNotRunning        = errors.New("vl53l0x: continuous ranging is not running")
	ErrPeriodTooLong     = errors.New("vl53l0x: inter-measurement period exceeds register range")

	errWaitTimeout = errors.New("wait timeout")
)

// State is the ranging mode of the handle.
type State int

const (
	StateIdle State = iota
	StateSingleArmed
	StateContinuousRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSingleArmed:
		return "single-armed"
	case StateContinuousRunning:
		return "continuous-running"
	default:
		return "unknown"
	}
}

func (d *VL53L0X) State() State {
	return d.state
}

// ReadRangeSingleMillimeters performs one start/poll/fetch measurement.
// Readings without a distance return an error wrapping ErrAbsent.
func (d *VL53L0X) ReadRangeSingleMillimeters(ctx context.Context) (uint16, error) {
	if !d.initialized {
		return 0, ErrNotInitialized
	}
	if d.state == StateContinuousRunning {
		return 0, ErrContinuousRunning
	}
	if err := d.startSingle(ctx); err != nil {
		d.state = StateIdle
		return 0, err
	}
	if err := d.pollReady(ctx); err != nil {
		d.state = StateIdle
		return 0, err
	}
	return d.fetchAndClear(ctx)
}

// StartContinuous starts repeated internal acquisition. A period below one
// millisecond runs measurements back to back, otherwise the sensor waits period
// between them. Periods that do not fit the inter-measurement register return
// ErrPeriodTooLong and leave the sensor idle.
func (d *VL53L0X) StartContinuous(ctx context.Context, period time.Duration) error {
	if !d.initialized {
		return ErrNotInitialized
	}
	if d.state != StateIdle {
		return ErrContinuousRunning
	}
	ms := period.Milliseconds()
	var ticks uint32
	if ms > 0 {
		osc, err := d.read16(ctx, regOscCalibrateVal)
		if err != nil {
			return err
		}
		scale := uint64(max(osc, 1))
		if uint64(ms) > math.MaxUint32/scale {
			return fmt.Errorf("%w: %s", ErrPeriodTooLong, period)
		}
		ticks = uint32(uint64(ms) * scale)
	}
	if err := d.replayStopVariable(ctx); err != nil {
		return err
	}
	if ticks == 0 {
		if err := d.write8(ctx, regSysrangeStart, sysrangeBackToBack); err != nil {
			return err
		}
		d.state = StateContinuousRunning
		d.log.Debug("continuous ranging started", "mode", "back-to-back")
		return nil
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, ticks)
	if err := d.writeBlock(ctx, regSystemIntermeasurementPeriod, buf); err != nil {
		return err
	}
	if err := d.write8(ctx, regSysrangeStart, sysrangeTimed); err != nil {
		return err
	}
	d.state = StateContinuousRunning
	d.log.Debug("continuous ranging started", "mode", "timed", "period", period)
	return nil
}

// ReadRangeContinuousMillimeters waits for the next result of the running
// continuous acquisition. Readings without a distance return
// ContinuousSentinel and an error wrapping ErrAbsent.
func (d *VL53L0X) ReadRangeContinuousMillimeters(ctx context.Context) (uint16, error) {
	if d.state != StateContinuousRunning {
		return ContinuousSentinel, ErrNotRunning
	}
	if err := d.pollReady(ctx); err != nil {
		return ContinuousSentinel, err
	}
	mm, err := d.fetchAndClear(ctx)
	if err != nil {
		return ContinuousSentinel, err
	}
	return mm, nil
}

// StopContinuous stops continuous acquisition and restores the internal
// registers single-shot ranging depends on. On failure the handle stays in
// the running state so the call can be retried.
func (d *VL53L0X) StopContinuous(ctx context.Context) error {
	if d.state != StateContinuousRunning {
		return ErrNotRunning
	}
	if err := d.write8(ctx, regSysrangeStart, sysrangeSingleShot); err != nil {
		return err
	}
	err := d.withInternalPage(ctx, func(ctx context.Context) error {
		return d.write8(ctx, regStopVariable, 0x00)
	})
	if err != nil {
		return err
	}
	d.state = StateIdle
	d.log.Debug("continuous ranging stopped")
	return nil
}

func (d *VL53L0X) startSingle(ctx context.Context) error {
	if err := d.replayStopVariable(ctx); err != nil {
		return err
	}
	if err := d.write8(ctx, regSysrangeStart, sysrangeSingleShot); err != nil {
		return err
	}
	d.state = StateSingleArmed
	return nil
}

func (d *VL53L0X) replayStopVariable(ctx context.Context) error {
	return d.withInternalPage(ctx, func(ctx context.Context) error {
		return d.write8(ctx, regStopVariable, d.stopVariable)
	})
}

func (d *VL53L0X) pollReady(ctx context.Context) error {
	err := d.waitReady(ctx, regResultRangeStatus, rangeStatusReady)
	if errors.Is(err, errWaitTimeout) {
		d.faults.timeout = true
		d.log.Debug("ranging timeout", "timeout", d.timeout)
		return ErrTimeout
	}
	return err
}

// fetchAndClear reads the range result and clears the interrupt. The
// interrupt is cleared even when the result read fails so the device can
// start the next measurement.
func (d *VL53L0X) fetchAndClear(ctx context.Context) (uint16, error) {
	raw, rerr := d.read16(ctx, regResultRangeVal)
	cerr := d.write8(ctx, regSystemInterruptClear, interruptClear)
	if d.state == StateSingleArmed {
		d.state = StateIdle
	}
	if err := errors.Join(rerr, cerr); err != nil {
		return 0, err
	}
	if raw >= InvalidRange {
		return 0, fmt.Errorf("%w (raw %d)", ErrOutOfRange, raw)
	}
	return raw, nil
}

// waitReady polls reg until one of the mask bits is set. The deadline is
// checked before every status read, so an expired timeout wins over a ready
// bit observed at the same instant. Failed status reads are tolerated until
// the deadline; context cancellation ends the wait at once.
func (d *VL53L0X) waitReady(ctx context.Context, reg, mask byte) error {
	start := d.now()
	for {
		if d.timeout > 0 && d.now().Sub(start) > d.timeout {
			return errWaitTimeout
		}
		status, err := d.read8(ctx, reg)
		if err == nil && status&mask != 0 {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			d.log.Debug("status read failed, retrying", "reg", fmt.Sprintf("%#02x", reg), "error", err)
		}
		if err := sleep(ctx, d.config.PollInterval); err != nil {
			return err
		}
	}
}
