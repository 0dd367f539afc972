package distance

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleShotWrites(stop byte) []regValue {
	return seq(
		pageSelect,
		[]regValue{{regStopVariable, stop}},
		pageRestore,
		[]regValue{{regSysrangeStart, sysrangeSingleShot}},
	)
}

func TestReadRangeSingle(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)

	mm, err := s.ReadRangeSingleMillimeters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(421), mm)
	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.TimeoutOccurred())
	assert.Equal(t, seq(singleShotWrites(0x3C), []regValue{{regSystemInterruptClear, interruptClear}}), dev.writes)
	assert.Equal(t, []byte{regResultRangeStatus, regResultRangeVal}, dev.reads)
}

func TestReadRangeSingle_ConsecutiveReads(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)
	ctx := context.Background()

	dev.setRange(100)
	first, err := s.ReadRangeSingleMillimeters(ctx)
	require.NoError(t, err)
	dev.setRange(200)
	second, err := s.ReadRangeSingleMillimeters(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint16(100), first)
	assert.Equal(t, uint16(200), second)
	one := seq(singleShotWrites(0x3C), []regValue{{regSystemInterruptClear, interruptClear}})
	assert.Equal(t, seq(one, one), dev.writes)
}

func TestReadRangeSingle_Timeout(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev, WithTimeout(5*time.Millisecond))
	s.now = (&fakeClock{now: time.Unix(0, 0), step: 2 * time.Millisecond}).Now
	dev.readyAfter = -1

	mm, err := s.ReadRangeSingleMillimeters(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrAbsent)
	assert.Zero(t, mm)
	assert.True(t, s.TimeoutOccurred())
	assert.False(t, s.I2CFail())
	assert.Equal(t, StateIdle, s.State())
	assert.Greater(t, dev.statusReads, 0)
	// result is neither fetched nor cleared
	assert.NotContains(t, dev.reads, regResultRangeVal)
	assert.Equal(t, singleShotWrites(0x3C), dev.writes)
}

func TestReadRangeSingle_ReadyOnFirstPoll(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev, WithTimeout(5*time.Millisecond))

	mm, err := s.ReadRangeSingleMillimeters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(421), mm)
	assert.Equal(t, 1, dev.statusReads)
	assert.False(t, s.TimeoutOccurred())
}

func TestReadRangeSingle_TimeoutWinsSameInstantRace(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev, WithTimeout(5*time.Millisecond))
	// the clock jumps past the deadline before the first status read
	s.now = (&fakeClock{now: time.Unix(0, 0), step: 10 * time.Millisecond}).Now

	_, err := s.ReadRangeSingleMillimeters(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, s.TimeoutOccurred())
	assert.Zero(t, dev.statusReads)
}

func TestReadRangeSingle_TimeoutDisabled(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)
	s.SetTimeout(0)
	s.now = (&fakeClock{now: time.Unix(0, 0), step: time.Hour}).Now
	dev.readyAfter = 5

	mm, err := s.ReadRangeSingleMillimeters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(421), mm)
	assert.Equal(t, 6, dev.statusReads)
}

func TestReadRangeSingle_OutOfRange(t *testing.T) {
	tests := []struct {
		raw   uint16
		valid bool
	}{
		{raw: 0, valid: true},
		{raw: 8190, valid: true},
		{raw: 8191},
		{raw: 20000},
		{raw: 65535},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.raw), func(t *testing.T) {
			dev := newFakeDevice()
			s := initializedSensor(dev)
			dev.setRange(tt.raw)

			mm, err := s.ReadRangeSingleMillimeters(context.Background())
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, tt.raw, mm)
				return
			}
			require.ErrorIs(t, err, ErrOutOfRange)
			assert.ErrorIs(t, err, ErrAbsent)
			assert.NotErrorIs(t, err, ErrTimeout)
			assert.Zero(t, mm)
			assert.False(t, s.TimeoutOccurred())
			// the interrupt is cleared for absent readings too
			assert.Equal(t, regValue{regSystemInterruptClear, interruptClear}, dev.writes[len(dev.writes)-1])
		})
	}
}

func TestReadRangeSingle_ResultReadFailureStillClears(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)
	dev.fail(regResultRangeVal)

	_, err := s.ReadRangeSingleMillimeters(context.Background())
	require.ErrorIs(t, err, errNack)
	assert.NotErrorIs(t, err, ErrAbsent)
	assert.True(t, s.I2CFail())
	assert.Equal(t, regValue{regSystemInterruptClear, interruptClear}, dev.writes[len(dev.writes)-1])
	assert.Equal(t, StateIdle, s.State())
}

func TestReadRangeSingle_StartFailure(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)
	dev.fail(regStopVariable)

	_, err := s.ReadRangeSingleMillimeters(context.Background())
	require.ErrorIs(t, err, errNack)
	assert.True(t, s.I2CFail())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, byte(0), dev.page)
	assert.Zero(t, dev.statusReads)
}

func TestReadRangeSingle_StatusReadErrorsTolerated(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)
	dev.failReads = 2

	mm, err := s.ReadRangeSingleMillimeters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(421), mm)
	assert.Equal(t, 3, dev.statusReads)
	assert.True(t, s.I2CFail())
	assert.False(t, s.TimeoutOccurred())
}

func TestReadRangeSingle_StatusReadErrorsUntilTimeout(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev, WithTimeout(5*time.Millisecond))
	s.now = (&fakeClock{now: time.Unix(0, 0), step: 2 * time.Millisecond}).Now
	dev.failReads = 100

	_, err := s.ReadRangeSingleMillimeters(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, s.I2CFail())
	assert.True(t, s.TimeoutOccurred())
}

func TestReadRangeSingle_Canceled(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)
	dev.readyAfter = -1
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ReadRangeSingleMillimeters(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrAbsent)
	assert.False(t, s.TimeoutOccurred())
	assert.False(t, s.I2CFail())
	// the hidden page is deselected even though ctx is done
	assert.Equal(t, byte(0), dev.page)
}

func TestReadRangeSingle_NotInitialized(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSensor(dev)

	_, err := s.ReadRangeSingleMillimeters(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.Empty(t, dev.writes)
	assert.Empty(t, dev.reads)
}

func TestFaults_StickyUntilCleared(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev, WithTimeout(5*time.Millisecond))
	s.now = (&fakeClock{now: time.Unix(0, 0), step: 2 * time.Millisecond}).Now
	ctx := context.Background()

	dev.readyAfter = -1
	_, err := s.ReadRangeSingleMillimeters(ctx)
	require.ErrorIs(t, err, ErrTimeout)

	dev.readyAfter = 0
	_, err = s.ReadRangeSingleMillimeters(ctx)
	require.NoError(t, err)
	assert.True(t, s.TimeoutOccurred())

	dev.fail(regResultRangeVal)
	_, err = s.ReadRangeSingleMillimeters(ctx)
	require.Error(t, err)
	dev.failReg = nil
	_, err = s.ReadRangeSingleMillimeters(ctx)
	require.NoError(t, err)
	assert.Equal(t, Faults{I2C: true, Timeout: true}, s.Faults())

	s.ClearFaults()
	assert.False(t, s.TimeoutOccurred())
	assert.False(t, s.I2CFail())
}

func TestStartContinuous_BackToBack(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)

	require.NoError(t, s.StartContinuous(context.Background(), 0))
	assert.Equal(t, StateContinuousRunning, s.State())
	expected := seq(
		pageSelect,
		[]regValue{{regStopVariable, 0x3C}},
		pageRestore,
		[]regValue{{regSysrangeStart, sysrangeBackToBack}},
	)
	assert.Equal(t, expected, dev.writes)
}

func TestStartContinuous_Timed(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)

	require.NoError(t, s.StartContinuous(context.Background(), 100*time.Millisecond))
	assert.Equal(t, StateContinuousRunning, s.State())
	// 100 ms scaled by oscillator calibration 12 gives 1200
	expected := seq(
		pageSelect,
		[]regValue{{regStopVariable, 0x3C}},
		pageRestore,
		[]regValue{
			{regSystemIntermeasurementPeriod, 0x00},
			{regSystemIntermeasurementPeriod + 1, 0x00},
			{regSystemIntermeasurementPeriod + 2, 0x04},
			{regSystemIntermeasurementPeriod + 3, 0xB0},
			{regSysrangeStart, sysrangeTimed},
		},
	)
	assert.Equal(t, expected, dev.writes)
	assert.Equal(t, []byte{regOscCalibrateVal}, dev.reads)
}

func TestStartContinuous_TimedWithoutOscillatorCalibration(t *testing.T) {
	dev := newFakeDevice()
	dev.regs[0][regOscCalibrateVal+1] = 0x00
	s := initializedSensor(dev)

	require.NoError(t, s.StartContinuous(context.Background(), 50*time.Millisecond))
	assert.Contains(t, dev.writes, regValue{regSystemIntermeasurementPeriod + 3, 50})
}

func TestStartContinuous_SubMillisecondPeriod(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)

	require.NoError(t, s.StartContinuous(context.Background(), 500*time.Microsecond))
	assert.Equal(t, StateContinuousRunning, s.State())
	assert.Contains(t, dev.writes, regValue{regSysrangeStart, sysrangeBackToBack})
	assert.NotContains(t, dev.writes, regValue{regSysrangeStart, sysrangeTimed})
	assert.Empty(t, dev.reads)
}

func TestStartContinuous_PeriodTooLong(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)

	// 400000 s scaled by 12 does not fit 32 bits
	err := s.StartContinuous(context.Background(), 400000*time.Second)
	require.ErrorIs(t, err, ErrPeriodTooLong)
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, dev.writes)
	assert.False(t, s.I2CFail())

	// the largest period that still fits
	dev.resetLog()
	require.NoError(t, s.StartContinuous(context.Background(), time.Duration(math.MaxUint32/12)*time.Millisecond))
	assert.Contains(t, dev.writes, regValue{regSysrangeStart, sysrangeTimed})
}

func TestStartContinuous_Preconditions(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSensor(dev)
	ctx := context.Background()
	require.ErrorIs(t, s.StartContinuous(ctx, 0), ErrNotInitialized)

	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.StartContinuous(ctx, 0))
	dev.resetLog()
	require.ErrorIs(t, s.StartContinuous(ctx, 0), ErrContinuousRunning)
	_, err := s.ReadRangeSingleMillimeters(ctx)
	require.ErrorIs(t, err, ErrContinuousRunning)
	assert.Empty(t, dev.writes)
}

func TestStartContinuous_Failure(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)
	dev.fail(regOscCalibrateVal)

	require.ErrorIs(t, s.StartContinuous(context.Background(), time.Second), errNack)
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, s.I2CFail())
}

func TestReadRangeContinuous(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)
	ctx := context.Background()
	require.NoError(t, s.StartContinuous(ctx, 0))
	dev.resetLog()

	for _, raw := range []uint16{150, 151, 152} {
		dev.setRange(raw)
		mm, err := s.ReadRangeContinuousMillimeters(ctx)
		require.NoError(t, err)
		assert.Equal(t, raw, mm)
	}
	assert.Equal(t, StateContinuousRunning, s.State())
	// no start commands between continuous reads
	for _, w := range dev.writes {
		assert.Equal(t, regValue{regSystemInterruptClear, interruptClear}, w)
	}
	assert.Len(t, dev.writes, 3)
}

func TestReadRangeContinuous_Absent(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev, WithTimeout(5*time.Millisecond))
	s.now = (&fakeClock{now: time.Unix(0, 0), step: 2 * time.Millisecond}).Now
	ctx := context.Background()
	require.NoError(t, s.StartContinuous(ctx, 0))

	dev.setRange(8191)
	mm, err := s.ReadRangeContinuousMillimeters(ctx)
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, ContinuousSentinel, mm)
	assert.False(t, s.TimeoutOccurred())

	dev.readyAfter = -1
	mm, err = s.ReadRangeContinuousMillimeters(ctx)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, ContinuousSentinel, mm)
	assert.True(t, s.TimeoutOccurred())
	assert.Equal(t, StateContinuousRunning, s.State())
}

func TestReadRangeContinuous_NotRunning(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)

	mm, err := s.ReadRangeContinuousMillimeters(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, ContinuousSentinel, mm)
	assert.Empty(t, dev.reads)
}

func TestStopContinuous(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)
	ctx := context.Background()
	require.NoError(t, s.StartContinuous(ctx, 0))
	dev.resetLog()

	require.NoError(t, s.StopContinuous(ctx))
	assert.Equal(t, StateIdle, s.State())
	expected := seq(
		[]regValue{{regSysrangeStart, sysrangeSingleShot}},
		pageSelect,
		[]regValue{{regStopVariable, 0x00}},
		pageRestore,
	)
	assert.Equal(t, expected, dev.writes)
	assert.Equal(t, byte(0), dev.page)

	// single shot works again and replays the captured stop variable
	dev.resetLog()
	mm, err := s.ReadRangeSingleMillimeters(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(421), mm)
	assert.Equal(t, regValue{regStopVariable, 0x3C}, dev.writes[len(pageSelect)])
}

func TestStopContinuous_NotRunning(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)

	require.ErrorIs(t, s.StopContinuous(context.Background()), ErrNotRunning)
	assert.Empty(t, dev.writes)
}

func TestStopContinuous_FailureKeepsRunning(t *testing.T) {
	dev := newFakeDevice()
	s := initializedSensor(dev)
	ctx := context.Background()
	require.NoError(t, s.StartContinuous(ctx, 0))

	dev.fail(regStopVariable)
	require.ErrorIs(t, s.StopContinuous(ctx), errNack)
	assert.Equal(t, StateContinuousRunning, s.State())
	assert.Equal(t, byte(0), dev.page)

	dev.failReg = nil
	require.NoError(t, s.StopContinuous(ctx))
	assert.Equal(t, StateIdle, s.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "single-armed", StateSingleArmed.String())
	assert.Equal(t, "continuous-running", StateContinuousRunning.String())
	assert.Equal(t, "unknown", State(42).String())
}
