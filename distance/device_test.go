package distance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/mklimuk/tof"
)

var errNack = errors.New("nack")

// fakeDevice emulates the VL53L0X register file on a bus. It keeps the two
// register pages apart, logs every write and read and reports a measurement
// as ready after a configurable number of status polls.
type fakeDevice struct {
	address byte
	page    byte
	regs    [2]map[byte]byte

	writes []regValue
	reads  []byte

	// readyAfter is the number of not-ready status reads after a start; -1 never ready
	readyAfter  int
	polls       int
	statusReads int
	// failReg fails every transaction addressed to the register
	failReg   *byte
	failReads int
	released  int
}

var _ tof.I2CBus = &fakeDevice{}

func newFakeDevice() *fakeDevice {
	f := &fakeDevice{
		address: DefaultAddress,
		regs:    [2]map[byte]byte{{}, {}},
	}
	f.regs[0][regIdentificationModelID] = modelID
	f.regs[0][regIdentificationRevisionID] = 0x10
	f.regs[1][regStopVariable] = 0x3C
	f.regs[0][regOscCalibrateVal] = 0x00
	f.regs[0][regOscCalibrateVal+1] = 0x0C
	f.setRange(421)
	return f
}

func (f *fakeDevice) setRange(raw uint16) {
	f.regs[0][regResultRangeVal] = byte(raw >> 8)
	f.regs[0][regResultRangeVal+1] = byte(raw)
}

func (f *fakeDevice) fail(reg byte) {
	f.failReg = &reg
}

func (f *fakeDevice) Tx(ctx context.Context, address byte, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if address != f.address || len(w) == 0 {
		return errNack
	}
	reg := w[0]
	if f.failReg != nil && *f.failReg == reg {
		return errNack
	}
	if len(r) == 0 {
		f.write(reg, w[1:])
		return nil
	}
	return f.read(reg, r)
}

func (f *fakeDevice) write(reg byte, data []byte) {
	for i, v := range data {
		f.writes = append(f.writes, regValue{reg + byte(i), v})
	}
	if len(data) == 0 {
		return
	}
	value := data[0]
	switch {
	case reg == regPageSelect:
		f.page = value & 0x01
		return
	case reg == regI2CSlaveDeviceAddress && f.page == 0:
		f.address = value
		return
	case reg == regSysrangeStart && f.page == 0 && value&0x07 != 0:
		f.polls = 0
	}
	for i, v := range data {
		f.regs[f.page][reg+byte(i)] = v
	}
}

func (f *fakeDevice) read(reg byte, r []byte) error {
	f.reads = append(f.reads, reg)
	if (reg == regResultInterruptStatus || reg == regResultRangeStatus) && f.page == 0 {
		f.statusReads++
		if f.failReads > 0 {
			f.failReads--
			return errNack
		}
		ready := f.readyAfter >= 0 && f.polls >= f.readyAfter
		f.polls++
		r[0] = 0x00
		if ready {
			r[0] = interruptStatusMask
			if reg == regResultRangeStatus {
				r[0] = rangeStatusReady
			}
		}
		return nil
	}
	for i := range r {
		r[i] = f.regs[f.page][reg+byte(i)]
	}
	return nil
}

func (f *fakeDevice) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return errors.New("unsupported")
}

func (f *fakeDevice) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return f.Tx(ctx, address, buffer, nil)
}

func (f *fakeDevice) Release(ctx context.Context) error {
	f.released++
	return nil
}

func (f *fakeDevice) resetLog() {
	f.writes = nil
	f.reads = nil
	f.statusReads = 0
}

// fakeClock advances by step on every reading.
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// fakeLine records levels driven on a shutdown line.
type fakeLine struct {
	levels []bool
	err    error
	onSet  func(high bool)
}

func (l *fakeLine) Set(ctx context.Context, high bool) error {
	if l.err != nil {
		return l.err
	}
	l.levels = append(l.levels, high)
	if l.onSet != nil {
		l.onSet(high)
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSensor(dev *fakeDevice, opts ...VL53L0XOpt) *VL53L0X {
	opts = append([]VL53L0XOpt{
		WithLogger(discardLogger()),
		WithPollInterval(time.Microsecond),
	}, opts...)
	s, err := NewVL53L0X(dev, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// initializedSensor returns a sensor after successful bring-up with a clean log.
func initializedSensor(dev *fakeDevice, opts ...VL53L0XOpt) *VL53L0X {
	s := newTestSensor(dev, opts...)
	if err := s.Init(context.Background()); err != nil {
		panic(err)
	}
	dev.resetLog()
	return s
}

func seq(parts ...[]regValue) []regValue {
	var out []regValue
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
