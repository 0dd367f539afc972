package i2c

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gi2c "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/tof"
)

var _ tof.I2CBus = &GobotBus{}

// GobotBus exposes a gobot i2c connector (e.g. NanoPi NEO adaptor) as a bus.
// One generic driver is started per device address on first use.
// Gobot connections have no repeated start, so Tx issues the write and the
// read as two transfers separated by a STOP. The VL53L0X keeps the register
// index across a STOP. The bus lock only keeps other callers of this process
// out of the gap.
type GobotBus struct {
	mx        sync.Mutex
	connector gi2c.Connector
	bus       int
	drivers   map[byte]*gi2c.GenericDriver
}

func NewGobotBus(connector gi2c.Connector, bus int) *GobotBus {
	return &GobotBus{
		connector: connector,
		bus:       bus,
		drivers:   make(map[byte]*gi2c.GenericDriver),
	}
}

func (b *GobotBus) driver(address byte) (*gi2c.GenericDriver, error) {
	if d, ok := b.drivers[address]; ok {
		return d, nil
	}
	d := gi2c.NewGenericDriver(b.connector, fmt.Sprintf("i2c-%#02x", address), int(address), func(c gi2c.Config) {
		c.SetBus(b.bus)
	})
	if err := d.Start(); err != nil {
		return nil, fmt.Errorf("could not start driver for %x: %w", address, err)
	}
	b.drivers[address] = d
	return d, nil
}

func (b *GobotBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("i2c transaction with %x not started: %w", address, err)
	}
	d, err := b.driver(address)
	if err != nil {
		return err
	}
	if len(w) > 0 {
		if err := d.Write(w); err != nil {
			return fmt.Errorf("write to %x failed: %w", address, err)
		}
	}
	if len(r) > 0 {
		if err := d.Read(r); err != nil {
			return fmt.Errorf("read from %x failed: %w", address, err)
		}
	}
	return nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.Tx(ctx, address, nil, buffer)
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.Tx(ctx, address, buffer, nil)
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

// Close halts all started drivers.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var err error
	for address, d := range b.drivers {
		if herr := d.Halt(); herr != nil {
			err = errors.Join(err, fmt.Errorf("could not halt driver for %x: %w", address, herr))
		}
		delete(b.drivers, address)
	}
	return err
}
