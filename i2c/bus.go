package i2c

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/tof"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var _ tof.I2CBus = &GenericBus{}

// GenericBus is a host I2C bus (e.g. /dev/i2c-1) driven through periph.
type GenericBus struct {
	bus i2c.BusCloser
}

func NewGenericBus(dev string) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return newGenericBus(bus), nil
}

func newGenericBus(bus i2c.BusCloser) *GenericBus {
	return &GenericBus{bus: bus}
}

// Tx runs a write/repeated-start/read transaction. The transaction is raced
// against ctx; on expiry the caller gets the context error and r is left
// untouched. The kernel transfer cannot be aborted, so an abandoned write may
// still reach the device; its goroutine ends with the driver's own timeout.
func (b *GenericBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("i2c transaction with %x not started: %w", address, err)
	}
	var rbuf []byte
	if len(r) > 0 {
		rbuf = make([]byte, len(r))
	}
	done := make(chan error, 1)
	go func() {
		done <- b.bus.Tx(uint16(address), w, rbuf)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("i2c transaction with %x failed: %w", address, err)
		}
		copy(r, rbuf)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("i2c transaction with %x timed out: %w", address, ctx.Err())
	}
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.Tx(ctx, address, nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.Tx(ctx, address, buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

// SetSpeed sets the bus clock.
func (b *GenericBus) SetSpeed(f physic.Frequency) error {
	if err := b.bus.SetSpeed(f); err != nil {
		return fmt.Errorf("could not set i2c bus speed to %s: %w", f, err)
	}
	return nil
}

// VerifyPins checks that the bus is routed to the named clock and data
// pins. Empty names are not checked. Buses that do not report their pins
// pass.
func (b *GenericBus) VerifyPins(scl, sda string) error {
	pins, ok := b.bus.(i2c.Pins)
	if !ok {
		slog.Debug("i2c bus does not report its pins", "bus", b.bus.String())
		return nil
	}
	if scl != "" && pins.SCL().Name() != scl {
		return fmt.Errorf("i2c bus %s clock line is %s, expected %s", b.bus, pins.SCL().Name(), scl)
	}
	if sda != "" && pins.SDA().Name() != sda {
		return fmt.Errorf("i2c bus %s data line is %s, expected %s", b.bus, pins.SDA().Name(), sda)
	}
	return nil
}

func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}
