package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/tof"
)

type registry int

const DefaultMCP23017Address = 0x21

// Port selects one of the two 8-bit I/O ports.
type Port int

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortB {
		return "B"
	}
	return "A"
}

const (
	IODIR registry = iota
	GPPU
	GPIO
	OLAT
)

// BankAddr maps registries to addresses per IOCON.BANK setting and port.
var BankAddr = [2]map[Port]map[registry]byte{
	{
		PortA: {IODIR: 0x00, GPPU: 0x0C, GPIO: 0x12, OLAT: 0x14},
		PortB: {IODIR: 0x01, GPPU: 0x0D, GPIO: 0x13, OLAT: 0x15},
	},
	{
		PortA: {IODIR: 0x00, GPPU: 0x06, GPIO: 0x09, OLAT: 0x0A},
		PortB: {IODIR: 0x10, GPPU: 0x16, GPIO: 0x19, OLAT: 0x1A},
	},
}

// MCP23017 represents Microchip MCP23017 16-bit I/O expander.
type MCP23017 struct {
	mx         sync.Mutex
	transport  tof.I2CBus
	bank       int
	address    byte
	retryLimit int
}

func NewMCP23017(bus tof.I2CBus, address byte) *MCP23017 {
	return &MCP23017{retryLimit: 2, transport: bus, address: address}
}

// SetDirection writes IODIR of the port; set bits are inputs.
func (m *MCP23017) SetDirection(ctx context.Context, port Port, inout byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if err := m.writeRegistry(ctx, BankAddr[m.bank][port][IODIR], inout); err != nil {
		return fmt.Errorf("could not set direction of gpio %s set: %w", port, err)
	}
	return nil
}

// Read returns input levels of the port.
func (m *MCP23017) Read(ctx context.Context, port Port) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	v, err := m.readRegistry(ctx, BankAddr[m.bank][port][GPIO])
	if err != nil {
		return 0, fmt.Errorf("could not read gpio %s set: %w", port, err)
	}
	return v, nil
}

// Pin returns output line n (0..7) of the port.
func (m *MCP23017) Pin(port Port, n int) *MCP23017Pin {
	return &MCP23017Pin{dev: m, port: port, mask: 1 << (n & 0x07)}
}

func (m *MCP23017) readRegistry(ctx context.Context, addr byte) (byte, error) {
	buf := make([]byte, 1)
	err := m.retry(ctx, func() error {
		return m.transport.Tx(ctx, m.address, []byte{addr}, buf)
	})
	if err != nil {
		return 0x00, fmt.Errorf("could not read registry %#02x: %w", addr, err)
	}
	return buf[0], nil
}

func (m *MCP23017) writeRegistry(ctx context.Context, addr, value byte) error {
	err := m.retry(ctx, func() error {
		return m.transport.WriteToAddr(ctx, m.address, []byte{addr, value})
	})
	if err != nil {
		return fmt.Errorf("could not write registry %#02x: %w", addr, err)
	}
	return nil
}

// retry repeats op while the adapter reports a busy engine, releasing the bus
// between attempts.
func (m *MCP23017) retry(ctx context.Context, op func() error) error {
	var err error
	for i := m.retryLimit; i > 0; i-- {
		err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, tof.ErrBusBusy) {
			return err
		}
		// try to release the bus
		_ = m.transport.Release(ctx)
	}
	return fmt.Errorf("retry limit reached: %w", err)
}

// MCP23017Pin is a single output of the expander.
type MCP23017Pin struct {
	dev  *MCP23017
	port Port
	mask byte
}

var _ Line = &MCP23017Pin{}

// Set configures the pin as output and drives it to the given level keeping
// other outputs of the port untouched.
func (p *MCP23017Pin) Set(ctx context.Context, high bool) error {
	m := p.dev
	m.mx.Lock()
	defer m.mx.Unlock()
	regs := BankAddr[m.bank][p.port]
	dir, err := m.readRegistry(ctx, regs[IODIR])
	if err != nil {
		return err
	}
	if dir&p.mask != 0 {
		if err := m.writeRegistry(ctx, regs[IODIR], dir&^p.mask); err != nil {
			return err
		}
	}
	latch, err := m.readRegistry(ctx, regs[OLAT])
	if err != nil {
		return err
	}
	if high {
		latch |= p.mask
	} else {
		latch &^= p.mask
	}
	return m.writeRegistry(ctx, regs[OLAT], latch)
}
