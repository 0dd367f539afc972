// Package distance provides drivers for distance sensors.
//
// VL53L0X is the ST time-of-flight ranging sensor. Typical usage:
//
//	s, err := distance.NewVL53L0X(bus, distance.WithTimeout(500*time.Millisecond))
//	if err != nil { ... }
//	if err := s.Init(ctx); err != nil { ... }
//	mm, err := s.ReadRangeSingleMillimeters(ctx)
//	if errors.Is(err, distance.ErrAbsent) {
//		// timed out or out of range, skip the sample
//	}
//
// A VL53L0X handle assumes exclusive ownership of the device and is not safe
// for concurrent use.
package distance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/tof"
	"github.com/mklimuk/tof/gpio"
)

// DefaultAddress is the factory 7-bit address of the sensor.
const DefaultAddress byte = 0x29

const (
	minAddress byte = 0x01
	maxAddress byte = 0x7E
)

var (
	ErrUnknownModel       = errors.New("vl53l0x: unexpected model id")
	ErrCalibrationTimeout = errors.New("vl53l0x: reference calibration timed out")
	ErrNotInitialized     = errors.New("vl53l0x: device not initialized")
	ErrAlreadyInitialized = errors.New("vl53l0x: device already initialized, power cycle before running bring-up again")
	ErrInvalidAddress     = errors.New("vl53l0x: address outside of 7-bit range 1..126")
	ErrNoXShut            = errors.New("vl53l0x: no shutdown line configured")
)

type VL53L0XOpts struct {
	Address byte
	// Timeout bounds a single ranging or calibration wait; 0 disables it.
	Timeout time.Duration
	// TxTimeout bounds every bus transaction.
	TxTimeout    time.Duration
	PollInterval time.Duration
	// XShut drives the shutdown pin; required by PowerCycle.
	XShut     gpio.Line
	ShutDelay time.Duration
	BootDelay time.Duration
	Logger    *slog.Logger
}

type VL53L0XOpt func(*VL53L0XOpts)

func WithAddress(address byte) VL53L0XOpt {
	return func(o *VL53L0XOpts) {
		o.Address = address
	}
}

func WithTimeout(timeout time.Duration) VL53L0XOpt {
	return func(o *VL53L0XOpts) {
		o.Timeout = timeout
	}
}

func WithTxTimeout(timeout time.Duration) VL53L0XOpt {
	return func(o *VL53L0XOpts) {
		o.TxTimeout = timeout
	}
}

func WithPollInterval(interval time.Duration) VL53L0XOpt {
	return func(o *VL53L0XOpts) {
		o.PollInterval = interval
	}
}

func WithXShut(line gpio.Line) VL53L0XOpt {
	return func(o *VL53L0XOpts) {
		o.XShut = line
	}
}

func WithLogger(logger *slog.Logger) VL53L0XOpt {
	return func(o *VL53L0XOpts) {
		o.Logger = logger
	}
}

// VL53L0X represents ST VL53L0X time-of-flight ranging sensor.
type VL53L0X struct {
	transport tof.I2CBus
	address   byte
	config    VL53L0XOpts
	log       *slog.Logger
	now       func() time.Time

	timeout      time.Duration
	budget       uint32
	stopVariable byte
	initialized  bool
	state        State
	faults       faults
}

// NewVL53L0X binds a sensor handle to the transport. No bus traffic happens
// until Init is called.
func NewVL53L0X(transport tof.I2CBus, opts ...VL53L0XOpt) (*VL53L0X, error) {
	config := VL53L0XOpts{
		Address:      DefaultAddress,
		Timeout:      time.Second,
		TxTimeout:    100 * time.Millisecond,
		PollInterval: time.Millisecond,
		ShutDelay:    10 * time.Millisecond,
		BootDelay:    2 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if !validAddress(config.Address) {
		return nil, fmt.Errorf("%w: %#02x", ErrInvalidAddress, config.Address)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VL53L0X{
		transport: transport,
		address:   config.Address,
		config:    config,
		log:       logger.With("sensor", "vl53l0x"),
		now:       time.Now,
		timeout:   config.Timeout,
		budget:    initialTimingBudget,
		state:     StateIdle,
	}, nil
}

func validAddress(address byte) bool {
	return address >= minAddress && address <= maxAddress
}

// Address returns the 7-bit address the handle currently talks to.
func (d *VL53L0X) Address() byte {
	return d.address
}

// Initialized reports whether bring-up completed.
func (d *VL53L0X) Initialized() bool {
	return d.initialized
}

// StopVariable returns the internal byte captured during bring-up.
func (d *VL53L0X) StopVariable() byte {
	return d.stopVariable
}

// SetTimeout sets the wait limit for a single measurement.
func (d *VL53L0X) SetTimeout(timeout time.Duration) {
	d.timeout = timeout
}

func (d *VL53L0X) Timeout() time.Duration {
	return d.timeout
}

// Identity holds identification registers of the sensor.
type Identity struct {
	Model    byte `yaml:"model"`
	Revision byte `yaml:"revision"`
}

// Identify reads model and revision registers. It is safe to call before Init.
func (d *VL53L0X) Identify(ctx context.Context) (Identity, error) {
	model, err := d.read8(ctx, regIdentificationModelID)
	if err != nil {
		return Identity{}, err
	}
	revision, err := d.read8(ctx, regIdentificationRevisionID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Model: model, Revision: revision}, nil
}

// SetAddress moves the sensor to a new 7-bit address. The change holds until
// the device is power cycled.
func (d *VL53L0X) SetAddress(ctx context.Context, address byte) error {
	if !validAddress(address) {
		return fmt.Errorf("%w: %#02x", ErrInvalidAddress, address)
	}
	if err := d.write8(ctx, regI2CSlaveDeviceAddress, address&0x7F); err != nil {
		return err
	}
	d.log.Info("address changed", "from", fmt.Sprintf("%#02x", d.address), "to", fmt.Sprintf("%#02x", address))
	d.address = address
	return nil
}

// PowerCycle toggles the shutdown line. Afterwards the sensor is back at its
// factory address and Init has to be run again.
func (d *VL53L0X) PowerCycle(ctx context.Context) error {
	if d.config.XShut == nil {
		return ErrNoXShut
	}
	if err := d.config.XShut.Set(ctx, false); err != nil {
		return fmt.Errorf("vl53l0x: could not pull shutdown line low: %w", err)
	}
	if err := sleep(ctx, d.config.ShutDelay); err != nil {
		return err
	}
	if err := d.config.XShut.Set(ctx, true); err != nil {
		return fmt.Errorf("vl53l0x: could not release shutdown line: %w", err)
	}
	if err := sleep(ctx, d.config.BootDelay); err != nil {
		return err
	}
	d.address = DefaultAddress
	d.initialized = false
	d.state = StateIdle
	d.stopVariable = 0
	d.budget = initialTimingBudget
	d.log.Debug("power cycled")
	return nil
}

// Close stops continuous ranging if it is running and releases the transport.
func (d *VL53L0X) Close(ctx context.Context) error {
	var err error
	if d.state == StateContinuousRunning {
		err = d.StopContinuous(ctx)
	}
	if rerr := d.transport.Release(ctx); rerr != nil {
		err = errors.Join(err, fmt.Errorf("vl53l0x: could not release bus: %w", rerr))
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
