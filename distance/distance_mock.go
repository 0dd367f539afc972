package distance

import (
	"context"
	"errors"
	"time"
)

// RangeBehaviorFunc defines the function signature for range sensor behavior.
// It returns the distance in millimeters or an error.
type RangeBehaviorFunc func(ctx context.Context) (uint16, error)

// MockRangeSensor is a mock implementation of a range sensor that uses a behavior function
// to produce readings without requiring any hardware.
// Errors wrapping ErrTimeout set the timeout flag the same way the driver does.
type MockRangeSensor struct {
	behavior    RangeBehaviorFunc
	initialized bool
	continuous  bool
	timeout     time.Duration
	budget      uint32
	didTimeout  bool
}

// NewMockRangeSensor creates a new mock range sensor with the given behavior function.
//
// Example usage:
//
//	sensor := NewMockRangeSensor(func(ctx context.Context) (uint16, error) { return 420, nil })
func NewMockRangeSensor(behavior RangeBehaviorFunc) *MockRangeSensor {
	return &MockRangeSensor{behavior: behavior, budget: initialTimingBudget}
}

func (m *MockRangeSensor) Init(ctx context.Context) error {
	if m.initialized {
		return ErrAlreadyInitialized
	}
	m.initialized = true
	m.budget = DefaultTimingBudget
	return nil
}

func (m *MockRangeSensor) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

func (m *MockRangeSensor) SetMeasurementTimingBudget(budget uint32) error {
	m.budget = max(budget, MinTimingBudget)
	return nil
}

// MeasurementTimingBudget returns the stored timing budget in µs.
func (m *MockRangeSensor) MeasurementTimingBudget() uint32 {
	return m.budget
}

func (m *MockRangeSensor) ReadRangeSingleMillimeters(ctx context.Context) (uint16, error) {
	if !m.initialized {
		return 0, ErrNotInitialized
	}
	if m.continuous {
		return 0, ErrContinuousRunning
	}
	mm, err := m.read(ctx)
	if err != nil {
		return 0, err
	}
	return mm, nil
}

func (m *MockRangeSensor) StartContinuous(ctx context.Context, period time.Duration) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.continuous {
		return ErrContinuousRunning
	}
	m.continuous = true
	return nil
}

func (m *MockRangeSensor) ReadRangeContinuousMillimeters(ctx context.Context) (uint16, error) {
	if !m.continuous {
		return ContinuousSentinel, ErrNotRunning
	}
	mm, err := m.read(ctx)
	if err != nil {
		return ContinuousSentinel, err
	}
	return mm, nil
}

func (m *MockRangeSensor) StopContinuous(ctx context.Context) error {
	if !m.continuous {
		return ErrNotRunning
	}
	m.continuous = false
	return nil
}

func (m *MockRangeSensor) TimeoutOccurred() bool {
	return m.didTimeout
}

// I2CFail always reports false, there is no bus behind the mock.
func (m *MockRangeSensor) I2CFail() bool {
	return false
}

func (m *MockRangeSensor) ClearFaults() {
	m.didTimeout = false
}

func (m *MockRangeSensor) Close(ctx context.Context) error {
	m.continuous = false
	return nil
}

func (m *MockRangeSensor) read(ctx context.Context) (uint16, error) {
	mm, err := m.behavior(ctx)
	if errors.Is(err, ErrTimeout) {
		m.didTimeout = true
	}
	if err != nil {
		return 0, err
	}
	if mm >= InvalidRange {
		return 0, ErrOutOfRange
	}
	return mm, nil
}
