package distance

import (
	"context"
	"time"
)

// RangeSensor is the ranging surface shared by the VL53L0X driver and its mock.
type RangeSensor interface {
	Init(ctx context.Context) error
	SetTimeout(timeout time.Duration)
	SetMeasurementTimingBudget(budget uint32) error
	ReadRangeSingleMillimeters(ctx context.Context) (uint16, error)
	StartContinuous(ctx context.Context, period time.Duration) error
	ReadRangeContinuousMillimeters(ctx context.Context) (uint16, error)
	StopContinuous(ctx context.Context) error
	TimeoutOccurred() bool
	I2CFail() bool
	ClearFaults()
	Close(ctx context.Context) error
}

var _ RangeSensor = &VL53L0X{}
var _ RangeSensor = &MockRangeSensor{}
