package distance

const (
	// MinTimingBudget is the shortest measurement timing budget in µs.
	MinTimingBudget uint32 = 20000
	// DefaultTimingBudget is applied at the end of bring-up.
	DefaultTimingBudget uint32 = 66000

	initialTimingBudget uint32 = 33000
)

// SetMeasurementTimingBudget stores the measurement timing budget in µs.
// Requests below MinTimingBudget are raised to it. VCSEL periods are not
// recomputed, so the budget does not change device timing and the poll
// timeout remains the effective limit of a measurement.
func (d *VL53L0X) SetMeasurementTimingBudget(budget uint32) error {
	if budget < MinTimingBudget {
		d.log.Debug("timing budget clamped", "requested_us", budget, "applied_us", MinTimingBudget)
		budget = MinTimingBudget
	}
	d.budget = budget
	return nil
}

// MeasurementTimingBudget returns the stored timing budget in µs.
func (d *VL53L0X) MeasurementTimingBudget() uint32 {
	return d.budget
}
