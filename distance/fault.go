package distance

type faults struct {
	i2c     bool
	timeout bool
}

// Faults is a snapshot of the sticky fault flags.
type Faults struct {
	I2C     bool `yaml:"i2c"`
	Timeout bool `yaml:"timeout"`
}

// TimeoutOccurred reports whether any measurement timed out since the last
// ClearFaults.
func (d *VL53L0X) TimeoutOccurred() bool {
	return d.faults.timeout
}

// I2CFail reports whether any bus transaction failed since the last
// ClearFaults.
func (d *VL53L0X) I2CFail() bool {
	return d.faults.i2c
}

func (d *VL53L0X) Faults() Faults {
	return Faults{I2C: d.faults.i2c, Timeout: d.faults.timeout}
}

// ClearFaults resets both fault flags. Flags are never cleared otherwise.
func (d *VL53L0X) ClearFaults() {
	d.faults = faults{}
}
