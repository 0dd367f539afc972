package distance

// VL53L0X register map. ST does not publish a full map; addresses follow the
// ones used by the vendor API and the Pololu port of it.
const (
	regSysrangeStart                byte = 0x00
	regSystemIntermeasurementPeriod byte = 0x04
	regSystemInterruptClear         byte = 0x0B
	regResultInterruptStatus        byte = 0x13
	regResultRangeStatus            byte = 0x14
	regResultRangeVal               byte = 0x1E
	regPowerManagement              byte = 0x80
	regI2CStandardMode              byte = 0x88
	regI2CSlaveDeviceAddress        byte = 0x8A
	regStopVariable                 byte = 0x91
	regIdentificationModelID        byte = 0xC0
	regIdentificationRevisionID     byte = 0xC2
	regOscCalibrateVal              byte = 0xF8
	regPageSelect                   byte = 0xFF
)

// SYSRANGE_START values
const (
	sysrangeStop       byte = 0x00
	sysrangeSingleShot byte = 0x01
	sysrangeBackToBack byte = 0x02
	sysrangeTimed      byte = 0x04
)

// calibration mode bytes OR-ed into SYSRANGE_START during bring-up
const (
	calibrationVHV   byte = 0x40
	calibrationPhase byte = 0x00
)

const (
	modelID byte = 0xEE

	interruptStatusMask byte = 0x07
	rangeStatusReady    byte = 0x01
	interruptClear      byte = 0x01
)

type regValue struct {
	reg   byte
	value byte
}

// internal page selection used around every access to hidden registers
var (
	pageSelect  = []regValue{{regPowerManagement, 0x01}, {regPageSelect, 0x01}, {regSysrangeStart, 0x00}}
	pageRestore = []regValue{{regSysrangeStart, 0x01}, {regPageSelect, 0x00}, {regPowerManagement, 0x00}}
)

// tuningSettings returns the default tuning table in the order it has to be
// applied. A fresh slice is returned on every call so no caller can alter the
// table seen by another sensor instance.
func tuningSettings() []regValue {
	return []regValue{
		{0xFF, 0x01}, {0x00, 0x00},
		{0xFF, 0x00}, {0x09, 0x00},
		{0x10, 0x00}, {0x11, 0x00},
		{0x24, 0x01}, {0x25, 0xFF},
		{0x75, 0x00},
		{0xFF, 0x01}, {0x4E, 0x00},
		{0x4F, 0x64},
		{0xFF, 0x00},
		// leave the hidden page deselected before calibration
		{0xFF, 0x01}, {0x00, 0x01},
		{0xFF, 0x00},
	}
}
