package console

import "github.com/fatih/color"

var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
	Faint  = color.New(color.Faint).SprintFunc()
)

// distance bands, in mm
const (
	nearLimit = 100
	farLimit  = 1200
)

var (
	near   = color.New(color.FgHiRed, color.Bold)
	inView = color.New(color.FgGreen)
	far    = color.New(color.FgCyan)
)

// Distance colors a reading by how close the target is.
func Distance(mm uint16) string {
	return distanceColor(mm).Sprint(mm)
}

func distanceColor(mm uint16) *color.Color {
	switch {
	case mm < nearLimit:
		return near
	case mm < farLimit:
		return inView
	default:
		return far
	}
}
