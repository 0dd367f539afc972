package gpio

import "context"

// Line is a single digital output, e.g. a sensor shutdown (XSHUT) pin.
type Line interface {
	Set(ctx context.Context, high bool) error
}
