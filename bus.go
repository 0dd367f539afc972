package tof

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// Transactor performs a single addressed transaction: w is written first and,
// when r is not empty, a repeated start is issued and len(r) bytes are read back.
// The context deadline bounds the whole transaction.
type Transactor interface {
	Tx(ctx context.Context, address byte, w, r []byte) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
	Transactor
}
