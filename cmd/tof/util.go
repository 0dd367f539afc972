package main

import (
	"context"
	"fmt"
	"time"
)

func hexByte(b byte) string {
	return fmt.Sprintf("%#02x", b)
}

// detached returns a short lived context that survives cancellation of parent.
func detached(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), time.Second)
}
