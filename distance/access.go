package distance

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// tx runs a single bus transaction bounded by the per-transaction timeout.
// Failures are recorded in the sticky I2C fault flag unless the caller's
// context ended.
func (d *VL53L0X) tx(ctx context.Context, w, r []byte) error {
	txCtx := ctx
	if d.config.TxTimeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, d.config.TxTimeout)
		defer cancel()
	}
	err := d.transport.Tx(txCtx, d.address, w, r)
	if err != nil {
		if ctx.Err() == nil {
			d.faults.i2c = true
		}
		return err
	}
	return nil
}

func (d *VL53L0X) write8(ctx context.Context, reg, value byte) error {
	if err := d.tx(ctx, []byte{reg, value}, nil); err != nil {
		return fmt.Errorf("vl53l0x: write reg %#02x failed: %w", reg, err)
	}
	return nil
}

func (d *VL53L0X) write16(ctx context.Context, reg byte, value uint16) error {
	buf := make([]byte, 3)
	buf[0] = reg
	binary.BigEndian.PutUint16(buf[1:], value)
	if err := d.tx(ctx, buf, nil); err != nil {
		return fmt.Errorf("vl53l0x: write reg %#02x failed: %w", reg, err)
	}
	return nil
}

func (d *VL53L0X) writeBlock(ctx context.Context, reg byte, data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, reg)
	buf = append(buf, data...)
	if err := d.tx(ctx, buf, nil); err != nil {
		return fmt.Errorf("vl53l0x: block write at reg %#02x failed: %w", reg, err)
	}
	return nil
}

func (d *VL53L0X) read8(ctx context.Context, reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := d.readBlock(ctx, reg, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// read16 returns the big endian value of two consecutive registers.
func (d *VL53L0X) read16(ctx context.Context, reg byte) (uint16, error) {
	buf := make([]byte, 2)
	if err := d.readBlock(ctx, reg, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// readBlock fills buf starting at reg. The transport acknowledges every byte
// but the last one, which terminates the transfer.
func (d *VL53L0X) readBlock(ctx context.Context, reg byte, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if err := d.tx(ctx, []byte{reg}, buf); err != nil {
		return fmt.Errorf("vl53l0x: read reg %#02x failed: %w", reg, err)
	}
	return nil
}

// writeSequence applies seq in order and stops at the first failed write.
func (d *VL53L0X) writeSequence(ctx context.Context, seq []regValue) error {
	for _, rv := range seq {
		if err := d.write8(ctx, rv.reg, rv.value); err != nil {
			return err
		}
	}
	return nil
}

// withInternalPage runs fn with the hidden register page selected. The default
// page is restored on every exit path, also when the selection itself or fn
// fails and when ctx is already done.
func (d *VL53L0X) withInternalPage(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rerr := d.writeSequence(context.WithoutCancel(ctx), pageRestore); rerr != nil {
			err = errors.Join(err, fmt.Errorf("vl53l0x: page restore failed: %w", rerr))
		}
	}()
	if err := d.writeSequence(ctx, pageSelect); err != nil {
		return err
	}
	return fn(ctx)
}
