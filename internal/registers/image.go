package registers

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrIllegalAddress reports a read or write that falls outside a bank.
	ErrIllegalAddress = errors.New("illegal data address")
)

// Snapshot is one consistent view of both banks. Readers never see a
// holding bank from one tick next to the heartbeat of another.
type Snapshot struct {
	Holding Bank
	Input   [InputCount]uint16
	Tick    uint64
}

// Image is the register image shared between the publisher and protocol
// clients. Publish is the only writer of telemetry. Client writes are
// accepted and discarded unless the image was built writable (lab mode).
type Image struct {
	writable  bool
	cur       atomic.Pointer[Snapshot]
	discarded atomic.Uint64
}

// Options controls image capabilities.
type Options struct {
	// Writable lets protocol clients overwrite holding registers until the
	// next Publish. Off by default.
	Writable bool
}

func NewImage(opts Options) *Image {
	img := &Image{writable: opts.Writable}
	img.cur.Store(&Snapshot{})
	return img
}

// Writable reports whether client writes reach the image.
func (img *Image) Writable() bool { return img.writable }

// Snapshot returns the current view. The returned value is a copy.
func (img *Image) Snapshot() Snapshot {
	return *img.cur.Load()
}

// Publish replaces both banks at once.
func (img *Image) Publish(holding Bank, heartbeat uint16, tick uint64) {
	s := &Snapshot{Holding: holding, Tick: tick}
	s.Input[HeartbeatAddr] = heartbeat
	img.cur.Store(s)
}

func checkRange(addr, qty uint16, size int) error {
	if qty == 0 || int(addr)+int(qty) > size {
		return fmt.Errorf("%w: addr=%d qty=%d size=%d", ErrIllegalAddress, addr, qty, size)
	}
	return nil
}

func (img *Image) ReadHolding(addr, qty uint16) ([]uint16, error) {
	if err := checkRange(addr, qty, HoldingCount); err != nil {
		return nil, err
	}
	s := img.cur.Load()
	out := make([]uint16, qty)
	copy(out, s.Holding[addr:int(addr)+int(qty)])
	return out, nil
}

func (img *Image) ReadInput(addr, qty uint16) ([]uint16, error) {
	if err := checkRange(addr, qty, InputCount); err != nil {
		return nil, err
	}
	s := img.cur.Load()
	out := make([]uint16, qty)
	copy(out, s.Input[addr:int(addr)+int(qty)])
	return out, nil
}

// WriteHolding handles a client write. It returns applied=false when the
// write was accepted but dropped.
func (img *Image) WriteHolding(addr uint16, values []uint16) (applied bool, err error) {
	if err := checkRange(addr, uint16(len(values)), HoldingCount); err != nil {
		return false, err
	}
	if !img.writable {
		img.discarded.Add(1)
		return false, nil
	}
	for {
		old := img.cur.Load()
		next := *old
		copy(next.Holding[addr:], values)
		if img.cur.CompareAndSwap(old, &next) {
			return true, nil
		}
	}
}

// Discarded counts writes dropped by a read-only image.
func (img *Image) Discarded() uint64 { return img.discarded.Load() }
