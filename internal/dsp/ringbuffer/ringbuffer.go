// Package ringbuffer moves audio from a capture callback to an analysis loop
// without locks. Exactly one goroutine may call Push and exactly one goroutine
// may call ReadFrame.
//
// Memory ordering: Push publishes the end of the region it is about to write
// (reserved) before storing any sample, and publishes the committed end
// (written) only after every sample is stored. ReadFrame loads written before
// copying and reserved after copying. sync/atomic operations are sequentially
// consistent, so a reader that observes written = w observes every sample
// below w, and a reader whose copy saw any sample from a newer push observes
// that push's reservation. Samples are stored as float32 bits in atomic slots,
// so a racing slot yields an old or a new value and never a torn one; frames
// touched by a lapping writer are detected through reserved and discarded.
package ringbuffer

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"guitar-tuner/internal/domain"
)

// maxReadAttempts bounds how often ReadFrame retries after being lapped.
const maxReadAttempts = 3

// ErrLapped is returned when the writer overwrote the frame on every attempt.
var ErrLapped = errors.New("ring buffer writer lapped reader")

type Buffer struct {
	slots    []atomic.Uint32
	capacity uint64

	reserved atomic.Uint64
	written  atomic.Uint64

	// end of the last served frame; only the reader stores it
	consumed atomic.Uint64
	served   atomic.Bool
	dropped  atomic.Uint64
}

func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring buffer capacity must be > 0: %d", capacity)
	}
	return &Buffer{
		slots:    make([]atomic.Uint32, capacity),
		capacity: uint64(capacity),
	}, nil
}

func (b *Buffer) Capacity() int {
	return int(b.capacity)
}

// Written returns the total number of samples ever pushed.
func (b *Buffer) Written() uint64 {
	return b.written.Load()
}

// Dropped returns the number of samples that were skipped and never appeared
// in a served frame.
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}

// Push appends samples, overwriting the oldest data when full. It never
// blocks. When len(samples) exceeds the capacity only the newest capacity
// samples are stored, but the cursor advances by the full length.
func (b *Buffer) Push(samples []float32) {
	n := uint64(len(samples))
	if n == 0 {
		return
	}

	w := b.written.Load()
	end := w + n
	if n > b.capacity {
		skip := n - b.capacity
		samples = samples[skip:]
		w += skip
	}

	b.reserved.Store(end)
	for i, s := range samples {
		b.slots[(w+uint64(i))%b.capacity].Store(math.Float32bits(s))
	}
	b.written.Store(end)
}

// ReadFrame fills dst with the most recent len(dst) samples, oldest first, and
// marks them as served. hop is the number of new samples required since the
// previous frame.
//
// It returns domain.ErrInsufficientData until len(dst) samples have been
// pushed, and domain.ErrNoNewFrame while fewer than hop new samples arrived.
func (b *Buffer) ReadFrame(dst []float64, hop int) error {
	size := uint64(len(dst))
	if size == 0 || size > b.capacity {
		return fmt.Errorf("frame size %d outside (0, %d]", len(dst), b.capacity)
	}
	if hop < 1 {
		hop = 1
	}

	last := b.consumed.Load()
	for range maxReadAttempts {
		end := b.written.Load()
		if end < size {
			return domain.ErrInsufficientData
		}
		if b.served.Load() && end-last < uint64(hop) {
			return domain.ErrNoNewFrame
		}

		start := end - size
		for i := range dst {
			bits := b.slots[(start+uint64(i))%b.capacity].Load()
			dst[i] = float64(math.Float32frombits(bits))
		}

		if b.reserved.Load()-start > b.capacity {
			continue
		}

		if start > last {
			b.dropped.Add(start - last)
		}
		b.consumed.Store(end)
		b.served.Store(true)
		return nil
	}
	return ErrLapped
}
