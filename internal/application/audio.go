package application

import "context"

// SampleSink receives captured mono samples. Implementations must not block.
type SampleSink interface {
	Push(samples []float32)
}

// AudioSource is a capture collaborator. Start begins delivering samples to
// sink from the source's own goroutine or callback and returns once capture
// is running. Sources that cannot open their device wrap
// domain.ErrDeviceUnavailable.
type AudioSource interface {
	Start(ctx context.Context, sink SampleSink) error
	Stop() error
	Name() string
}

// FiniteSource is implemented by sources that end on their own, such as a
// file. Wait blocks until the source has delivered everything or ctx is done.
type FiniteSource interface {
	Wait(ctx context.Context) error
}
