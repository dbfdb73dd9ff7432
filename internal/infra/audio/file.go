package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"guitar-tuner/internal/application"
)

// FileSource plays a WAV file into the sink at its own sample rate, one
// buffer per buffer period.
type FileSource struct {
	path            string
	sampleRate      int
	framesPerBuffer int
	loop            bool
	interval        time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	file   *os.File
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type FileOption func(*FileSource)

func WithLoop(loop bool) FileOption {
	return func(f *FileSource) {
		f.loop = loop
	}
}

// WithBufferInterval overrides the real-time pacing. Zero plays as fast as
// the sink accepts samples.
func WithBufferInterval(d time.Duration) FileOption {
	return func(f *FileSource) {
		f.interval = d
	}
}

func NewFileSource(path string, sampleRate, framesPerBuffer int, logger *slog.Logger, opts ...FileOption) *FileSource {
	f := &FileSource{
		path:            path,
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		interval:        time.Duration(float64(framesPerBuffer) / float64(sampleRate) * float64(time.Second)),
		logger:          logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FileSource) Name() string {
	return "file"
}

func (f *FileSource) Start(ctx context.Context, sink application.SampleSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done != nil {
		return nil
	}

	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.path, err)
	}

	dec, err := f.openDecoder(file)
	if err != nil {
		file.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	f.file = file
	f.cancel = cancel
	done := make(chan struct{})
	f.done = done

	f.logger.Info("playing wav file",
		"path", f.path,
		"sample_rate", dec.SampleRate,
		"channels", dec.NumChans,
		"bit_depth", dec.BitDepth,
		"loop", f.loop,
	)

	go func() {
		defer close(done)
		err := f.play(ctx, file, dec, sink)
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
	}()
	return nil
}

func (f *FileSource) openDecoder(r io.ReadSeeker) (*wav.Decoder, error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid WAV file", f.path)
	}
	if int(dec.SampleRate) != f.sampleRate {
		return nil, fmt.Errorf("%s: sample rate %d does not match %d", f.path, dec.SampleRate, f.sampleRate)
	}
	if dec.NumChans == 0 {
		return nil, fmt.Errorf("%s: no channels", f.path)
	}
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%s: unsupported bit depth %d", f.path, dec.BitDepth)
	}
	return dec, nil
}

func (f *FileSource) play(ctx context.Context, file *os.File, dec *wav.Decoder, sink application.SampleSink) error {
	var tick <-chan time.Time
	if f.interval > 0 {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	channels := int(dec.NumChans)
	buf := &goaudio.IntBuffer{
		Data:   make([]int, f.framesPerBuffer*channels),
		Format: &goaudio.Format{SampleRate: f.sampleRate, NumChannels: channels},
	}
	mono := make([]float32, f.framesPerBuffer)
	played := false

	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decoding %s: %w", f.path, err)
		}

		if n == 0 {
			if !f.loop {
				return nil
			}
			if !played {
				return fmt.Errorf("%s has no samples to loop", f.path)
			}
			played = false
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewinding %s: %w", f.path, err)
			}
			if dec, err = f.openDecoder(file); err != nil {
				return err
			}
			continue
		}

		frames := downmix(mono, buf.Data[:n], channels, int(dec.BitDepth))

		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}
		sink.Push(mono[:frames])
		played = true
	}
}

// downmix averages interleaved integer samples into dst scaled to [-1, 1)
// and returns the number of frames written.
func downmix(dst []float32, data []int, channels, bitDepth int) int {
	scale := float32(int64(1) << (bitDepth - 1))
	frames := len(data) / channels
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			v := data[i*channels+c]
			if bitDepth == 8 {
				v -= 128
			}
			sum += float32(v)
		}
		dst[i] = sum / float32(channels) / scale
	}
	return frames
}

func (f *FileSource) Wait(ctx context.Context) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	if done == nil {
		return errors.New("file source not started")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *FileSource) Stop() error {
	f.mu.Lock()
	cancel, done, file := f.cancel, f.done, f.file
	f.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancel, f.done, f.file = nil, nil, nil
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", f.path, err)
	}
	return nil
}
