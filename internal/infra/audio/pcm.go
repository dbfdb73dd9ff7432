package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// Encoding is a raw little-endian PCM sample layout.
type Encoding string

const (
	EncodingS16LE Encoding = "s16le"
	EncodingF32LE Encoding = "f32le"
)

func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncodingS16LE:
		return EncodingS16LE, nil
	case EncodingF32LE:
		return EncodingF32LE, nil
	default:
		return "", fmt.Errorf("unsupported pcm encoding %q", s)
	}
}

func (e Encoding) BytesPerSample() int {
	if e == EncodingF32LE {
		return 4
	}
	return 2
}

// decodeF32LE reuses dst for the float32 samples in b. Trailing partial
// samples are dropped.
func decodeF32LE(dst []float32, b []byte) []float32 {
	n := len(b) / 4
	dst = grow(dst, n)
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return dst
}

// decodeS16LE scales signed 16-bit samples into [-1, 1).
func decodeS16LE(dst []float32, b []byte) []float32 {
	n := len(b) / 2
	dst = grow(dst, n)
	for i := range dst {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
	}
	return dst
}

func grow(dst []float32, n int) []float32 {
	if cap(dst) < n {
		return make([]float32, n)
	}
	return dst[:n]
}

// streamPCM reads r in chunks of chunkSamples, decodes each and passes it to
// fn. A partial sample left over between reads is carried to the next chunk.
// It returns the number of samples delivered.
func streamPCM(r io.Reader, enc Encoding, chunkSamples int, fn func([]float32)) (int, error) {
	width := enc.BytesPerSample()
	raw := make([]byte, chunkSamples*width)
	var samples []float32
	pending := 0
	total := 0

	for {
		n, err := r.Read(raw[pending:])
		pending += n

		whole := pending - pending%width
		if whole > 0 {
			if enc == EncodingF32LE {
				samples = decodeF32LE(samples, raw[:whole])
			} else {
				samples = decodeS16LE(samples, raw[:whole])
			}
			fn(samples)
			total += len(samples)
			pending = copy(raw, raw[whole:pending])
		}

		if errors.Is(err, io.EOF) {
			if pending != 0 {
				return total, fmt.Errorf("body ends with a partial %d-byte sample", width)
			}
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("reading pcm: %w", err)
		}
	}
}
