// Package pcm streams raw interleaved PCM blocks from a reader, file or FIFO.
package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

type Encoding string

const (
	F32LE Encoding = "f32le"
	S16LE Encoding = "s16le"
)

var ErrUnknownEncoding = errors.New("unknown pcm encoding")

// ParseEncoding accepts the encoding names used by ffmpeg and parec.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32le", "float32le":
		return F32LE, nil
	case "s16le":
		return S16LE, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
}

// SampleSize is the width of one sample in bytes.
func (e Encoding) SampleSize() int {
	if e == S16LE {
		return 2
	}
	return 4
}

// Format describes the stream layout.
type Format struct {
	SampleRate  int
	Channels    int
	BlockFrames int
	Encoding    Encoding
}

func (f Format) normalized() Format {
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if f.BlockFrames <= 0 {
		f.BlockFrames = 1024
	}
	if f.Encoding == "" {
		f.Encoding = F32LE
	}
	return f
}

// BlockBytes is the byte length of one full block.
func (f Format) BlockBytes() int {
	f = f.normalized()
	return f.BlockFrames * f.Channels * f.Encoding.SampleSize()
}

// Decode appends the samples in b to dst as floats in [-1, 1]. Trailing bytes
// that do not form a whole sample are ignored.
func Decode(dst []float64, b []byte, enc Encoding) []float64 {
	size := enc.SampleSize()
	for i := 0; i+size <= len(b); i += size {
		switch enc {
		case S16LE:
			dst = append(dst, float64(int16(binary.LittleEndian.Uint16(b[i:])))/32768)
		default:
			dst = append(dst, float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i:]))))
		}
	}
	return dst
}
