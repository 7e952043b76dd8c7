package codec

import (
	"encoding/base64"
	"encoding/binary"
	"math"

	"micstream/internal/core/domain"
	"micstream/pkg/optimize"
)

// FloatToPCM16 clamps each sample to [-1, 1] and scales it to int16. The
// negative side scales by 32768 and the positive side by 32767.
func FloatToPCM16(samples []float32, dst []int16) []int16 {
	dst = optimize.GrowSlice(dst[:0], len(samples))

	for i, s := range samples {
		v := float64(s)
		switch {
		case math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		if v < 0 {
			dst[i] = int16(math.Round(v * 32768))
		} else {
			dst[i] = int16(math.Round(v * 32767))
		}
	}
	return dst
}

// PCM16ToFloat is the inverse scaling of FloatToPCM16.
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		if s < 0 {
			out[i] = float32(float64(s) / 32768)
		} else {
			out[i] = float32(float64(s) / 32767)
		}
	}
	return out
}

// AppendPCM16LE appends samples to dst as little-endian int16.
func AppendPCM16LE(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// Framer turns capture buffers into marshalled audio event frames.
type Framer struct {
	format  domain.AudioFormat
	samples []int16
	bytes   *optimize.BytePool
}

func NewFramer(format domain.AudioFormat, framesPerBuffer int) *Framer {
	size := framesPerBuffer * format.Channels * 2
	if size <= 0 {
		size = 4096 * 2
	}
	return &Framer{
		format: format,
		bytes:  optimize.NewBytePool(size),
	}
}

func (f *Framer) Format() domain.AudioFormat {
	return f.format
}

// Packet builds the immutable AudioPacket for one capture buffer.
func (f *Framer) Packet(samples []float32) domain.AudioPacket {
	f.samples = FloatToPCM16(samples, f.samples)

	buf := f.bytes.Get()
	raw := AppendPCM16LE(buf[:0], f.samples)
	payload := base64.StdEncoding.EncodeToString(raw)
	f.bytes.Put(raw)

	return domain.AudioPacket{
		ContentDescriptor: f.format.ContentType(),
		Payload:           payload,
	}
}

// Frame builds and marshals the packet for one capture buffer.
func (f *Framer) Frame(samples []float32) ([]byte, error) {
	return MarshalPacket(f.Packet(samples))
}
