package microphone

import (
	"context"
	"fmt"
	"os"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"

	"github.com/benbjohnson/clock"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/zap"
)

// WAVFileSource replays a PCM WAV file in real time.
type WAVFileSource struct {
	path   string
	loop   bool
	clock  clock.Clock
	logger *zap.SugaredLogger
}

// NewWAVFileSource creates a source for path. With loop set the file
// restarts when it ends; otherwise capture goes silent. clk may be nil.
func NewWAVFileSource(path string, loop bool, clk clock.Clock, logger *zap.SugaredLogger) *WAVFileSource {
	return &WAVFileSource{
		path:   path,
		loop:   loop,
		clock:  clk,
		logger: logger,
	}
}

// ProbeWAVFormat reads the format of a WAV file without decoding samples.
func ProbeWAVFormat(path string) (domain.AudioFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.AudioFormat{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return domain.AudioFormat{}, fmt.Errorf("%s is not a valid WAV file", path)
	}
	return domain.AudioFormat{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}, nil
}

func (s *WAVFileSource) Acquire(ctx context.Context, format domain.AudioFormat) (ports.MicrophoneHandle, error) {
	samples, fileFormat, err := s.load()
	if err != nil {
		return nil, err
	}
	if fileFormat.SampleRate != format.SampleRate {
		return nil, fmt.Errorf("%s is %d Hz, stream is %d Hz", s.path, fileFormat.SampleRate, format.SampleRate)
	}
	samples = remix(samples, fileFormat.Channels, format.Channels)
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s has no samples", s.path)
	}

	pos := 0
	fill := func(dst []float32) (int, bool) {
		n := 0
		for n < len(dst) {
			if pos >= len(samples) {
				if !s.loop {
					return n, false
				}
				pos = 0
			}
			c := copy(dst[n:], samples[pos:])
			n += c
			pos += c
		}
		return n, true
	}

	s.logger.Infow("wav file source acquired",
		"path", s.path,
		"frames", len(samples)/format.Channels,
		"loop", s.loop,
	)
	return newPacedHandle(s.clock, format.SampleRate, format.Channels, fill), nil
}

// load decodes the whole file into interleaved floats in [-1, 1].
func (s *WAVFileSource) load() ([]float32, domain.AudioFormat, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, domain.AudioFormat{}, fmt.Errorf("failed to open wav file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, domain.AudioFormat{}, fmt.Errorf("%s is not a valid WAV file", s.path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, domain.AudioFormat{}, fmt.Errorf("failed to decode wav file: %w", err)
	}

	format := domain.AudioFormat{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	return intToFloat(buf), format, nil
}

func intToFloat(buf *audio.IntBuffer) []float32 {
	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = 16
	}
	scale := float32(int64(1) << (depth - 1))

	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / scale
	}
	return out
}

// remix converts interleaved samples between channel counts: extra source
// channels are averaged, missing ones are copied from the mix.
func remix(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}

	frames := len(samples) / from
	out := make([]float32, frames*to)
	for f := 0; f < frames; f++ {
		var sum float32
		for ch := 0; ch < from; ch++ {
			sum += samples[f*from+ch]
		}
		mix := sum / float32(from)
		for ch := 0; ch < to; ch++ {
			if to > 1 && ch < from {
				out[f*to+ch] = samples[f*from+ch]
			} else {
				out[f*to+ch] = mix
			}
		}
	}
	return out
}
