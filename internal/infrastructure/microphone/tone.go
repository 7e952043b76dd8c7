package microphone

import (
	"context"
	"fmt"
	"math"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ToneSource generates a sine wave on every channel.
type ToneSource struct {
	Frequency float64
	Amplitude float64 // peak, in [0, 1]

	clock  clock.Clock
	logger *zap.SugaredLogger
}

// NewToneSource creates a 440 Hz tone at half scale. clk may be nil.
func NewToneSource(clk clock.Clock, logger *zap.SugaredLogger) *ToneSource {
	return &ToneSource{
		Frequency: 440,
		Amplitude: 0.5,
		clock:     clk,
		logger:    logger,
	}
}

func (s *ToneSource) Acquire(ctx context.Context, format domain.AudioFormat) (ports.MicrophoneHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("tone source: %w", err)
	}

	step := 2 * math.Pi * s.Frequency / float64(format.SampleRate)
	amplitude := s.Amplitude
	phase := 0.0

	fill := func(dst []float32) (int, bool) {
		for i := 0; i+format.Channels <= len(dst); i += format.Channels {
			v := float32(amplitude * math.Sin(phase))
			for ch := 0; ch < format.Channels; ch++ {
				dst[i+ch] = v
			}
			phase += step
			if phase >= 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}
		return len(dst), true
	}

	s.logger.Infow("tone source acquired",
		"frequency", s.Frequency,
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
	)
	return newPacedHandle(s.clock, format.SampleRate, format.Channels, fill), nil
}
