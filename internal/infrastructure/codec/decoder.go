package codec

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"micstream/internal/core/domain"
	"micstream/pkg/utils"

	"go.uber.org/zap"
)

// ErrNotAudio marks a well-formed record that is not an audio event.
var ErrNotAudio = errors.New("not an audio event")

// Frame outcomes reported to the FrameObserver.
const (
	OutcomeAudio     = "audio"
	OutcomeMalformed = "malformed"
	OutcomeIgnored   = "ignored"
)

var (
	rateRe     = regexp.MustCompile(`rate=(\d+)`)
	channelsRe = regexp.MustCompile(`channels=(\d+)`)
)

// FrameObserver is told the outcome of every decoded frame.
type FrameObserver interface {
	RecordFrame(outcome string)
}

type Decoder struct {
	defaults domain.AudioFormat
	observer FrameObserver
	logger   *zap.SugaredLogger
}

// NewDecoder returns a decoder that falls back to defaults when a frame's
// content type omits the rate or channel count. observer may be nil.
func NewDecoder(defaults domain.AudioFormat, observer FrameObserver, logger *zap.SugaredLogger) *Decoder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Decoder{
		defaults: defaults,
		observer: observer,
		logger:   logger,
	}
}

// Decode returns the samples carried by raw, or nil when raw is not a valid
// audio event. It never fails the caller.
func (d *Decoder) Decode(raw []byte) *domain.DecodedAudio {
	audio, err := d.Parse(raw)
	switch {
	case err == nil:
		d.observe(OutcomeAudio)
		return audio
	case errors.Is(err, ErrNotAudio):
		d.observe(OutcomeIgnored)
		d.logger.Debugw("ignoring non-audio frame", "error", err, "size", len(raw))
	default:
		d.observe(OutcomeMalformed)
		d.logger.Warnw("discarding malformed frame", "error", err, "size", len(raw))
	}
	return nil
}

// Parse is Decode with the reason for rejection.
func (d *Decoder) Parse(raw []byte) (*domain.DecodedAudio, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	if !frame.IsAudioEvent() {
		return nil, fmt.Errorf("%w: event type %q", ErrNotAudio, frame.Headers[domain.HeaderEventType])
	}
	if frame.Payload == nil {
		return nil, fmt.Errorf("%w: audio event without payload", domain.ErrMalformedFrame)
	}

	contentType := frame.Headers[domain.HeaderContentType]
	sampleRate := extractInt(rateRe, contentType, d.defaults.SampleRate)
	channels := extractInt(channelsRe, contentType, d.defaults.Channels)

	data, err := base64.StdEncoding.DecodeString(*frame.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64: %v", domain.ErrMalformedFrame, err)
	}

	return &domain.DecodedAudio{
		Samples:    PCM16FromLE(data),
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   domain.PCM16,
		ReceivedAt: utils.Now(),
	}, nil
}

// PCM16FromLE reads consecutive little-endian byte pairs as int16 samples.
// A trailing odd byte is dropped.
func PCM16FromLE(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

func extractInt(re *regexp.Regexp, s string, fallback int) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return fallback
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func (d *Decoder) observe(outcome string) {
	if d.observer != nil {
		d.observer.RecordFrame(outcome)
	}
}
