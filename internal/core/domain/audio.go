package domain

import (
	"fmt"
	"time"
)

// Frame header names and values of the audio event convention.
const (
	HeaderMessageType = ":message-type"
	HeaderEventType   = ":event-type"
	HeaderContentType = ":content-type"

	MessageTypeEvent = "event"
	EventTypeAudio   = "AudioEvent"
	ContentTypePCM   = "audio/pcm"
)

// PCM16 is the only sample encoding carried on the wire and on disk.
const PCM16 = 16

type AudioFormat struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

func (f AudioFormat) BytesPerSample() int {
	return f.BitDepth / 8
}

func (f AudioFormat) BlockAlign() int {
	return f.Channels * f.BytesPerSample()
}

func (f AudioFormat) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// ContentType renders the descriptor carried in every audio frame.
func (f AudioFormat) ContentType() string {
	return fmt.Sprintf("%s;rate=%d;channels=%d", ContentTypePCM, f.SampleRate, f.Channels)
}

func (f AudioFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}
	if f.BitDepth != PCM16 {
		return fmt.Errorf("unsupported bit depth %d (only 16-bit PCM)", f.BitDepth)
	}
	return nil
}

// AudioPacket is one framed capture buffer. It is built once by the framer
// and consumed once by the send path.
type AudioPacket struct {
	ContentDescriptor string
	Payload           string // base64 of little-endian int16 samples
}

// DecodedAudio is what the server recovers from one inbound frame.
type DecodedAudio struct {
	Samples    []int16
	SampleRate int
	Channels   int
	BitDepth   int
	ReceivedAt time.Time
}

func (d *DecodedAudio) Format() AudioFormat {
	return AudioFormat{SampleRate: d.SampleRate, Channels: d.Channels, BitDepth: d.BitDepth}
}
