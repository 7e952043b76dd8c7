// Package codec converts between capture buffers, audio event frames and
// decoded PCM samples.
package codec

import (
	"encoding/json"

	"micstream/internal/core/domain"
)

// Frame is the structured record carried in every text message.
type Frame struct {
	Headers map[string]string `json:"headers"`
	Payload *string           `json:"payload,omitempty"`
}

// IsAudioEvent reports whether the frame follows the audio event convention.
func (f *Frame) IsAudioEvent() bool {
	return f.Headers[domain.HeaderEventType] == domain.EventTypeAudio
}

// MarshalPacket renders an AudioPacket as an audio event frame.
func MarshalPacket(packet domain.AudioPacket) ([]byte, error) {
	payload := packet.Payload
	return json.Marshal(Frame{
		Headers: map[string]string{
			domain.HeaderMessageType: domain.MessageTypeEvent,
			domain.HeaderEventType:   domain.EventTypeAudio,
			domain.HeaderContentType: packet.ContentDescriptor,
		},
		Payload: &payload,
	})
}
