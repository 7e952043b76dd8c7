// Package wav writes canonical 44-byte-header PCM WAV files incrementally.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"micstream/internal/core/domain"
)

// HeaderSize is the size of the canonical PCM header.
const HeaderSize = 44

const pcmFormat = 1

// Header is the on-disk layout of a canonical PCM WAV header.
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// NewHeader builds the header for dataSize bytes of samples in format.
func NewHeader(format domain.AudioFormat, dataSize int64) Header {
	if dataSize < 0 {
		dataSize = 0
	}
	if dataSize > math.MaxUint32-36 {
		dataSize = math.MaxUint32 - 36
	}
	return Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   pcmFormat,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.ByteRate()),
		BlockAlign:    uint16(format.BlockAlign()),
		BitsPerSample: uint16(format.BitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

func (h Header) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("failed to encode WAV header: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseHeader decodes and validates a canonical PCM header.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("WAV header too short: need %d bytes, got %d", HeaderSize, len(data))
	}
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(h.ChunkID[:]) != "RIFF":
		return h, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(h.Format[:]) != "WAVE":
		return h, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(h.Subchunk1ID[:]) != "fmt ":
		return h, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(h.Subchunk2ID[:]) != "data":
		return h, fmt.Errorf("invalid WAV file: missing data chunk")
	case h.AudioFormat != pcmFormat:
		return h, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", h.AudioFormat)
	}
	return h, nil
}

// StreamFormat returns the sample format described by the header.
func (h Header) StreamFormat() domain.AudioFormat {
	return domain.AudioFormat{
		SampleRate: int(h.SampleRate),
		Channels:   int(h.NumChannels),
		BitDepth:   int(h.BitsPerSample),
	}
}
