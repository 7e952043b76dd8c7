package wav

import (
	"micstream/internal/core/domain"
	"micstream/internal/core/ports"
)

// Store creates WAV recordings backed by FileSink.
type Store struct {
	HighWaterMark int
}

func NewStore(highWaterMark int) *Store {
	return &Store{HighWaterMark: highWaterMark}
}

func (s *Store) Create(path string, format domain.AudioFormat, release func([]byte)) (ports.RecordingWriter, error) {
	header, err := NewHeader(format, 0).MarshalBinary()
	if err != nil {
		return nil, err
	}
	return OpenFileSink(path, SinkOptions{
		HighWaterMark: s.HighWaterMark,
		Header:        header,
		Release:       release,
	})
}

func (s *Store) Finalize(path string, format domain.AudioFormat) (domain.FinalizeResult, error) {
	return Finalize(path, format)
}
