package wav

import (
	"fmt"
	"os"

	"micstream/internal/core/domain"
)

// Finalize rewrites the header of a fully flushed file so its size fields
// match the bytes on disk. A file holding only the placeholder header is an
// empty recording and is left untouched.
func Finalize(path string, format domain.AudioFormat) (domain.FinalizeResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.FinalizeResult{}, fmt.Errorf("%w: stat %s: %v", domain.ErrFinalizeIO, path, err)
	}

	size := info.Size()
	if size <= HeaderSize {
		return domain.FinalizeResult{FileSize: size, Empty: true}, nil
	}

	dataSize := size - HeaderSize
	header, err := NewHeader(format, dataSize).MarshalBinary()
	if err != nil {
		return domain.FinalizeResult{}, fmt.Errorf("%w: %v", domain.ErrFinalizeIO, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return domain.FinalizeResult{}, fmt.Errorf("%w: open %s: %v", domain.ErrFinalizeIO, path, err)
	}
	if _, err := f.WriteAt(header, 0); err != nil {
		f.Close()
		return domain.FinalizeResult{}, fmt.Errorf("%w: patch header: %v", domain.ErrFinalizeIO, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return domain.FinalizeResult{}, fmt.Errorf("%w: sync: %v", domain.ErrFinalizeIO, err)
	}
	if err := f.Close(); err != nil {
		return domain.FinalizeResult{}, fmt.Errorf("%w: close: %v", domain.ErrFinalizeIO, err)
	}

	return domain.FinalizeResult{FileSize: size, DataSize: dataSize}, nil
}
