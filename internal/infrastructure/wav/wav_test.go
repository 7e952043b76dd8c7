package wav

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"micstream/internal/core/domain"

	gowav "github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mono16k = domain.AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 16}

func TestHeader_Layout(t *testing.T) {
	data, err := NewHeader(domain.AudioFormat{SampleRate: 44100, Channels: 2, BitDepth: 16}, 1000).MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, HeaderSize)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(1036), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(data[16:20]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[20:22]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(data[22:24]))
	assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint32(176400), binary.LittleEndian.Uint32(data[28:32]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(data[32:34]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, uint32(1000), binary.LittleEndian.Uint32(data[40:44]))

	h, err := ParseHeader(data)
	require.NoError(t, err)
	assert.Equal(t, 44100, h.StreamFormat().SampleRate)
}

func TestParseHeader_Rejects(t *testing.T) {
	_, err := ParseHeader([]byte("RIFF"))
	assert.Error(t, err)

	data, err := NewHeader(mono16k, 0).MarshalBinary()
	require.NoError(t, err)
	copy(data[8:12], "AVI ")
	_, err = ParseHeader(data)
	assert.Error(t, err)
}

func placeholder(t *testing.T) []byte {
	t.Helper()
	data, err := NewHeader(mono16k, 0).MarshalBinary()
	require.NoError(t, err)
	return data
}

func TestFileSink_WritesHeaderOnceThenData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	var mu sync.Mutex
	released := 0
	sink, err := OpenFileSink(path, SinkOptions{
		Header: placeholder(t),
		Release: func([]byte) {
			mu.Lock()
			released++
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	_, err = sink.Write([]byte{1, 0, 2, 0})
	require.NoError(t, err)
	_, err = sink.Write([]byte{3, 0})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, HeaderSize+6)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0}, data[HeaderSize:])
	assert.Equal(t, int64(6), sink.Written())

	mu.Lock()
	assert.Equal(t, 2, released)
	mu.Unlock()

	_, err = sink.Write([]byte{4, 0})
	assert.ErrorIs(t, err, domain.ErrSinkClosed)
}

func TestFileSink_ReportsSaturationAndDrains(t *testing.T) {
	sink, err := OpenFileSink(filepath.Join(t.TempDir(), "out.wav"), SinkOptions{HighWaterMark: 4})
	require.NoError(t, err)
	defer sink.Close()

	saturated, err := sink.Write(make([]byte, 8))
	require.NoError(t, err)
	assert.True(t, saturated)

	select {
	case <-sink.Drain():
	case <-time.After(2 * time.Second):
		t.Fatal("sink never drained")
	}
	assert.Less(t, sink.Queued(), 4)

	saturated, err = sink.Write(make([]byte, 2))
	require.NoError(t, err)
	assert.False(t, saturated)
}

func TestFileSink_OpenFailure(t *testing.T) {
	_, err := OpenFileSink(filepath.Join(t.TempDir(), "missing", "out.wav"), SinkOptions{})
	assert.Error(t, err)
}

func TestFinalize_EmptyRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	sink, err := OpenFileSink(path, SinkOptions{Header: placeholder(t)})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	res, err := Finalize(path, mono16k)
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Equal(t, int64(HeaderSize), res.FileSize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize), info.Size())
}

func TestFinalize_PatchesSizesAndFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	sink, err := OpenFileSink(path, SinkOptions{Header: placeholder(t)})
	require.NoError(t, err)

	samples := []int16{0, 1000, -1000, 32767, -32768, 42}
	buf := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s))
	}
	_, err = sink.Write(buf)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	// the session format differs from the placeholder default
	stereo := domain.AudioFormat{SampleRate: 8000, Channels: 2, BitDepth: 16}
	res, err := Finalize(path, stereo)
	require.NoError(t, err)
	assert.False(t, res.Empty)
	assert.Equal(t, int64(12), res.DataSize)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := gowav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	pcm, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, uint32(8000), dec.SampleRate)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)

	got := make([]int16, len(pcm.Data))
	for i, v := range pcm.Data {
		got[i] = int16(v)
	}
	assert.Equal(t, samples, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(36+12), binary.LittleEndian.Uint32(raw[4:8]))
	assert.Equal(t, uint32(12), binary.LittleEndian.Uint32(raw[40:44]))
}

func TestFinalize_MissingFile(t *testing.T) {
	_, err := Finalize(filepath.Join(t.TempDir(), "nope.wav"), mono16k)
	assert.ErrorIs(t, err, domain.ErrFinalizeIO)
}
