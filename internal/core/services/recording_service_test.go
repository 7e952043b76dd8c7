package services

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"
	"micstream/internal/infrastructure/repositories/memory"
	"micstream/internal/infrastructure/wav"

	"github.com/benbjohnson/clock"
	gowav "github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var defaultRecordingFormat = domain.AudioFormat{SampleRate: 44100, Channels: 1, BitDepth: 16}

type recorderFixture struct {
	svc   *RecordingService
	repo  ports.RecordingRepository
	clock *clock.Mock
	dir   string
}

func newRecorder(t *testing.T, store ports.RecordingStore, archiver ports.Archiver) *recorderFixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "recordings")
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	repo := memory.NewMemoryRecordingRepository()
	if store == nil {
		store = wav.NewStore(wav.DefaultHighWaterMark)
	}

	svc := NewRecordingService(RecordingServiceConfig{
		Directory:     dir,
		DefaultFormat: defaultRecordingFormat,
	}, store, repo, archiver, nil, mock, zaptest.NewLogger(t).Sugar())
	t.Cleanup(svc.Wait)

	return &recorderFixture{svc: svc, repo: repo, clock: mock, dir: dir}
}

func packet(format domain.AudioFormat, samples ...int16) *domain.DecodedAudio {
	return &domain.DecodedAudio{
		Samples:    samples,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		BitDepth:   16,
	}
}

func ramp(n int, offset int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = offset + int16(i)
	}
	return out
}

func TestRecordingService_StartWritesPlaceholderHeader(t *testing.T) {
	f := newRecorder(t, nil, nil)

	res, err := f.svc.Start(context.Background(), true)
	require.NoError(t, err)
	require.True(t, res.Started)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, filepath.Join(f.dir, "recording-2024-06-01T12-00-00-000Z.wav"), res.FilePath)

	status := f.svc.Status()
	assert.True(t, status.IsRecording)
	assert.Equal(t, res.FilePath, status.FilePath)

	require.Eventually(t, func() bool {
		info, err := os.Stat(res.FilePath)
		return err == nil && info.Size() == wav.HeaderSize
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRecordingService_RecordsPacketsAndFinalizes(t *testing.T) {
	f := newRecorder(t, nil, nil)
	ctx := context.Background()
	stereo := domain.AudioFormat{SampleRate: 22050, Channels: 2, BitDepth: 16}

	res, err := f.svc.Start(ctx, true)
	require.NoError(t, err)

	const packets, samplesPerPacket = 3, 100
	var want []int16
	for i := 0; i < packets; i++ {
		samples := ramp(samplesPerPacket, int16(i*1000-1500))
		want = append(want, samples...)
		require.NoError(t, f.svc.WritePacket(ctx, packet(stereo, samples...)))
	}

	status := f.svc.Status()
	assert.Equal(t, uint64(packets), status.PacketsWritten)
	assert.Equal(t, uint64(2*packets*samplesPerPacket), status.BytesWritten)

	f.clock.Add(1500 * time.Millisecond)
	summary, err := f.svc.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.False(t, summary.Empty)
	assert.Equal(t, uint64(packets), summary.Packets)
	assert.Equal(t, int64(2*packets*samplesPerPacket), summary.DataSize)
	assert.Equal(t, int64(wav.HeaderSize+2*packets*samplesPerPacket), summary.FileSize)
	assert.Equal(t, 1500*time.Millisecond, summary.Duration)
	assert.Equal(t, stereo, summary.Format)
	assert.False(t, f.svc.Status().IsRecording)

	raw, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, uint32(36+2*packets*samplesPerPacket), binary.LittleEndian.Uint32(raw[4:8]))
	assert.Equal(t, uint32(2*packets*samplesPerPacket), binary.LittleEndian.Uint32(raw[40:44]))

	file, err := os.Open(res.FilePath)
	require.NoError(t, err)
	defer file.Close()

	dec := gowav.NewDecoder(file)
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(22050), dec.SampleRate)
	assert.Equal(t, uint16(2), dec.NumChans)

	pcm, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	got := make([]int16, len(pcm.Data))
	for i, v := range pcm.Data {
		got[i] = int16(v)
	}
	assert.Equal(t, want, got)

	cataloged, err := f.repo.GetByID(ctx, summary.ID)
	require.NoError(t, err)
	assert.Equal(t, res.FilePath, cataloged.FilePath)
}

func TestRecordingService_StartWhileActiveIsRefused(t *testing.T) {
	f := newRecorder(t, nil, nil)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, true)
	require.NoError(t, err)
	require.NoError(t, f.svc.WritePacket(ctx, packet(defaultRecordingFormat, 1, 2, 3)))
	before := f.svc.Status()

	second, err := f.svc.Start(ctx, true)
	require.NoError(t, err)
	assert.False(t, second.Started)
	assert.Equal(t, domain.ErrWriterBusy.Error(), second.Reason)

	after := f.svc.Status()
	assert.Equal(t, before, after)
	assert.Equal(t, first.FilePath, after.FilePath)
}

func TestRecordingService_StartRefusedWhenNotAccepting(t *testing.T) {
	f := newRecorder(t, nil, nil)

	res, err := f.svc.Start(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, res.Started)
	assert.Equal(t, domain.ErrNotAccepting.Error(), res.Reason)
	assert.False(t, f.svc.Status().IsRecording)
}

func TestRecordingService_StopWithoutPacketsKeepsEmptyFile(t *testing.T) {
	f := newRecorder(t, nil, nil)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, true)
	require.NoError(t, err)

	summary, err := f.svc.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.True(t, summary.Empty)
	assert.Equal(t, int64(wav.HeaderSize), summary.FileSize)

	info, err := os.Stat(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, int64(wav.HeaderSize), info.Size())
}

func TestRecordingService_StopIsIdempotent(t *testing.T) {
	f := newRecorder(t, nil, nil)

	summary, err := f.svc.Stop(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, summary)

	_, err = f.svc.Start(context.Background(), true)
	require.NoError(t, err)
	_, err = f.svc.Stop(context.Background())
	require.NoError(t, err)

	summary, err = f.svc.Stop(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, summary)
}

func TestRecordingService_WriteWithoutSessionIsNoOp(t *testing.T) {
	f := newRecorder(t, nil, nil)

	assert.NoError(t, f.svc.WritePacket(context.Background(), packet(defaultRecordingFormat, 1, 2)))
	assert.NoError(t, f.svc.WritePacket(context.Background(), nil))
	assert.Equal(t, domain.RecordingStatus{}, f.svc.Status())
}

func TestRecordingService_SmallHighWaterMarkKeepsEveryPacket(t *testing.T) {
	f := newRecorder(t, wav.NewStore(2), nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, true)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.NoError(t, f.svc.WritePacket(ctx, packet(defaultRecordingFormat, ramp(64, 0)...)))
	}

	summary, err := f.svc.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), summary.Packets)
	assert.Equal(t, int64(50*64*2), summary.DataSize)
}

func TestRecordingService_NewSessionAfterStop(t *testing.T) {
	f := newRecorder(t, nil, nil)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, true)
	require.NoError(t, err)
	_, err = f.svc.Stop(ctx)
	require.NoError(t, err)

	f.clock.Add(time.Second)
	second, err := f.svc.Start(ctx, true)
	require.NoError(t, err)
	assert.True(t, second.Started)
	assert.NotEqual(t, first.FilePath, second.FilePath)
	assert.NotEqual(t, first.ID, second.ID)
}

// scriptedWriter is a RecordingWriter whose saturation, drain and close are
// driven by the test.
type scriptedWriter struct {
	mu        sync.Mutex
	writes    int
	saturate  bool
	writeErr  error
	drain     chan struct{}
	closeGate chan struct{}
	// writeGate, when set, holds every accepted Write until it is closed.
	writeGate chan struct{}
	entered   chan struct{}
}

func (w *scriptedWriter) Write(p []byte) (bool, error) {
	if w.writeGate != nil {
		w.entered <- struct{}{}
		<-w.writeGate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return false, w.writeErr
	}
	w.writes++
	return w.saturate, nil
}

func (w *scriptedWriter) Drain() <-chan struct{} {
	return w.drain
}

func (w *scriptedWriter) Close() error {
	if w.closeGate != nil {
		<-w.closeGate
	}
	return nil
}

func (w *scriptedWriter) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

type scriptedStore struct {
	writer      *scriptedWriter
	finalizeErr error
}

func (s *scriptedStore) Create(path string, format domain.AudioFormat, release func([]byte)) (ports.RecordingWriter, error) {
	return s.writer, nil
}

func (s *scriptedStore) Finalize(path string, format domain.AudioFormat) (domain.FinalizeResult, error) {
	if s.finalizeErr != nil {
		return domain.FinalizeResult{}, s.finalizeErr
	}
	return domain.FinalizeResult{FileSize: wav.HeaderSize, Empty: true}, nil
}

func TestRecordingService_FinalizeFailureClearsSession(t *testing.T) {
	writer := &scriptedWriter{drain: make(chan struct{})}
	store := &scriptedStore{
		writer:      writer,
		finalizeErr: fmt.Errorf("%w: disk gone", domain.ErrFinalizeIO),
	}
	f := newRecorder(t, store, nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, true)
	require.NoError(t, err)
	require.NoError(t, f.svc.WritePacket(ctx, packet(defaultRecordingFormat, 1, 2)))

	_, err = f.svc.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFinalizeIO)
	assert.False(t, f.svc.Status().IsRecording)

	res, err := f.svc.Start(ctx, true)
	require.NoError(t, err)
	assert.True(t, res.Started)
}

func TestRecordingService_StopCountsPacketsAcceptedBeforeClose(t *testing.T) {
	writer := &scriptedWriter{
		drain:     make(chan struct{}),
		writeGate: make(chan struct{}),
		entered:   make(chan struct{}, 1),
	}
	f := newRecorder(t, &scriptedStore{writer: writer}, nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, true)
	require.NoError(t, err)

	written := make(chan error, 1)
	go func() { written <- f.svc.WritePacket(ctx, packet(defaultRecordingFormat, 1)) }()
	<-writer.entered

	stopped := make(chan *domain.RecordingSummary, 1)
	go func() {
		summary, _ := f.svc.Stop(ctx)
		stopped <- summary
	}()

	assert.Never(t, func() bool { return len(stopped) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(writer.writeGate)
	require.NoError(t, <-written)
	select {
	case summary := <-stopped:
		require.NotNil(t, summary)
		assert.Equal(t, uint64(1), summary.Packets)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not finish")
	}
}

func TestRecordingService_WaitsForDrainAfterSaturation(t *testing.T) {
	writer := &scriptedWriter{saturate: true, drain: make(chan struct{})}
	f := newRecorder(t, &scriptedStore{writer: writer}, nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, true)
	require.NoError(t, err)

	// the first write is accepted and reports saturation
	require.NoError(t, f.svc.WritePacket(ctx, packet(defaultRecordingFormat, 1)))

	done := make(chan error, 1)
	go func() { done <- f.svc.WritePacket(ctx, packet(defaultRecordingFormat, 2)) }()

	assert.Never(t, func() bool { return writer.Writes() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	close(writer.drain)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("write did not resume after drain")
	}
	assert.Equal(t, 2, writer.Writes())
	assert.Equal(t, uint64(2), f.svc.Status().PacketsWritten)
}

func TestRecordingService_DrainWaitHonorsContext(t *testing.T) {
	writer := &scriptedWriter{saturate: true, drain: make(chan struct{})}
	f := newRecorder(t, &scriptedStore{writer: writer}, nil)

	_, err := f.svc.Start(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, f.svc.WritePacket(context.Background(), packet(defaultRecordingFormat, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = f.svc.WritePacket(ctx, packet(defaultRecordingFormat, 2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, writer.Writes())
}

func TestRecordingService_WriteFailureAbortsSession(t *testing.T) {
	writer := &scriptedWriter{writeErr: errors.New("disk full"), drain: make(chan struct{})}
	f := newRecorder(t, &scriptedStore{writer: writer}, nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, true)
	require.NoError(t, err)

	err = f.svc.WritePacket(ctx, packet(defaultRecordingFormat, 1))
	assert.ErrorIs(t, err, domain.ErrSessionAborted)
	assert.False(t, f.svc.Status().IsRecording)

	writer.mu.Lock()
	writer.writeErr = nil
	writer.mu.Unlock()

	res, err := f.svc.Start(ctx, true)
	require.NoError(t, err)
	assert.True(t, res.Started)
}

func TestRecordingService_StartWaitsForInFlightStop(t *testing.T) {
	writer := &scriptedWriter{drain: make(chan struct{}), closeGate: make(chan struct{})}
	f := newRecorder(t, &scriptedStore{writer: writer}, nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, true)
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		f.svc.Stop(ctx)
	}()
	require.Eventually(t, func() bool { return !f.svc.Status().IsRecording }, 2*time.Second, time.Millisecond)

	started := make(chan domain.StartResult, 1)
	go func() {
		res, _ := f.svc.Start(ctx, true)
		started <- res
	}()

	select {
	case <-started:
		t.Fatal("start returned while stop was finalizing")
	case <-time.After(50 * time.Millisecond):
	}

	close(writer.closeGate)
	<-stopped
	select {
	case res := <-started:
		assert.True(t, res.Started)
	case <-time.After(2 * time.Second):
		t.Fatal("start never completed")
	}
}

type channelArchiver struct {
	archived chan *domain.RecordingSummary
}

func (a *channelArchiver) Archive(ctx context.Context, summary *domain.RecordingSummary) error {
	a.archived <- summary
	return nil
}

func TestRecordingService_ArchivesFinishedRecordings(t *testing.T) {
	archiver := &channelArchiver{archived: make(chan *domain.RecordingSummary, 1)}
	f := newRecorder(t, nil, archiver)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, true)
	require.NoError(t, err)
	require.NoError(t, f.svc.WritePacket(ctx, packet(defaultRecordingFormat, 1, 2, 3, 4)))

	summary, err := f.svc.Stop(ctx)
	require.NoError(t, err)

	select {
	case got := <-archiver.archived:
		assert.Equal(t, summary.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("recording was not archived")
	}

	list, err := f.svc.Recordings(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, summary.ID, list[0].ID)
}
