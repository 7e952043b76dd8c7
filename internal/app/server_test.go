package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"micstream/internal/core/domain"
	"micstream/internal/infrastructure/codec"
	"micstream/pkg/config"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testServerConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Recording.Directory = t.TempDir()
	cfg.RateLimiting.Enabled = false
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testServerConfig(t), zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func TestServer_StartStop(t *testing.T) {
	s := newTestServer(t)
	assert.False(t, s.IsAccepting())
	assert.Empty(t, s.Addr())

	require.NoError(t, s.Start())
	assert.True(t, s.IsAccepting())
	assert.NotEmpty(t, s.Addr())
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx := context.Background()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsAccepting())
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Stop(ctx))
}

func TestServer_Restart(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Start())

	require.NoError(t, s.Restart(context.Background()))
	assert.True(t, s.IsAccepting())
	assert.NotEmpty(t, s.Addr())
	assert.Equal(t, int64(0), s.Status().Session.TotalClients)
}

func TestServer_ReadyRequiresAccepting(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_StartRecordingRefusedWhileStopped(t *testing.T) {
	s := newTestServer(t)

	result, err := s.StartRecording(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Started)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/recording/start", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_RecordsStreamedAudio(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Start())
	base := "http://" + s.Addr()

	resp, err := http.Post(base+"/api/v1/recording/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	format := domain.AudioFormat{SampleRate: 44100, Channels: 1, BitDepth: domain.PCM16}
	frame, err := codec.NewFramer(format, 4).Frame([]float32{0, 0.5, -0.5, 1})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.Eventually(t, func() bool {
		return s.RecordingStatus().PacketsWritten == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Post(base+"/api/v1/recording/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	recordings, err := s.Recordings(context.Background())
	require.NoError(t, err)
	require.Len(t, recordings, 1)
	assert.Equal(t, int64(8), recordings[0].DataSize)

	info, err := os.Stat(recordings[0].FilePath)
	require.NoError(t, err)
	assert.Equal(t, int64(44+8), info.Size())

	got, err := s.Recording(context.Background(), recordings[0].ID)
	require.NoError(t, err)
	assert.Equal(t, recordings[0].FilePath, got.FilePath)
}

func TestServer_StopFinalizesActiveRecording(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Start())

	result, err := s.StartRecording(context.Background())
	require.NoError(t, err)
	require.True(t, result.Started)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.RecordingStatus().IsRecording)

	recordings, err := s.Recordings(context.Background())
	require.NoError(t, err)
	require.Len(t, recordings, 1)
	assert.True(t, recordings[0].Empty)
}

func TestServer_StatusListsClients(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Start())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return len(s.Status().Clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	status := s.Status()
	assert.True(t, status.Accepting)
	assert.Equal(t, "memory", status.Catalog)
	assert.NotEmpty(t, status.Uptime)
}
