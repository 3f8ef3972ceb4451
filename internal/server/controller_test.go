package server

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcam-ip-server/internal/source"
)

func testController() *Controller {
	return NewController(ControllerOptions{
		Interval: 10 * time.Millisecond,
		Quality:  80,
		Logger:   testLogger(),
	})
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "still.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestControllerServesStaticImageOverHTTP(t *testing.T) {
	c := testController()
	src, err := c.ResolveSource(source.StaticImage(writePNG(t, 64, 48)))
	require.NoError(t, err)

	require.NoError(t, c.StartSession(src, ProtocolHTTP, "127.0.0.1", 0))
	t.Cleanup(c.StopSession)
	require.True(t, c.IsRunning())

	url := c.DisplayURL()
	require.True(t, strings.HasPrefix(url, "http://127.0.0.1:"), url)

	resp, err := http.Get(url + FeedPath)
	require.NoError(t, err)
	part, err := multipart.NewReader(resp.Body, Boundary).NextPart()
	require.NoError(t, err)
	data, err := io.ReadAll(part)
	require.NoError(t, err)
	resp.Body.Close()

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)

	c.StopSession()
	assert.False(t, c.IsRunning())
	assert.False(t, src.IsOpened())
	assert.Empty(t, c.DisplayURL())

	_, err = http.Get(url + FeedPath)
	assert.Error(t, err, "feed should be gone after stop")
}

func TestControllerRejectsSecondSession(t *testing.T) {
	c := testController()
	require.NoError(t, c.StartSession(newFakeSource(1), ProtocolWebSocket, "127.0.0.1", 0))
	t.Cleanup(c.StopSession)

	other := newFakeSource(1)
	err := c.StartSession(other, ProtocolHTTP, "127.0.0.1", 0)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.False(t, other.IsOpened())
	assert.True(t, c.IsRunning())
}

func TestControllerOpenFailure(t *testing.T) {
	c := testController()
	src := newFakeSource(1)
	src.openErr = errors.New("device busy")

	err := c.StartSession(src, ProtocolHTTP, "127.0.0.1", 0)
	var openErr *source.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.ErrorContains(t, err, "device busy")
	assert.False(t, c.IsRunning())
	assert.False(t, src.IsOpened())

	st := c.Stats()
	assert.Equal(t, "error", st.State)
	assert.Contains(t, st.LastError, "device busy")
}

func TestControllerBindFailureReleasesSource(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()
	port := blocker.Addr().(*net.TCPAddr).Port

	c := testController()
	src := newFakeSource(1)
	err = c.StartSession(src, ProtocolWebSocket, "127.0.0.1", port)

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.False(t, c.IsRunning())
	assert.False(t, src.IsOpened())
	assert.Equal(t, 1, src.releases)
}

func TestControllerFatalSourceStopsSession(t *testing.T) {
	c := testController()
	src := newFakeSource(1)
	src.failAfter = 2
	require.NoError(t, c.StartSession(src, ProtocolHTTP, "127.0.0.1", 0))
	t.Cleanup(c.StopSession)

	resp, err := http.Get(c.DisplayURL() + FeedPath)
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	require.Eventually(t, func() bool { return c.Err() != nil }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, c.IsRunning())
	assert.False(t, src.IsOpened())

	var readErr *source.ReadError
	assert.ErrorAs(t, c.Err(), &readErr)
	assert.Equal(t, "error", c.Stats().State)

	// A fresh session can start after the failed one.
	require.NoError(t, c.StartSession(newFakeSource(1), ProtocolHTTP, "127.0.0.1", 0))
	assert.True(t, c.IsRunning())
}

func TestControllerDisplayURL(t *testing.T) {
	c := testController()
	assert.Empty(t, c.DisplayURL())

	require.NoError(t, c.StartSession(newFakeSource(1), ProtocolWebSocket, "0.0.0.0", 0))
	t.Cleanup(c.StopSession)

	url := c.DisplayURL()
	assert.True(t, strings.HasPrefix(url, "ws://"+LocalIP()+":"), url)
	assert.NotContains(t, url, "0.0.0.0")
}

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		in      string
		want    Protocol
		wantErr bool
	}{
		{in: "http", want: ProtocolHTTP},
		{in: "HTTP", want: ProtocolHTTP},
		{in: "mjpeg", want: ProtocolHTTP},
		{in: "websocket", want: ProtocolWebSocket},
		{in: " ws ", want: ProtocolWebSocket},
		{in: "rtsp", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProtocol(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "ws", ProtocolWebSocket.Scheme())
	assert.Equal(t, "http", ProtocolHTTP.Scheme())
}
