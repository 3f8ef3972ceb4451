package source

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoOpenAndRelease(t *testing.T) {
	s, _ := newFakeVideo(t, 3, 1000)
	require.NoError(t, s.Open())
	assert.True(t, s.IsOpened())
	assert.Equal(t, 1000.0, s.FPS())

	s.Release()
	assert.False(t, s.IsOpened())
	s.Release()

	_, err := s.ReadFrame()
	assert.True(t, errors.Is(err, ErrNotOpened))
}

func TestVideoOpenMissingFile(t *testing.T) {
	s := newVideoFileSource(filepath.Join(t.TempDir(), "missing.mp4"), testOptions())
	err := s.Open()

	var openErr *OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, KindVideoFile, openErr.Kind)
	assert.False(t, s.IsOpened())
}

func TestVideoOpenProbeFailure(t *testing.T) {
	s, _ := newFakeVideo(t, 3, 30)
	s.probe = func(string) (VideoInfo, error) {
		return VideoInfo{}, errors.New("moov atom not found")
	}
	assert.Error(t, s.Open())
	assert.False(t, s.IsOpened())
}

func TestVideoDefaultsFPSWhenUnknown(t *testing.T) {
	s, _ := newFakeVideo(t, 3, 0)
	require.NoError(t, s.Open())
	assert.Equal(t, DefaultVideoFPS, s.FPS())
}

func TestVideoLoopsForever(t *testing.T) {
	const total = 4
	s, backend := newFakeVideo(t, total, 1000)
	require.NoError(t, s.Open())
	defer s.Release()

	var got []uint8
	for i := 0; i < 3*total+2; i++ {
		frame, err := s.ReadFrame()
		require.NoError(t, err, "read %d", i)
		got = append(got, frame.Pix[0])
	}

	// Reading N+total frames repeats the first N frames one loop later.
	for n := 0; n+total < len(got); n++ {
		assert.Equal(t, got[n], got[n+total], "frame %d", n)
	}
	assert.Equal(t, []uint8{0, 1, 2, 3, 0, 1}, got[:6])
	assert.Equal(t, 3, s.Loops())
	assert.Equal(t, 4, backend.starts)
}

func TestVideoRecoversFromDecoderFault(t *testing.T) {
	s, backend := newFakeVideo(t, 5, 1000)
	require.NoError(t, s.Open())
	defer s.Release()

	frame, err := s.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), frame.Pix[0])

	// Next stream faults twice, then a healthy one is handed out.
	backend.current().failAt = 1
	backend.faultyStreams = 1

	frame, err = s.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), frame.Pix[0], "reopen restarts from the beginning")
	assert.Equal(t, 3, backend.starts)
}

func TestVideoGivesUpAfterRetries(t *testing.T) {
	s, backend := newFakeVideo(t, 5, 1000)
	require.NoError(t, s.Open())
	defer s.Release()

	backend.current().failAt = 0
	backend.faultyStreams = 10

	_, err := s.ReadFrame()
	var readErr *ReadError
	require.True(t, errors.As(err, &readErr))
	assert.Equal(t, 3, readErr.Attempts)
	assert.True(t, errors.Is(err, errDecoderFault))
	assert.Equal(t, 1+3, backend.starts)
}

func TestVideoWithoutFramesFails(t *testing.T) {
	s, _ := newFakeVideo(t, 0, 1000)
	require.NoError(t, s.Open())
	defer s.Release()

	_, err := s.ReadFrame()
	var readErr *ReadError
	assert.True(t, errors.As(err, &readErr))
}

func TestVideoPacesAtNativeRate(t *testing.T) {
	s, _ := newFakeVideo(t, 100, 20)
	require.NoError(t, s.Open())
	defer s.Release()

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := s.ReadFrame()
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// First frame is immediate, the next four wait 50ms each.
	assert.GreaterOrEqual(t, elapsed, 190*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond)
}

func TestVideoSetResolutionIsNoop(t *testing.T) {
	s, _ := newFakeVideo(t, 2, 1000)
	require.NoError(t, s.Open())
	defer s.Release()

	require.NoError(t, s.SetResolution(320, 240))
	frame, err := s.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Bounds().Dx())
}
