package source

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// rawStream yields fixed-size RGBA frames from a decoder. Next returns io.EOF
// when the input ended cleanly and any other error on a decoder fault.
type rawStream interface {
	Next() (*image.RGBA, error)
	Close() error
}

// ffmpegStream runs ffmpeg with raw RGBA output on stdout and cuts the pipe
// into frames of width*height*4 bytes.
type ffmpegStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	width  int
	height int
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	lastLine string
	done     chan struct{}

	waitOnce sync.Once
	exited   atomic.Bool
	waitErr  error
}

func startFFmpeg(binary, name string, inputArgs []string, width, height int, filter string, logger *slog.Logger) (*ffmpegStream, error) {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	args = append(args, inputArgs...)
	if filter != "" {
		args = append(args, "-vf", filter)
	}
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-an", // No audio
		"-",
	)

	cmd := exec.Command(binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start ffmpeg")
	}

	s := &ffmpegStream{
		cmd:    cmd,
		stdout: stdout,
		width:  width,
		height: height,
		name:   name,
		logger: logger,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			s.mu.Lock()
			s.lastLine = line
			s.mu.Unlock()
			logger.Debug("ffmpeg", "source", name, "line", line)
		}
	}()

	logger.Debug("ffmpeg started", "source", name, "pid", cmd.Process.Pid, "args", strings.Join(args, " "))
	return s, nil
}

func (s *ffmpegStream) Next() (*image.RGBA, error) {
	frame := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	_, err := io.ReadFull(s.stdout, frame.Pix)
	if err == nil {
		return frame, nil
	}

	waitErr := s.wait()
	if err == io.EOF && waitErr == nil {
		return nil, io.EOF
	}
	if waitErr != nil {
		return nil, errors.Wrapf(waitErr, "ffmpeg %s: %s", s.name, s.stderrTail())
	}
	return nil, errors.Wrapf(err, "ffmpeg %s: truncated frame", s.name)
}

func (s *ffmpegStream) Close() error {
	if !s.exited.Load() && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.wait()
	return nil
}

// wait reaps the process once. Stderr must be drained before cmd.Wait.
func (s *ffmpegStream) wait() error {
	s.waitOnce.Do(func() {
		<-s.done
		s.waitErr = s.cmd.Wait()
		s.exited.Store(true)
	})
	return s.waitErr
}

func (s *ffmpegStream) stderrTail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastLine == "" {
		return "no diagnostics"
	}
	return s.lastLine
}

// cameraInput returns the ffmpeg input arguments for a capture device on the
// given GOOS. DirectShow only addresses devices by name, so Windows requires
// DeviceName.
func cameraInput(goos string, d Descriptor, res Resolution) ([]string, error) {
	size := []string{"-video_size", res.String()}
	switch goos {
	case "darwin":
		device := d.DeviceName
		if device == "" {
			device = strconv.Itoa(d.Device)
		}
		return append([]string{"-f", "avfoundation", "-framerate", "30"}, append(size, "-i", device)...), nil
	case "windows":
		if d.DeviceName == "" {
			return nil, errors.Errorf("camera %d: dshow needs a device name, set --device-name "+
				"(list devices with: ffmpeg -list_devices true -f dshow -i dummy)", d.Device)
		}
		device := d.DeviceName
		if !strings.HasPrefix(device, "video=") {
			device = "video=" + device
		}
		return append([]string{"-f", "dshow"}, append(size, "-i", device)...), nil
	default:
		device := d.DeviceName
		if device == "" {
			device = fmt.Sprintf("/dev/video%d", d.Device)
		}
		return append([]string{"-f", "v4l2"}, append(size, "-i", device)...), nil
	}
}

// videoInput disables autorotation so decoded frames keep the coded size the
// container reports. Display rotation metadata is ignored.
func videoInput(path string) []string {
	return []string{"-noautorotate", "-i", path}
}

func scaleFilter(width, height int) string {
	return fmt.Sprintf("scale=%d:%d", width, height)
}

// VideoInfo is what ffprobe reports about the first video stream of a file.
type VideoInfo struct {
	Width  int
	Height int
	FPS    float64
	Frames int
}

func probeVideo(binary, path string) (VideoInfo, error) {
	out, err := exec.Command(binary,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames",
		"-of", "json",
		path,
	).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return VideoInfo{}, errors.Errorf("ffprobe: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return VideoInfo{}, errors.Wrap(err, "ffprobe")
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (VideoInfo, error) {
	stream := gjson.GetBytes(out, "streams.0")
	if !stream.Exists() {
		return VideoInfo{}, errors.New("no video stream found")
	}

	info := VideoInfo{
		Width:  int(stream.Get("width").Int()),
		Height: int(stream.Get("height").Int()),
		Frames: int(stream.Get("nb_frames").Int()),
	}
	if info.Width <= 0 || info.Height <= 0 {
		return VideoInfo{}, errors.Errorf("invalid video dimensions %dx%d", info.Width, info.Height)
	}

	info.FPS = parseRate(stream.Get("avg_frame_rate").String())
	if info.FPS <= 0 {
		info.FPS = parseRate(stream.Get("r_frame_rate").String())
	}
	return info, nil
}

// parseRate parses ffprobe rationals such as "30000/1001". Unparseable or
// zero rates return 0.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
