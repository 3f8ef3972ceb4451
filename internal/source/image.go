package source

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageSource serves one decoded picture. Every read returns a fresh copy.
type ImageSource struct {
	path   string
	watch  bool
	logger *slog.Logger

	// mu guards the image fields against the reload watcher.
	mu   sync.RWMutex
	base *image.RGBA
	img  *image.RGBA
	res  Resolution

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newImageSource(d Descriptor, opts Options) *ImageSource {
	return &ImageSource{
		path:   d.Path,
		watch:  opts.Watch,
		logger: opts.Logger,
		res:    d.Resolution,
	}
}

func (s *ImageSource) Open() error {
	if s.IsOpened() {
		return nil
	}
	base, err := decodeImageFile(s.path)
	if err != nil {
		return &OpenError{Kind: KindStaticImage, Target: s.path, Err: err}
	}

	s.mu.Lock()
	s.base = base
	s.img = resize(base, s.res)
	s.mu.Unlock()

	if s.watch {
		if err := s.startWatch(); err != nil {
			// Serving still works without hot reload.
			s.logger.Warn("image watch disabled", "path", s.path, "error", err)
		}
	}

	b := base.Bounds()
	s.logger.Info("image opened", "path", s.path, "size", Resolution{Width: b.Dx(), Height: b.Dy()}.String())
	return nil
}

func (s *ImageSource) ReadFrame() (*image.RGBA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.img == nil {
		return nil, ErrNotOpened
	}
	return cloneRGBA(s.img), nil
}

// SetResolution resizes the loaded image. The size sticks across reads and
// across reloads.
func (s *ImageSource) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Errorf("invalid resolution %dx%d", width, height)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res = Resolution{Width: width, Height: height}
	if s.base != nil {
		s.img = resize(s.base, s.res)
	}
	return nil
}

func (s *ImageSource) String() string {
	return KindStaticImage.String() + ":" + s.path
}

func (s *ImageSource) IsOpened() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img != nil
}

func (s *ImageSource) Release() {
	if s.watcher != nil {
		s.watcher.Close()
		<-s.done
		s.watcher = nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil {
		return
	}
	s.base = nil
	s.img = nil
	s.logger.Info("image released", "path", s.path)
}

// startWatch reloads the picture whenever the file is written or replaced.
// The directory is watched because editors usually swap the file on save.
func (s *ImageSource) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(s.path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}

	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watchLoop(watcher, abs)
	return nil
}

func (s *ImageSource) watchLoop(watcher *fsnotify.Watcher, abs string) {
	defer close(s.done)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				s.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("image watch error", "path", s.path, "error", err)
		}
	}
}

// reload keeps the previous picture when the new file does not decode, which
// also covers reading a half written file.
func (s *ImageSource) reload() {
	base, err := decodeImageFile(s.path)
	if err != nil {
		s.logger.Debug("image reload skipped", "path", s.path, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil {
		return
	}
	s.base = base
	s.img = resize(base, s.res)
	s.logger.Info("image reloaded", "path", s.path)
}

func decodeImageFile(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func resize(src *image.RGBA, res Resolution) *image.RGBA {
	if res.IsZero() || src.Bounds().Size() == image.Pt(res.Width, res.Height) {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, res.Width, res.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := &image.RGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(dst.Pix, src.Pix)
	return dst
}
