// Package config loads settings from defaults, a config file, WEBCAMIP_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"webcam-ip-server/internal/server"
	"webcam-ip-server/internal/source"
)

// EnvPrefix namespaces environment overrides, e.g. WEBCAMIP_STREAM_PORT.
const EnvPrefix = "WEBCAMIP"

// Config is the fully resolved configuration of one run.
type Config struct {
	Source SourceConfig `mapstructure:"source"`
	Stream StreamConfig `mapstructure:"stream"`
	FFmpeg FFmpegConfig `mapstructure:"ffmpeg"`
}

type SourceConfig struct {
	// Type is camera, video or image.
	Type       string `mapstructure:"type"`
	Device     int    `mapstructure:"device"`
	DeviceName string `mapstructure:"device_name"`
	Path       string `mapstructure:"path"`
	Resolution string `mapstructure:"resolution"`
	Watch      bool   `mapstructure:"watch"`
}

type StreamConfig struct {
	Protocol    string  `mapstructure:"protocol"`
	Host        string  `mapstructure:"host"`
	Port        int     `mapstructure:"port"`
	FPS         float64 `mapstructure:"fps"`
	JPEGQuality int     `mapstructure:"jpeg_quality"`
}

type FFmpegConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
}

// New returns a viper instance with defaults, config search paths and
// environment binding set up. Flags are bound separately with BindFlags.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("source.type", "camera")
	v.SetDefault("source.device", 0)
	v.SetDefault("source.device_name", "")
	v.SetDefault("source.path", "")
	v.SetDefault("source.resolution", "640x480")
	v.SetDefault("source.watch", false)

	v.SetDefault("stream.protocol", "http")
	v.SetDefault("stream.host", server.DefaultHost)
	v.SetDefault("stream.port", server.DefaultPort)
	v.SetDefault("stream.fps", 30.0)
	v.SetDefault("stream.jpeg_quality", 95)

	v.SetDefault("ffmpeg.ffmpeg_path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range SearchPaths() {
		v.AddConfigPath(path)
	}
	return v
}

// SearchPaths lists the directories searched for config.yaml.
func SearchPaths() []string {
	return []string{
		".",
		filepath.Join(xdg.ConfigHome, "webcam-ip"),
		"/etc/webcam-ip",
	}
}

// BindFlags maps command line flags onto config keys. Flags missing from fs
// are skipped, so commands only declare what they use.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"source":      "source.type",
		"device":      "source.device",
		"device-name": "source.device_name",
		"path":        "source.path",
		"resolution":  "source.resolution",
		"watch":       "source.watch",
		"protocol":    "stream.protocol",
		"host":        "stream.host",
		"port":        "stream.port",
		"fps":         "stream.fps",
		"quality":     "stream.jpeg_quality",
		"ffmpeg":      "ffmpeg.ffmpeg_path",
		"ffprobe":     "ffmpeg.ffprobe_path",
	}
	for flag, key := range bindings {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "bind flag --%s", flag)
		}
	}
	return nil
}

// Load reads the config file, if any, and decodes everything into a Config.
// file overrides the search paths when set.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise only fail once streaming.
func (c *Config) Validate() error {
	if _, err := c.Descriptor(); err != nil {
		return err
	}
	if _, err := c.Protocol(); err != nil {
		return err
	}
	if c.Stream.Port < 0 || c.Stream.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Stream.Port)
	}
	if c.Stream.FPS <= 0 {
		return errors.Errorf("invalid fps %v", c.Stream.FPS)
	}
	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100 {
		return errors.Errorf("invalid jpeg quality %d, want 1-100", c.Stream.JPEGQuality)
	}
	return nil
}

// Descriptor turns the source section into a source.Descriptor.
func (c *Config) Descriptor() (source.Descriptor, error) {
	kind, err := source.ParseKind(c.Source.Type)
	if err != nil {
		return source.Descriptor{}, err
	}

	var res source.Resolution
	if c.Source.Resolution != "" {
		if res, err = source.ParseResolution(c.Source.Resolution); err != nil {
			return source.Descriptor{}, err
		}
	}

	var d source.Descriptor
	switch kind {
	case source.KindCamera:
		d = source.Camera(c.Source.Device)
		d.DeviceName = c.Source.DeviceName
		d.Resolution = res
	case source.KindVideoFile:
		if c.Source.Path == "" {
			return d, errors.New("source.path is required for video sources")
		}
		d = source.VideoFile(c.Source.Path)
	case source.KindStaticImage:
		if c.Source.Path == "" {
			return d, errors.New("source.path is required for image sources")
		}
		d = source.StaticImage(c.Source.Path)
		d.Resolution = res
	}
	return d, nil
}

func (c *Config) Protocol() (server.Protocol, error) {
	return server.ParseProtocol(c.Stream.Protocol)
}

// Interval is the pacing between frames for camera and image sources.
func (c *Config) Interval() time.Duration {
	return time.Duration(float64(time.Second) / c.Stream.FPS)
}

// SourceOptions are the backend options derived from the config.
func (c *Config) SourceOptions() source.Options {
	return source.Options{
		Watch:       c.Source.Watch,
		FFmpegPath:  c.FFmpeg.FFmpegPath,
		FFprobePath: c.FFmpeg.FFprobePath,
	}
}
