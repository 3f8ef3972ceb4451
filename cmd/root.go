package cmd

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"webcam-ip-server/config"
	"webcam-ip-server/internal/server"
	"webcam-ip-server/internal/util"
)

var (
	verbose bool
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "webcam-ip",
		Short: "Serve a camera, video file or image as a live network feed",
		Long: `webcam-ip turns a local camera, a looping video file or a still image into a
live feed that browsers and scripts can watch over HTTP (MJPEG) or WebSocket.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitLogger(verbose)
			gin.SetMode(gin.ReleaseMode)
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (default: config.yaml in "+strings.Join(config.SearchPaths(), ", ")+")")

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewProbeCommand())
	rootCmd.AddCommand(NewVersionCommand())
}

// addSourceFlags declares the flags that pick and shape a source.
func addSourceFlags(flags *pflag.FlagSet) {
	flags.StringP("source", "s", "camera", "Source type: camera, video or image")
	flags.IntP("device", "d", 0, "Camera index")
	flags.String("device-name", "", "Platform device name, overrides --device (required on Windows)")
	flags.StringP("path", "f", "", "Video or image file")
	flags.StringP("resolution", "r", "640x480", "Output size as WIDTHxHEIGHT (camera and image)")
	flags.Bool("watch", false, "Reload an image source when its file changes")
	flags.Int("quality", 95, "JPEG quality, 1-100")
	flags.String("ffmpeg", "ffmpeg", "ffmpeg binary")
	flags.String("ffprobe", "ffprobe", "ffprobe binary")
}

func addStreamFlags(flags *pflag.FlagSet) {
	flags.StringP("protocol", "P", "http", "Streaming protocol: http or websocket")
	flags.String("host", server.DefaultHost, "Address to listen on")
	flags.IntP("port", "p", server.DefaultPort, "Port to listen on")
	flags.Float64("fps", 30, "Frame rate for camera and image sources")
}

// loadConfig resolves the configuration for cmd: flags over environment over
// config file over defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.Load(v, cfgFile)
}
