package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"webcam-ip-server/config"
	"webcam-ip-server/internal/encoder"
	"webcam-ip-server/internal/source"
	"webcam-ip-server/internal/util"
)

func NewProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Read one frame from a source and describe it",
		Long:  `Open the configured source, read and encode a single frame, print what was found and release the source.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runProbe(cmd.OutOrStdout(), cfg)
		},
		Example: `  # Check that the second camera works at 1280x720
  webcam-ip probe -d 1 -r 1280x720

  # Inspect a video file
  webcam-ip probe -s video -f demo.mp4`,
	}

	addSourceFlags(cmd.Flags())
	return cmd
}

func runProbe(out io.Writer, cfg *config.Config) error {
	desc, err := cfg.Descriptor()
	if err != nil {
		return err
	}

	opts := cfg.SourceOptions()
	opts.Logger = util.GetLogger()
	opts.Watch = false
	src, err := source.New(desc, opts)
	if err != nil {
		return err
	}
	if err := src.Open(); err != nil {
		return err
	}
	defer src.Release()

	start := time.Now()
	frame, err := src.ReadFrame()
	if err != nil {
		return err
	}
	readTime := time.Since(start)

	enc := encoder.NewJPEG(cfg.Stream.JPEGQuality)
	data, err := enc.Encode(frame)
	if err != nil {
		return err
	}

	b := frame.Bounds()
	fmt.Fprintf(out, "Source:  %s\n", color.CyanString(desc.String()))
	fmt.Fprintf(out, "Size:    %dx%d\n", b.Dx(), b.Dy())
	if paced, ok := src.(source.SelfPaced); ok {
		fmt.Fprintf(out, "FPS:     %.2f\n", paced.FPS())
	}
	fmt.Fprintf(out, "JPEG:    %d bytes at quality %d\n", len(data), enc.Quality())
	fmt.Fprintf(out, "Read in: %s\n", readTime.Round(time.Millisecond))
	return nil
}
