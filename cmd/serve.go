package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"webcam-ip-server/config"
	"webcam-ip-server/internal/server"
	"webcam-ip-server/internal/util"
)

// sessionPollInterval is how often serve checks whether the session ended on
// its own.
const sessionPollInterval = 500 * time.Millisecond

func NewServeCommand() *cobra.Command {
	var open bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start streaming a source",
		Long:  `Open the configured source and stream it until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd.OutOrStdout(), cfg, open)
		},
		Example: `  # Stream the first camera as MJPEG on port 5000
  webcam-ip serve

  # Loop a video file to WebSocket viewers
  webcam-ip serve -s video -f demo.mp4 -P websocket -p 5001

  # Serve a still image, reloading it when it changes, and open a browser
  webcam-ip serve -s image -f slide.png --watch --open`,
	}

	flags := cmd.Flags()
	addSourceFlags(flags)
	addStreamFlags(flags)
	flags.BoolVar(&open, "open", false, "Open the stream in the default browser")

	return cmd
}

func runServe(ctx context.Context, out io.Writer, cfg *config.Config, open bool) error {
	logger := util.GetLogger()

	desc, err := cfg.Descriptor()
	if err != nil {
		return err
	}
	protocol, err := cfg.Protocol()
	if err != nil {
		return err
	}

	ctrl := server.NewController(server.ControllerOptions{
		Interval: cfg.Interval(),
		Quality:  cfg.Stream.JPEGQuality,
		Source:   cfg.SourceOptions(),
		Logger:   logger,
	})

	src, err := ctrl.ResolveSource(desc)
	if err != nil {
		return err
	}
	if err := ctrl.StartSession(src, protocol, cfg.Stream.Host, cfg.Stream.Port); err != nil {
		return errors.Wrap(err, "failed to start stream")
	}
	defer ctrl.StopSession()

	url := ctrl.DisplayURL()
	printBanner(out, url, protocol, desc.String())

	if open {
		if err := browser.OpenURL(viewerURL(url)); err != nil {
			logger.Warn("failed to open browser", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(sessionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if ctrl.IsRunning() {
				continue
			}
			if err := ctrl.Err(); err != nil {
				return errors.Wrap(err, "stream ended")
			}
			return errors.New("stream ended")
		}
	}
}

// viewerURL is what a browser should open: the WebSocket server serves its
// viewer page over plain HTTP on the same address.
func viewerURL(displayURL string) string {
	if rest, ok := strings.CutPrefix(displayURL, "ws://"); ok {
		return "http://" + rest
	}
	return displayURL
}

func printBanner(out io.Writer, url string, protocol server.Protocol, source string) {
	fmt.Fprintf(out, "\nStreaming %s over %s\n", color.CyanString(source), protocol)
	fmt.Fprintf(out, "  Stream: %s\n", color.GreenString(url))
	if protocol == server.ProtocolHTTP {
		fmt.Fprintf(out, "  Feed:   %s\n", color.GreenString(url+server.FeedPath))
	} else {
		fmt.Fprintf(out, "  Viewer: %s\n", color.GreenString(viewerURL(url)))
	}
	fmt.Fprintln(out, color.New(color.Faint).Sprint("Press Ctrl+C to stop"))
}
