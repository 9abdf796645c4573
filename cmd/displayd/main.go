// Command displayd is a minimal demonstration binary: it wires a
// display.Display to a synthetic frame generator and a no-op session
// layer, exercising the FB → damage refinery → resampler path without a
// real RFB transport. It does not drive the Tight encoder, and its
// system-memory frames never take the H.264 path.
//
// Grounded on the teacher's cmd/breeze-agent/main.go structure (flag
// parsing → config.Load → logging.Init → component construction →
// signal-driven shutdown), trimmed to this core's scope: there is no
// enrollment, heartbeat or websocket layer here, since spec.md places the
// session/transport surface outside this module.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/breeze-rmm/displaycore/config"
	"github.com/breeze-rmm/displaycore/display"
	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/internal/logging"
	"github.com/breeze-rmm/displaycore/internal/scheduler"
	"github.com/breeze-rmm/displaycore/pixfmt"
	"github.com/breeze-rmm/displaycore/region"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgFile string
	width   int
	height  int
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "displayd",
	Short: "Frame-pipeline core demo server",
	Long:  "displayd drives the framebuffer, damage and resample pipeline against a synthetic frame source.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the demo pipeline until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		runDemo()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("displayd v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: displaycore.yaml in the working directory)")
	runCmd.Flags().IntVar(&width, "width", 1280, "synthetic frame width")
	runCmd.Flags().IntVar(&height, "height", 720, "synthetic frame height")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// noopServer satisfies display.Server for the demo: it logs every damage
// notification instead of forwarding it to real RFB clients.
type noopServer struct {
	frames int
}

func (s *noopServer) DamageRegion(d region.Region) {
	s.frames++
	log.Info("damage region ready", "rects", len(d), "bounds", d.Bounds(), "frame", s.frames)
}

func (s *noopServer) ProcessAllFBUpdateRequests() {
	log.Debug("h264 packet ready for delivery")
}

func runDemo() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")

	sched := scheduler.New(cfg.MaxWorkers, cfg.WorkQueueSize, cfg.MainQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	srv := &noopServer{}
	d := display.New(0, 0, sched, srv)
	defer d.Unref()

	log.Info("displayd running", "version", version, "width", width, "height", height)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-sigChan:
			log.Info("shutting down", "frames", frame)
			sched.StopAccepting()
			drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
			sched.Drain(drainCtx)
			drainCancel()
			sched.Stop()
			return
		case <-ticker.C:
			fb := syntheticFrame(width, height, frame)
			d.FeedBuffer(fb, region.Full(width, height))
			frame++
		}
	}
}

// syntheticFrame builds a new system-memory XRGB8888 FB filled with a
// frame-indexed solid colour, standing in for a real capture source.
func syntheticFrame(width, height, frame int) *framebuffer.FB {
	stride := width * 4
	buf := make([]byte, stride*height)
	shade := byte(frame % 256)
	for i := 0; i < len(buf); i += 4 {
		buf[i+0] = shade
		buf[i+1] = shade / 2
		buf[i+2] = 255 - shade
		buf[i+3] = 0
	}

	fb := framebuffer.New(width, height, pixfmt.XRGB8888, 0, framebuffer.StorageSystemMemory)
	fb.SetSystemMemoryBytes(buf, stride)
	return fb
}
