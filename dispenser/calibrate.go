package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/itohio/godispense/pkg/frame"
	"github.com/itohio/godispense/pkg/link"
	"github.com/itohio/godispense/pkg/plot"
	"github.com/itohio/godispense/pkg/rxring"
	"github.com/itohio/godispense/pkg/sim"
	"github.com/itohio/godispense/pkg/threshold"
)

var (
	calSim     bool
	calFile    string
	calPlot    string
	calApply   bool
	calTimeout time.Duration
)

// ErrNoFrame is returned when no valid frame could be read.
var ErrNoFrame = errors.New("no valid frame")

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate thresholds from one echo profile",
	Long: `Read one frame from the sensor, a simulated sensor or a capture file and
print the thresholds derived from its echo profile.

With --plot the profile, its smoothed signal, the classified peaks and the
derived boundaries are rendered to an image. With --apply the thresholds are
written to the sensor.`,
	RunE: runCalibrate,
}

func init() {
	calibrateCmd.Flags().BoolVar(&calSim, "sim", false, "Use a simulated sensor with a container in place")
	calibrateCmd.Flags().StringVarP(&calFile, "file", "f", "", "Read the last valid frame from a capture file")
	calibrateCmd.Flags().StringVar(&calPlot, "plot", "", "Render the calibration to an image file (png, svg, pdf)")
	calibrateCmd.Flags().BoolVar(&calApply, "apply", false, "Write the derived thresholds to the sensor")
	calibrateCmd.Flags().DurationVar(&calTimeout, "timeout", 5*time.Second, "Time to wait for a frame")
	rootCmd.AddCommand(calibrateCmd)
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var (
		f   frame.SensorFrame
		err error
	)
	switch {
	case calFile != "":
		if calApply {
			return fmt.Errorf("--apply needs a live sensor")
		}
		err = readFrameFile(calFile, &f)
	case calSim:
		err = withSimulator(ctx, func(s *sim.Sim, ring *rxring.Ring, lnk *link.ATLink) error {
			return captureFrame(ctx, ring, lnk, func() bool {
				present, _ := s.Container()
				return present
			}, &f)
		})
	default:
		err = withSensor(ctx, func(ring *rxring.Ring, lnk *link.ATLink) error {
			return captureFrame(ctx, ring, lnk, nil, &f)
		})
	}
	if err != nil {
		return err
	}

	var (
		c threshold.Calibrator
		r threshold.Result
	)
	c.Compute(f.Profile[:], &r)
	printCalibration(cmd.OutOrStdout(), &f, &r)

	if calPlot != "" {
		p, err := plot.Calibration(&c, &r, fmt.Sprintf("Calibration a=%d b=%d", f.Primary, f.Secondary))
		if err != nil {
			return err
		}
		if err := plot.Save(p, calPlot); err != nil {
			return err
		}
		log.Info().Str("file", calPlot).Msg("calibration plot saved")
	}
	return nil
}

// withSensor connects to the configured sensor and runs fn against it.
func withSensor(ctx context.Context, fn func(*rxring.Ring, *link.ATLink) error) error {
	conn, info, err := openConnection(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Info().Str("connection", info).Msg("connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ring := rxring.New(rxring.DefaultSize)
	go func() {
		if err := ring.Fill(ctx, conn); err != nil {
			log.Error().Err(err).Msg("receive stopped")
		}
	}()

	lnk := link.NewATLink(conn, ring, nil, nil)
	lnk.Retry.Attempts = cfg.Link.Retry
	lnk.Poll = cfg.Link.AckPoll
	return fn(ring, lnk)
}

// withSimulator runs fn against a simulated sensor.
func withSimulator(ctx context.Context, fn func(*sim.Sim, *rxring.Ring, *link.ATLink) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ring := rxring.New(rxring.DefaultSize)
	s := sim.New(cfg.Simulation, ring, nil, time.Now())
	go func() {
		if err := s.Run(ctx); err != nil {
			log.Error().Err(err).Msg("simulator stopped")
		}
	}()

	lnk := link.NewATLink(s, ring, nil, nil)
	lnk.Poll = cfg.Link.AckPoll
	return fn(s, ring, lnk)
}

// captureFrame switches the sensor to frame output and waits for the first
// valid frame accepted by ready. A nil ready accepts any frame. With --apply
// the derived thresholds are written back before returning.
func captureFrame(ctx context.Context, ring *rxring.Ring, lnk *link.ATLink, ready func() bool, f *frame.SensorFrame) error {
	asm := frame.NewAssembler(time.Now())
	flush := func() { asm.Flush(ring) }

	for _, cmd := range []link.Command{link.Verbose(), link.Reboot()} {
		if err := lnk.Send(cmd, cfg.Link.Startup); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		flush()
	}

	deadline := time.Now().Add(calTimeout)
	for {
		now := time.Now()
		if asm.Poll(ring, now, f) && (ready == nil || ready()) {
			break
		}
		if now.After(deadline) {
			return fmt.Errorf("%w within %v", ErrNoFrame, calTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Controller.PollInterval):
		}
	}

	if !calApply {
		return nil
	}
	r := threshold.Compute(f.Profile[:])
	if r.NoContainer() {
		return fmt.Errorf("no container detected, thresholds not applied")
	}
	for _, cmd := range []link.Command{
		link.Stop(),
		link.NearBoundary(r.NearBoundary),
		link.FarBoundary(r.FarBoundary),
		link.NearThreshold(r.NearThreshold),
		link.FarThreshold(r.FarThreshold),
		link.Reboot(),
	} {
		if err := lnk.Send(cmd, cfg.Link.Configure); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		flush()
	}
	log.Info().Msg("thresholds applied")
	return nil
}

// readFrameFile decodes the last valid frame of a capture file with one
// frame per line.
func readFrameFile(name string, f *frame.SensorFrame) error {
	file, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer file.Close()
	return readFrame(file, f)
}

func readFrame(r io.Reader, f *frame.SensorFrame) error {
	sc := bufio.NewScanner(r)
	line := make([]byte, 0, 2048)
	found := false
	for sc.Scan() {
		data := sc.Bytes()
		if i := frame.LastStart(data); i > 0 {
			data = data[i:]
		}
		line = append(append(line[:0], data...), '\n')
		if frame.Parse(line, f) == nil {
			found = true
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read capture: %w", err)
	}
	if !found {
		return ErrNoFrame
	}
	return nil
}

func printCalibration(w io.Writer, f *frame.SensorFrame, r *threshold.Result) {
	fmt.Fprintf(w, "Frame: a=%d b=%d padded=%t\n", f.Primary, f.Secondary, f.Padded)
	if r.NoContainer() {
		fmt.Fprintf(w, "No container detected, defaults: S3=%d S4=%d T2=%d T3=%d\n",
			r.NearBoundary, r.FarBoundary, r.NearThreshold, r.FarThreshold)
		return
	}
	fmt.Fprintf(w, "Edge: bin %d (extended %t)\n", r.EdgePosition, r.EdgeExtended)
	fmt.Fprintf(w, "Liquid: bin %d\n", r.LiquidPosition)
	fmt.Fprintf(w, "Thresholds: S3=%d S4=%d T2=%d T3=%d\n",
		r.NearBoundary, r.FarBoundary, r.NearThreshold, r.FarThreshold)
	for _, p := range r.Peaks() {
		fmt.Fprintf(w, "  %-12s bin %3d amplitude %5d prominence %5d\n", p.Role, p.Position, p.Amplitude, p.Prominence)
	}
}
