package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/itohio/godispense/pkg/actuator"
	"github.com/itohio/godispense/pkg/control"
	"github.com/itohio/godispense/pkg/dispenser"
	"github.com/itohio/godispense/pkg/link"
	"github.com/itohio/godispense/pkg/monitor"
	"github.com/itohio/godispense/pkg/rxring"
	"github.com/itohio/godispense/pkg/sim"
)

var (
	runSim         bool
	runTUI         bool
	runReportEvery time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dispenser control loop",
	Long: `Run the detect, calibrate, verify, fill and wait cycle until interrupted.

With --sim the loop talks to a simulated sensor that places a container,
follows the pump and removes the container again. With --tui a live view
replaces the log output when stdout is a terminal.

The command exits with status 3 when the watchdog asks for a device reset.`,
	RunE: runController,
}

func init() {
	runCmd.Flags().BoolVar(&runSim, "sim", false, "Use a simulated sensor instead of the serial port")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live terminal view")
	runCmd.Flags().DurationVar(&runReportEvery, "report", 10*time.Second, "Status report interval in log mode (0 = off)")
	rootCmd.AddCommand(runCmd)
}

func runController(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outputs, err := openActuator(cfg.Actuator)
	if err != nil {
		return err
	}

	ring := rxring.New(rxring.DefaultSize)
	var (
		w        io.Writer
		act      actuator.Actuator
		producer func(context.Context) error
		closer   io.Closer
	)
	if runSim {
		s := sim.New(cfg.Simulation, ring, outputs, time.Now())
		w, act, producer = s, s, s.Run
		log.Info().Msg("using the simulated sensor")
	} else {
		conn, info, err := openConnection(ctx, cfg)
		if err != nil {
			return err
		}
		w, act, closer = conn, outputs, conn
		producer = func(ctx context.Context) error { return ring.Fill(ctx, conn) }
		log.Info().Str("connection", info).Msg("connected")
	}

	// The global logger is swapped before any goroutine can log and
	// restored only after they have all stopped.
	var (
		view *tea.Program
		fwd  *monitor.Forwarder
	)
	if runTUI && term.IsTerminal(int(os.Stdout.Fd())) {
		view = tea.NewProgram(monitor.New("GODISPENSE"), tea.WithAltScreen())
		fwd = monitor.NewForwarder(view.Send, 200*time.Millisecond)
		defer useLogger(viewLogger(fwd))()
	}
	defer startProducer(ctx, producer, closer)()

	lnk := link.NewATLink(w, ring, nil, nil)
	lnk.Retry.Attempts = cfg.Link.Retry
	lnk.Poll = cfg.Link.AckPoll

	ctrl := dispenser.New(cfg.Dispenser(), ring, lnk, act, nil)

	if view != nil {
		ctrl.OnStatus(fwd.Status)
		err = runMonitor(ctx, view, ctrl)
	} else {
		if runReportEvery > 0 {
			ctrl.OnStatus(reporter(runReportEvery))
		}
		err = ctrl.Run(ctx)
	}

	if errors.Is(err, dispenser.ErrDeviceReset) {
		log.Error().Msg("watchdog requested a device reset")
	}
	return err
}

// reporter logs the status report at most once per interval and on every
// state change.
func reporter(every time.Duration) func(*dispenser.Status) {
	var (
		last   time.Time
		state  control.State
		logged bool
	)
	return func(s *dispenser.Status) {
		if logged && s.State == state && s.Time.Sub(last) < every {
			return
		}
		logged = true
		last, state = s.Time, s.State
		for _, line := range strings.Split(strings.TrimRight(s.Report(), "\n"), "\n") {
			log.Info().Str("tag", "STATUS").Msg(line)
		}
	}
}

// runMonitor runs the controller behind the live view until either one
// stops.
func runMonitor(ctx context.Context, p *tea.Program, ctrl *dispenser.Controller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		err := ctrl.Run(ctx)
		errc <- err
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-errc
		return fmt.Errorf("monitor: %w", err)
	}
	cancel()
	return <-errc
}

// startProducer runs the ring producer in the background. The returned stop
// function cancels it, closes c when set so blocked reads return, and waits
// for the producer to exit.
func startProducer(ctx context.Context, producer func(context.Context) error, c io.Closer) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := producer(ctx); err != nil {
			log.Error().Err(err).Msg("receive stopped")
		}
	}()
	return func() {
		cancel()
		if c != nil {
			c.Close()
		}
		<-done
	}
}

// useLogger installs l as the global logger and returns a function
// restoring the previous one.
func useLogger(l zerolog.Logger) (restore func()) {
	prev := log.Logger
	log.Logger = l
	return func() { log.Logger = prev }
}

// viewLogger formats log events as plain lines for the live view.
func viewLogger(fwd *monitor.Forwarder) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:          viewWriter{fwd},
		NoColor:      true,
		PartsExclude: []string{zerolog.TimestampFieldName},
	})
}

// viewWriter feeds formatted log lines into the live view.
type viewWriter struct {
	fwd *monitor.Forwarder
}

func (w viewWriter) Write(p []byte) (int, error) {
	w.fwd.Logf("%s", p)
	return len(p), nil
}
