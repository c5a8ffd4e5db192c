package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"

	"github.com/itohio/godispense/pkg/actuator"
	"github.com/itohio/godispense/pkg/config"
	"github.com/itohio/godispense/pkg/control"
	"github.com/itohio/godispense/pkg/dispenser"
	"github.com/itohio/godispense/pkg/frame"
	"github.com/itohio/godispense/pkg/link"
	"github.com/itohio/godispense/pkg/monitor"
	"github.com/itohio/godispense/pkg/rxring"
	"github.com/itohio/godispense/pkg/sim"
	"github.com/itohio/godispense/pkg/threshold"
)

func twoEchoes() *frame.SensorFrame {
	f := &frame.SensorFrame{Primary: 129, Secondary: 300}
	f.Profile[68] = 1500
	f.Profile[148] = 1200
	return f
}

func TestParseSendArg(t *testing.T) {
	tests := []struct {
		arg  string
		want link.Command
		ok   bool
	}{
		{"AT+S3=73", link.NearBoundary(73), true},
		{"s3=73", link.NearBoundary(73), true},
		{" reboot ", link.Reboot(), true},
		{"DEBUG=1", link.Verbose(), true},
		{"STOP=1", link.Command{}, false},
		{"T2", link.Command{}, false},
		{"HELLO", link.Command{}, false},
	}
	for _, tt := range tests {
		got, err := parseSendArg(tt.arg)
		if !tt.ok {
			assert.Error(t, err, tt.arg)
			continue
		}
		require.NoError(t, err, tt.arg)
		assert.Equal(t, tt.want, got, tt.arg)
	}
}

func TestReplyLines(t *testing.T) {
	reply := []byte("a:129b:300s:0,0,0\r\nOK\r\n\r\nERROR\n")
	assert.Equal(t, []string{"OK", "ERROR"}, replyLines(reply))
	assert.Empty(t, replyLines(nil))
}

func TestCapture_Wraps(t *testing.T) {
	ring := rxring.New(8)
	_, _ = ring.Write([]byte("123456"))
	start := ring.WritePos()
	_, _ = ring.Write([]byte("OK\r\n"))
	assert.Equal(t, "OK\r\n", string(capture(ring, start, nil)))
}

func TestExchange_Simulator(t *testing.T) {
	cfg = config.Default()
	sendTimeout = 200 * time.Millisecond

	var out bytes.Buffer
	err := exchangeWith(t.Context(), &out, link.NearThreshold(345), func(ring *rxring.Ring) (io.Writer, func(), error) {
		return sim.New(cfg.Simulation, ring, nil, time.Now()), func() {}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "> AT+T2=345\n< OK\nacknowledged\n", out.String())
}

func TestExchange_Timeout(t *testing.T) {
	cfg = config.Default()
	sendTimeout = 20 * time.Millisecond

	var out bytes.Buffer
	err := exchangeWith(t.Context(), &out, link.Stop(), func(ring *rxring.Ring) (io.Writer, func(), error) {
		return io.Discard, func() {}, nil
	})
	assert.ErrorIs(t, err, link.ErrAckTimeout)
	assert.Contains(t, out.String(), "no acknowledgement")
}

func TestReadFrame(t *testing.T) {
	var in bytes.Buffer
	in.WriteString("OK\r\n")
	in.WriteString("garbage")
	in.Write(frame.Append(nil, twoEchoes()))
	in.WriteString("a:1b:2s:1,2\r\n")

	var f frame.SensorFrame
	require.NoError(t, readFrame(&in, &f))
	assert.Equal(t, 129, f.Primary)
	assert.Equal(t, 300, f.Secondary)
	assert.Equal(t, 1500, f.Profile[68])
	assert.False(t, f.Padded)

	assert.ErrorIs(t, readFrame(strings.NewReader("OK\r\n"), &f), ErrNoFrame)
}

func TestPrintCalibration(t *testing.T) {
	f := twoEchoes()
	r := threshold.Compute(f.Profile[:])

	var out bytes.Buffer
	printCalibration(&out, f, &r)
	assert.Contains(t, out.String(), "Thresholds: S3=73 S4=144 T2=345 T3=300")
	assert.Contains(t, out.String(), "Edge: bin 66")

	empty := threshold.NoContainer()
	out.Reset()
	printCalibration(&out, f, &empty)
	assert.Contains(t, out.String(), "No container detected, defaults: S3=60 S4=152 T2=400 T3=250")
}

func TestReporter(t *testing.T) {
	prev := log.Logger
	defer func() { log.Logger = prev }()
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	report := reporter(time.Second)
	t0 := time.Now()
	st := &dispenser.Status{Time: t0, State: control.StateDetect}
	report(st)
	st.Time = t0.Add(100 * time.Millisecond)
	report(st)
	st.State = control.StateConfigure
	report(st)

	assert.Equal(t, 2, strings.Count(buf.String(), "State: "))
}

func TestCalibrateCommand_File(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "capture.txt")
	require.NoError(t, os.WriteFile(capture, frame.Append(nil, twoEchoes()), 0o644))
	img := filepath.Join(dir, "calibration.png")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"calibrate", "--config", filepath.Join(dir, "missing.yaml"), "--file", capture, "--plot", img})
	defer rootCmd.SetArgs(nil)
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "Thresholds: S3=73 S4=144 T2=345 T3=300")
	info, err := os.Stat(img)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestGPIOConfig(t *testing.T) {
	c := config.Default().Actuator
	c.Drive = "pwm"
	c.Duty = 50

	got := gpioConfig(c)
	assert.Equal(t, actuator.DrivePWM, got.Drive)
	assert.Equal(t, physic.KiloHertz, got.Frequency)
	assert.Equal(t, gpio.DutyHalf, got.Duty)
	assert.Equal(t, "GPIO17", got.Pump)
}

func TestOpenActuator_Recorder(t *testing.T) {
	act, err := openActuator(config.Default().Actuator)
	require.NoError(t, err)
	assert.IsType(t, &actuator.Recorder{}, act)

	_, err = openActuator(config.ActuatorConfig{Backend: "relay"})
	assert.Error(t, err)
}

func TestStartProducer_StopWaits(t *testing.T) {
	var ticks atomic.Int32
	stop := startProducer(t.Context(), func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Millisecond):
				ticks.Add(1)
			}
		}
	}, nil)

	time.Sleep(10 * time.Millisecond)
	stop()
	after := ticks.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "producer still running after stop")
}

type chanCloser chan struct{}

func (c chanCloser) Close() error {
	close(c)
	return nil
}

func TestStartProducer_ClosesBlockedReader(t *testing.T) {
	closed := make(chanCloser)
	stop := startProducer(t.Context(), func(context.Context) error {
		// Ignores cancellation like a blocked serial read.
		<-closed
		return nil
	}, closed)

	finished := make(chan struct{})
	go func() {
		stop()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
}

func TestUseLogger_Restores(t *testing.T) {
	prev := log.Logger
	var sent []string
	fwd := monitor.NewForwarder(func(msg tea.Msg) {
		if m, ok := msg.(monitor.LogMsg); ok {
			sent = append(sent, m.Text)
		}
	}, time.Second)

	restore := useLogger(viewLogger(fwd))
	log.Info().Str("tag", "SIM").Msg("container placed")
	restore()
	log.Info().Msg("after restore")

	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "container placed")
	assert.NotContains(t, sent[0], "\x1b[")
	assert.Equal(t, prev, log.Logger)
}
