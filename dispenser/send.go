package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/itohio/godispense/pkg/frame"
	"github.com/itohio/godispense/pkg/link"
	"github.com/itohio/godispense/pkg/rxring"
	"github.com/itohio/godispense/pkg/sim"
)

var (
	sendTimeout time.Duration
	sendSim     bool
)

var sendCmd = &cobra.Command{
	Use:   "send COMMAND",
	Short: "Send one AT command and print the reply",
	Long: `Send one AT command to the sensor, print whatever it replies and report
whether it was acknowledged.

COMMAND is either the full text (AT+S3=73) or the short form without the
AT+ prefix (S3=73). Recognized commands: STOP, DEBUG=1, REBOOT, S3, S4, T2
and T3 with a value.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().DurationVarP(&sendTimeout, "timeout", "t", time.Second, "Acknowledgement timeout")
	sendCmd.Flags().BoolVar(&sendSim, "sim", false, "Send to a simulated sensor")
	rootCmd.AddCommand(sendCmd)
}

// parseSendArg accepts a command with or without the AT+ prefix.
func parseSendArg(arg string) (link.Command, error) {
	s := strings.ToUpper(strings.TrimSpace(arg))
	if !strings.HasPrefix(s, "AT+") {
		s = "AT+" + s
	}
	cmd, ok := link.ParseCommand(s)
	if !ok {
		return link.Command{}, fmt.Errorf("unknown command: %q", arg)
	}
	return cmd, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	atCmd, err := parseSendArg(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	if sendSim {
		return exchangeWith(ctx, out, atCmd, func(ring *rxring.Ring) (io.Writer, func(), error) {
			s := sim.New(cfg.Simulation, ring, nil, time.Now())
			return s, func() {}, nil
		})
	}
	return exchangeWith(ctx, out, atCmd, func(ring *rxring.Ring) (io.Writer, func(), error) {
		conn, info, err := openConnection(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(out, "Connection: %s\n", info)
		go func() {
			if err := ring.Fill(ctx, conn); err != nil {
				log.Error().Err(err).Msg("receive stopped")
			}
		}()
		return conn, func() { conn.Close() }, nil
	})
}

// exchangeWith sends cmd over the writer returned by open and prints the
// bytes that arrive in the ring until the acknowledgement or the timeout.
func exchangeWith(ctx context.Context, out io.Writer, cmd link.Command, open func(*rxring.Ring) (io.Writer, func(), error)) error {
	ring := rxring.New(rxring.DefaultSize)
	w, closeFn, err := open(ring)
	if err != nil {
		return err
	}
	defer closeFn()

	start := ring.WritePos()
	var reply []byte
	lnk := link.NewATLink(w, ring, nil, func() {
		reply = capture(ring, start, reply[:0])
	})
	lnk.Poll = cfg.Link.AckPoll

	fmt.Fprintf(out, "> %s\n", cmd)
	err = lnk.Send(cmd, sendTimeout)
	if reply == nil {
		reply = capture(ring, start, nil)
	}
	for _, line := range replyLines(reply) {
		fmt.Fprintf(out, "< %s\n", line)
	}

	switch {
	case err == nil:
		fmt.Fprintln(out, "acknowledged")
		return nil
	case errors.Is(err, link.ErrAckTimeout):
		fmt.Fprintf(out, "no acknowledgement within %v\n", sendTimeout)
		return err
	default:
		return err
	}
}

// capture appends the ring bytes written since start to dst.
func capture(ring *rxring.Ring, start int, dst []byte) []byte {
	ring.View(func(buf []byte, wr int) {
		for i := start; i != wr; i = (i + 1) % len(buf) {
			dst = append(dst, buf[i])
		}
	})
	return dst
}

// replyLines splits a reply into lines, dropping blank lines and sensor
// frames.
func replyLines(reply []byte) []string {
	var lines []string
	for _, line := range strings.FieldsFunc(string(reply), func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if line == "" || frame.LastStart([]byte(line)) >= 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
