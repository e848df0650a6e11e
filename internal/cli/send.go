package cli

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"lanxfer/internal/events"
)

func newSendCmd() *cobra.Command {
	var toPort int

	cmd := &cobra.Command{
		Use:   "send <host[:port]> <file>...",
		Short: "Send one or more files to a peer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := splitHostPort(args[0], toPort)
			if err != nil {
				return err
			}
			paths := args[1:]

			eng, err := buildEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			sub := eng.Subscribe()
			defer sub.Close()

			done := make(chan struct{})
			go renderProgress(sub, done)

			err = eng.SendFiles(GetContext(), host, port, paths)
			close(done)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "transfer complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&toPort, "port", 0, "peer port (default: lanxfer's default port, or the :port suffix on the host argument)")
	return cmd
}

func splitHostPort(arg string, flagPort int) (string, int, error) {
	if host, portStr, err := net.SplitHostPort(arg); err == nil {
		p, perr := strconv.Atoi(portStr)
		if perr != nil {
			return "", 0, fmt.Errorf("invalid port in %q", arg)
		}
		return host, p, nil
	}
	port := flagPort
	if port == 0 {
		port = cfgPort
	}
	return arg, port, nil
}

// speedEWMA smooths a byte-delta-per-tick series into a bytes/sec estimate
// over the last 5 samples. The core engine always reports speed_bps as 0,
// leaving rate computation to the presentation layer; the CLI computes its
// own.
type speedEWMA struct {
	alpha     float64
	value     float64
	lastBytes int64
	lastTime  time.Time
	primed    bool
}

func newSpeedEWMA() *speedEWMA {
	return &speedEWMA{alpha: 2.0 / (5.0 + 1.0)} // standard N=5 EWMA smoothing constant
}

func (s *speedEWMA) sample(bytesTransferred int64, now time.Time) float64 {
	if !s.primed {
		s.lastBytes = bytesTransferred
		s.lastTime = now
		s.primed = true
		return s.value
	}
	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed <= 0 {
		return s.value
	}
	instant := float64(bytesTransferred-s.lastBytes) / elapsed
	s.value = s.alpha*instant + (1-s.alpha)*s.value
	s.lastBytes = bytesTransferred
	s.lastTime = now
	return s.value
}

// renderProgress drives a progressbar.ProgressBar from Progress events,
// tracking one bar per current file since the sender streams files one at
// a time, and overlaying an EWMA-smoothed speed in the description.
func renderProgress(sub *events.Subscription, done <-chan struct{}) {
	var bar *progressbar.ProgressBar
	var currentFile string
	var speed *speedEWMA

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Kind != events.KindProgress || ev.Progress == nil {
				continue
			}
			p := ev.Progress
			if p.CurrentFile != currentFile || bar == nil {
				if bar != nil {
					_ = bar.Finish()
				}
				currentFile = p.CurrentFile
				speed = newSpeedEWMA()
				bar = progressbar.NewOptions64(p.TotalBytes,
					progressbar.OptionSetDescription(currentFile),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowBytes(true),
					progressbar.OptionSetWidth(40),
					progressbar.OptionThrottle(100*time.Millisecond),
					progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
				)
			}
			bps := speed.sample(p.BytesTransferred, time.Now())
			bar.Describe(fmt.Sprintf("%s (%.1f MB/s)", currentFile, bps/1e6))
			_ = bar.Set64(p.BytesTransferred)
		}
	}
}
