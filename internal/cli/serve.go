package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lanxfer/internal/engine"
	"lanxfer/internal/events"
	"lanxfer/internal/models"
)

func newServeCmd() *cobra.Command {
	var trustedHosts []string
	var autoAccept bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for incoming transfer offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			settings := eng.Settings()
			settings.TrustedHosts = trustedHosts
			if err := eng.UpdateConfig(settings); err != nil {
				return err
			}

			sub := eng.Subscribe()
			defer sub.Close()

			if err := eng.StartServer(); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "listening on port %d, writing received files to %s\n", settings.Port, settings.DownloadDir)
			if len(trustedHosts) > 0 {
				fmt.Fprintf(os.Stdout, "trusted hosts (auto-accept): %s\n", strings.Join(trustedHosts, ", "))
			}
			if autoAccept {
				fmt.Fprintln(os.Stdout, "auto-accept enabled: every offer will be accepted without a prompt")
			}

			return runEventLoop(GetContext(), eng, sub, autoAccept)
		},
	}

	cmd.Flags().StringSliceVar(&trustedHosts, "trust", nil, "IP addresses to auto-accept offers from")
	cmd.Flags().BoolVar(&autoAccept, "auto-accept", false, "accept every incoming offer without prompting")
	return cmd
}

// runEventLoop prints incoming offers, optionally prompting on stdin for a
// decision, and streams progress/completion lines, until ctx is cancelled.
func runEventLoop(ctx context.Context, eng *engine.Engine, sub *events.Subscription, autoAccept bool) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			printEvent(ev)
			if ev.Kind == events.KindTransferRequest && ev.Transfer != nil {
				handleOffer(eng, *ev.Transfer, autoAccept, reader)
			}
		}
	}
}

func handleOffer(eng *engine.Engine, pt models.PendingTransfer, autoAccept bool, reader *bufio.Reader) {
	if autoAccept {
		if _, err := eng.AcceptTransfer(pt.ID); err != nil {
			fmt.Fprintf(os.Stderr, "accept %s: %v\n", pt.ID, err)
		}
		return
	}

	fmt.Fprint(os.Stdout, "accept? [y/N] ")
	line, _ := reader.ReadString('\n')
	if strings.EqualFold(strings.TrimSpace(line), "y") {
		if _, err := eng.AcceptTransfer(pt.ID); err != nil {
			fmt.Fprintf(os.Stderr, "accept %s: %v\n", pt.ID, err)
		}
		return
	}
	if err := eng.RejectTransfer(pt.ID, "declined by user"); err != nil {
		fmt.Fprintf(os.Stderr, "reject %s: %v\n", pt.ID, err)
	}
}

func printEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindTransferRequest:
		if ev.Transfer != nil {
			fmt.Fprintf(os.Stdout, "\n[offer] %s wants to send %d file(s) (%d bytes) from %s\n",
				displayName(ev.Transfer.SenderName), len(ev.Transfer.Files), ev.Transfer.TotalSize, ev.Transfer.SourceIP)
		}
	case events.KindTransferComplete:
		fmt.Fprintf(os.Stdout, "[done] transfer %s complete\n", ev.TransferID)
	case events.KindTransferFailed:
		fmt.Fprintf(os.Stdout, "[failed] transfer %s: %s\n", ev.TransferID, ev.Error)
	case events.KindTransferRetry:
		fmt.Fprintf(os.Stdout, "[retry] attempt %d/%d\n", ev.Attempt, ev.MaxAttempts)
	}
}

func displayName(name string) string {
	if name == "" {
		return "a peer"
	}
	return name
}
