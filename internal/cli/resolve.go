package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lanxfer/internal/resolver"
)

func newResolveCmd() *cobra.Command {
	var checkPort int

	cmd := &cobra.Command{
		Use:   "resolve <address>",
		Short: "Resolve a hostname or IP to candidate addresses, optionally probing reachability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := resolver.Resolve(args[0])
			if !result.Success {
				fmt.Fprintf(os.Stderr, "could not resolve %s: %s\n", result.Hostname, result.Error)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "%s -> %s\n", result.Hostname, strings.Join(result.IPs, ", "))

			if checkPort == 0 {
				return nil
			}

			eng, err := buildEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			reachable, err := eng.CheckPeer(GetContext(), result.Hostname, checkPort)
			if err != nil {
				fmt.Fprintf(os.Stderr, "health check on %s:%d failed: %v\n", result.Hostname, checkPort, err)
				os.Exit(1)
			}
			if !reachable {
				fmt.Fprintf(os.Stdout, "%s:%d is not reachable\n", result.Hostname, checkPort)
				return nil
			}

			info, err := eng.GetPeerInfo(GetContext(), result.Hostname, checkPort)
			if err != nil {
				fmt.Fprintf(os.Stderr, "reachable, but peer info request failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "%s:%d is reachable (%s %s, device %q)\n", result.Hostname, checkPort, info.App, info.Version, info.Name)
			return nil
		},
	}

	cmd.Flags().IntVar(&checkPort, "check-port", 0, "probe reachability and fetch peer info on this port after resolving")
	return cmd
}
