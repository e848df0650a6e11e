package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lanxfer/internal/models"
	"lanxfer/internal/netiface"
)

func newInterfacesCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "interfaces",
		Short: "List local network interfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []models.NetworkInterface
			if all {
				raw, err := netiface.List()
				if err != nil {
					return err
				}
				list = raw
			} else {
				eng, err := buildEngine()
				if err != nil {
					return err
				}
				defer eng.Close()
				raw, err := eng.GetNetworkInterfaces()
				if err != nil {
					return err
				}
				list = raw
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tIP\tCATEGORY\tLOOPBACK")
			for _, i := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", i.Name, i.IP, i.Category, i.IsLoopback)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "skip interface-filter settings and list every interface, including Docker")
	return cmd
}
