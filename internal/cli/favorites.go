package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newFavoritesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "Manage saved send destinations",
	}
	cmd.AddCommand(newFavoritesListCmd())
	cmd.AddCommand(newFavoritesAddCmd())
	cmd.AddCommand(newFavoritesRemoveCmd())
	return cmd
}

func newFavoritesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved destinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			favs := eng.Favorites().List()
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tLAST RESOLVED IP")
			for _, f := range favs {
				resolved := ""
				if f.LastResolvedIP != nil {
					resolved = *f.LastResolvedIP
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.ID, f.Name, f.Address, resolved)
			}
			return tw.Flush()
		},
	}
}

func newFavoritesAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <address>",
		Short: "Save a new destination",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			f, err := eng.Favorites().Add(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "added %s (%s)\n", f.Name, f.ID)
			return nil
		},
	}
}

func newFavoritesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a saved destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			return eng.Favorites().Delete(args[0])
		},
	}
}
