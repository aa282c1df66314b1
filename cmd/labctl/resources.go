package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	apiclient "github.com/GarthBrooksFan/experiment-tracker/pkg/api/client"
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Show shared resources and their load",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list apiclient.ResourceList
		err := withSession(cmd.Context(), func(c *apiclient.Client) error {
			var err error
			list, err = c.ListResources(cmd.Context(), true)
			return err
		})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tTYPE\tSTATUS\tUSAGE\tACTIVE\tOVER")
		for _, r := range list.Resources {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%d\t%t\n",
				r.ResourceID, r.Name, r.Type, r.DerivedStatus, r.CalculatedUsage, r.ActiveExperiments, r.OverAllocated)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if s := list.Summary; s != nil {
			fmt.Printf("%d resources: %d active, %d idle, %d over-allocated\n", s.Total, s.Active, s.Idle, s.OverAllocated)
		}
		return nil
	},
}
