package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	apiclient "github.com/GarthBrooksFan/experiment-tracker/pkg/api/client"
)

var experimentsCmd = &cobra.Command{
	Use:     "experiments",
	Aliases: []string{"exp"},
	Short:   "Browse experiments and their logs",
}

var experimentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		query := apiclient.ExperimentQuery{}
		query.Search, _ = flags.GetString("search")
		query.Status, _ = flags.GetString("status")
		query.Resource, _ = flags.GetString("resource")
		query.Researcher, _ = flags.GetString("researcher")
		query.Tags, _ = flags.GetStringSlice("tags")
		query.SortBy, _ = flags.GetString("sort-by")
		query.SortOrder, _ = flags.GetString("sort-order")
		query.Page, _ = flags.GetInt("page")
		query.Limit, _ = flags.GetInt("limit")

		var page apiclient.ExperimentPage
		err := withSession(cmd.Context(), func(c *apiclient.Client) error {
			var err error
			page, err = c.ListExperiments(cmd.Context(), query)
			return err
		})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tRESEARCHER\tSTATUS\tRESOURCE\tUTIL\tSTART\tEND")
		for _, e := range page.Experiments {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d%%\t%s\t%s\n",
				e.ID, e.Name, e.Researcher, e.Status, deref(e.AssignedResource), e.ResourceUtilization, deref(e.StartDate), deref(e.EndDate))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Printf("page %d of %d (%d total)\n", page.Pagination.Page, page.Pagination.Pages, page.Pagination.Total)
		return nil
	},
}

var experimentsLogCmd = &cobra.Command{
	Use:   "log <experiment-id> <message>",
	Short: "Append a log entry to an experiment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("level")
		var entry apiclient.LogEntry
		err := withSession(cmd.Context(), func(c *apiclient.Client) error {
			var err error
			entry, err = c.AppendLog(cmd.Context(), args[0], level, args[1], nil)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Printf("log %d recorded at %s\n", entry.ID, entry.Timestamp.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Check whether a booking would overload a resource",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		check := apiclient.ConflictCheck{}
		check.StartDate, _ = flags.GetString("start")
		check.EndDate, _ = flags.GetString("end")
		check.AssignedResource, _ = flags.GetString("resource")
		check.ResourceUtilization, _ = flags.GetInt("utilization")
		check.ExcludeExperimentID, _ = flags.GetString("exclude")

		var report apiclient.ConflictReport
		err := withSession(cmd.Context(), func(c *apiclient.Client) error {
			var err error
			report, err = c.CheckConflicts(cmd.Context(), check)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Printf("total utilization: %d%%\n", report.TotalUtilization)
		for _, e := range report.ConflictingExperiments {
			fmt.Printf("  overlaps %s (%s) at %d%%\n", e.Name, e.ID, e.ResourceUtilization)
		}
		if report.Recommendations.Warning != nil {
			fmt.Printf("warning: %s\n", *report.Recommendations.Warning)
		}
		fmt.Println(report.Recommendations.Suggestion)
		if !report.Recommendations.CanProceed {
			return fmt.Errorf("booking would exceed resource capacity")
		}
		return nil
	},
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func init() {
	flags := experimentsListCmd.Flags()
	flags.String("search", "", "match name or description")
	flags.String("status", "", "filter by status")
	flags.String("resource", "", "filter by resource key")
	flags.String("researcher", "", "filter by researcher")
	flags.StringSlice("tags", nil, "require every listed tag")
	flags.String("sort-by", "", "sort key")
	flags.String("sort-order", "", "asc or desc")
	flags.Int("page", 0, "page number")
	flags.Int("limit", 0, "page size")

	experimentsLogCmd.Flags().String("level", "info", "info, warning, error or success")
	experimentsCmd.AddCommand(experimentsListCmd, experimentsLogCmd)

	cflags := conflictsCmd.Flags()
	cflags.String("start", "", "start date (YYYY-MM-DD)")
	cflags.String("end", "", "end date (YYYY-MM-DD)")
	cflags.String("resource", "", "resource key")
	cflags.Int("utilization", 0, "requested utilization percentage")
	cflags.String("exclude", "", "experiment id to ignore, when rescheduling")
}
