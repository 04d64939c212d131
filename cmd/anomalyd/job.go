package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"anomalyd/internal/app"
)

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and run detection jobs",
	}
	cmd.AddCommand(jobListCmd(), jobRunCmd())
	return cmd
}

func jobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs with their status and last evaluated window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			all, err := a.Jobs().All(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tFREQUENCY\tLAST WINDOW")
			for _, j := range all {
				last := "-"
				if !j.ReportNominalTime.IsZero() {
					last = j.ReportNominalTime.UTC().Format(time.RFC3339)
				}
				freq := j.Frequency
				if freq == "" {
					freq = j.Granularity
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", j.ID, j.Status, freq, last)
			}
			return w.Flush()
		},
	}
}

func jobRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run one detection pass for a job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Runner().Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job=%s window=%s anomalies=%d reports=%d placeholder=%t\n",
				res.JobID, res.NominalTime.UTC().Format(time.RFC3339), res.Anomalies, len(res.Reports), res.Placeholder)
			if res.Failure != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "failure: %v\n", res.Failure)
			}
			return nil
		},
	}
}
