package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"anomalyd/internal/app"
)

func dispatchCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatch tick and exit",
		Long: `Run one dispatch tick for the current minute (or --at) and exit.

Examples:
  # Deliver whatever is due right now
  anomalyd dispatch

  # Replay the 09:30 tick of a given day
  anomalyd dispatch --at 2024-05-14T09:30:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}

			a, err := app.NewApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Dispatch().Tick(cmd.Context(), now)
			fmt.Fprintf(cmd.OutOrStdout(), "due=%d sent=%d failed=%d\n", res.Due, res.Sent, res.Failed)
			return err
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "tick time (RFC3339); defaults to now")
	return cmd
}
