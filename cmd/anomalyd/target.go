package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"anomalyd/internal/app"
	"anomalyd/internal/model"
)

func targetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "target",
		Short: "Validate and inspect digest targets",
	}
	cmd.AddCommand(targetValidateCmd(), targetListCmd())
	return cmd
}

func targetValidateCmd() *cobra.Command {
	t := model.NewTarget("", "", "", "", "")
	var repeat string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check target settings without storing them",
		Long: `Check target settings without storing them.

Examples:
  anomalyd target validate --destination https://hooks.example/x --name "Team A" --repeat DAY --hour 9 --minute 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t.RepeatInterval = model.Cadence(repeat)
			if err := model.ValidateTarget(t); err != nil {
				return err
			}
			h, m := t.SendOut()
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s every %s at %02d:%02d\n", t.Destination, t.RepeatInterval, h, m)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&t.ID, "id", "", "target id")
	f.StringVar(&t.Destination, "destination", "", "http(s) webhook or telegram://<chat>[/<thread>]")
	f.StringVar(&t.Name, "name", "", "display name")
	f.StringVar(&t.Icon, "icon", "", "icon, e.g. :bell:")
	f.StringVar(&t.Mention, "mention", "", "mention, e.g. @oncall")
	f.StringVar(&t.SendOutHour, "hour", model.DefaultSendOutHour, "send-out hour (0-23)")
	f.StringVar(&t.SendOutMinute, "minute", model.DefaultSendOutMinute, "send-out minute (0-59)")
	f.StringVar(&repeat, "repeat", string(model.CadenceInstant), "INSTANT, MINUTE, HOUR, DAY, WEEK or MONTH")
	return cmd
}

func targetListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered targets with their pending report count",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			all, err := a.Targets().All(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREPEAT\tSEND OUT\tPENDING\tDESTINATION")
			for _, t := range all {
				pending, err := a.Reports().PendingFor(cmd.Context(), t.ID)
				if err != nil {
					return err
				}
				h, m := t.SendOut()
				fmt.Fprintf(w, "%s\t%s\t%02d:%02d\t%d\t%s\n", t.ID, t.RepeatInterval, h, m, len(pending), t.Destination)
			}
			return w.Flush()
		},
	}
}
