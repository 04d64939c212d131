// anomalyd runs anomaly detection jobs and delivers digests to subscribed
// targets.
//
// Usage:
//
//	anomalyd serve -c ./anomalyd.json
//	anomalyd dispatch -c ./anomalyd.json
//	anomalyd job run orders-hourly
//	anomalyd target validate --destination https://hooks.example/x --name Team
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	cfgPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "anomalyd",
		Short:         "Anomaly detection and digest delivery daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./anomalyd.json", "path to config (json or yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(dispatchCmd())
	root.AddCommand(jobCmd())
	root.AddCommand(targetCmd())
	return root
}
