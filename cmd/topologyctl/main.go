// Command topologyctl deploys the three account zones in order and reports
// how far the topology has progressed.
//
// Usage:
//
//	topologyctl validate                 Check the topology file
//	topologyctl status                   Show the current phase
//	topologyctl up --to WORKER_LAUNCHED  Deploy up to a phase
//	topologyctl verify-grant             Check the worker can read the secret
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	file    string
	verbose bool
}

func main() {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "topologyctl",
		Short: "Deploy the shared directory topology across accounts",
		Long: `topologyctl drives the networking, shared and generic account stacks
through their deployment phases. Each run reads the stacks' outputs to find
the current phase and resumes from there.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if opts.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.file, "file", "f", "topology.yaml", "Topology file")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Stream engine output")

	rootCmd.AddCommand(
		newValidateCmd(opts),
		newStatusCmd(opts),
		newUpCmd(opts),
		newVerifyGrantCmd(opts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
