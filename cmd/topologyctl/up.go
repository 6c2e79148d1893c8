package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dudutwizer/mad-shared-accounts/internal/deploy"
	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

func newUpCmd(opts *globalOptions) *cobra.Command {
	var (
		target       string
		grantTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Deploy the topology up to a phase",
		Long: `Up deploys the stacks step by step until the target phase is reached.

Phases, in order:
  HUB_DEPLOYED         transit gateway in the networking account
  SHARED_DEPLOYED      directory, secret and key in the shared account
  ROUTES_INSTALLED     every zone routes its peers through the gateway
  RESOLVER_ASSOCIATED  the directory domain resolves from every zone
  PERMISSIONS_GRANTED  the worker role can read the secret
  WORKER_LAUNCHED      the worker instance is running

Examples:
    topologyctl up
    topologyctl up --to ROUTES_INSTALLED`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := topology.LoadFile(opts.file)
			if err != nil {
				return err
			}
			if target == "" {
				target = defaultTarget(f).String()
			}
			to, err := deploy.ParsePhase(target)
			if err != nil {
				return err
			}

			c, err := newController(cmd.Context(), f, grantTimeout)
			if err != nil {
				return err
			}
			reached, err := c.Run(cmd.Context(), to)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reached %s\n", reached)
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "to", "", "Target phase (default WORKER_LAUNCHED, or PERMISSIONS_GRANTED when launch is off)")
	cmd.Flags().DurationVar(&grantTimeout, "grant-timeout", 5*time.Minute, "How long to wait for the grant to become visible")

	return cmd
}

func defaultTarget(f *topology.File) deploy.Phase {
	if f.Worker.Launch {
		return deploy.WorkerLaunched
	}
	return deploy.PermissionsGranted
}
