package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dudutwizer/mad-shared-accounts/internal/grants"
	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
	"github.com/dudutwizer/mad-shared-accounts/internal/zone"
)

func newVerifyGrantCmd(opts *globalOptions) *cobra.Command {
	var (
		principal string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify-grant",
		Short: "Check a principal can read the directory secret",
		Long: `Verify-grant reads the secret's resource policy and the key's grants in
the shared account and checks the principal is allowed to read and decrypt
the directory credentials. Defaults to the worker role.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := topology.LoadFile(opts.file)
			if err != nil {
				return err
			}
			if principal == "" {
				principal = f.WorkerRoleArn()
			}

			secretArn, keyArn := f.Literals.SecretArn, f.Literals.KMSKeyArn
			if secretArn == "" || keyArn == "" {
				c, err := newController(cmd.Context(), f, timeout)
				if err != nil {
					return err
				}
				snap, err := c.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				shared := snap[topology.SharedResources]
				if secretArn == "" {
					secretArn, _ = shared[zone.OutputSecretArn].(string)
				}
				if keyArn == "" {
					keyArn, _ = shared[zone.OutputKMSKeyArn].(string)
				}
			}
			if secretArn == "" || keyArn == "" {
				return errors.New("the shared zone has not published its secret and key yet")
			}

			v, err := grants.NewVerifier(cmd.Context(), grantOptions(f), secretArn, keyArn)
			if err != nil {
				return err
			}
			if err := v.WaitFor(cmd.Context(), principal, timeout); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s can read %s\n", principal, secretArn)
			return nil
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "Role ARN to check (default the worker role)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "How long to wait for the grant")

	return cmd
}
