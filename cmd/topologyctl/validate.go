package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

func newValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the topology file",
		Long: `Validate loads the topology file and checks that every account is
described and that the address plan blocks do not overlap.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), opts.file)
		},
	}
}

func runValidate(w io.Writer, path string) error {
	f, err := topology.LoadFile(path)
	if err != nil {
		return err
	}

	stacks := f.Stacks()
	fmt.Fprintf(w, "Topology %s is valid\n", path)
	for _, z := range topology.Zones {
		fmt.Fprintf(w, "  %-10s %-18s %s\n", z, f.AddressPlan.CIDR(z), stacks.Of(z))
	}
	fmt.Fprintf(w, "  worker role %s\n", f.WorkerRoleArn())
	return nil
}
