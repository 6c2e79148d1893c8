package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dudutwizer/mad-shared-accounts/internal/deploy"
	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current deployment phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := topology.LoadFile(opts.file)
			if err != nil {
				return err
			}
			c, err := newController(cmd.Context(), f, 0)
			if err != nil {
				return err
			}
			phase, snap, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), phase, snap, format)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format: text or yaml")

	return cmd
}

type statusReport struct {
	Phase   string                    `yaml:"phase"`
	Outputs map[string]deploy.Outputs `yaml:"outputs"`
}

func writeStatus(w io.Writer, phase deploy.Phase, snap deploy.Snapshot, format string) error {
	switch format {
	case "yaml":
		report := statusReport{Phase: phase.String(), Outputs: map[string]deploy.Outputs{}}
		for z, out := range snap {
			report.Outputs[string(z)] = out
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return errors.Wrap(err, "encoding status")
		}
		return enc.Close()

	case "text":
		fmt.Fprintf(w, "Phase: %s\n", phase)
		for _, z := range topology.Zones {
			fmt.Fprintf(w, "\n%s:\n", z)
			out := snap[z]
			keys := make([]string, 0, len(out))
			for k := range out {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "  %s: %v\n", k, out[k])
			}
		}
		return nil
	}
	return errors.Errorf("unknown output format %q", format)
}
