package cmd

import (
	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/pkg/version"
)

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.writer(cmd)
			if out.Emit(version.GetInfo()) {
				return nil
			}
			out.Statusf("%s", version.String())
			return nil
		},
	}
}
