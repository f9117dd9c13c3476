package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			reg, err := newRegistry(cmd.Context(), s)
			if err != nil {
				return err
			}
			if reg.Len() == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no tools registered")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), reg.DescribeAll())
			return nil
		},
	}
}
