package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sarchlab/vmcore/workload"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the scenarios that jobs can run.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		names := make([]string, 0)
		for name := range workload.Scenarios() {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}
