package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of devloop",
		Long:  `All software has versions. This is devloop's.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("devloop version %s\n", rootCmd.Version)
		},
	}
}
