package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"devloop/internal/api"
)

var resetControlAddr string

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <resource>",
		Short: "Force a resource and its dependents to rebuild and redeploy",
		Long: `Returns the named resource to Pending in the running dev loop and re-runs
it from scratch, together with everything that depends on it. This is the
way out of an Error state, and the hammer for a resource that is Ready but
misbehaving.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			client := api.NewClient(resetControlAddr)
			if err := client.Reset(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Printf("Reset of %s requested.\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&resetControlAddr, "control-addr", api.DefaultAddr, "Address of the running dev loop's control API")
	return cmd
}
