package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"devloop/internal/api"
)

var statusControlAddr string

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every resource's state in the running dev loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(statusControlAddr)
			resp, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tKIND\tSTATE\tHEALTH\tERROR")
			for _, r := range resp.Resources {
				errMsg := r.Error
				if len(errMsg) > 60 {
					errMsg = errMsg[:57] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Kind, r.State, r.Health, errMsg)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&statusControlAddr, "control-addr", api.DefaultAddr, "Address of the running dev loop's control API")
	return cmd
}
