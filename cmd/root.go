package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"devloop/internal/manifest"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "devloop",
	Short: "Run a dependency-aware build and deploy loop for local development",
	Long: `devloop reads a manifest describing the services of a containerized
application, builds the ones that changed, deploys them in dependency
order, and keeps the whole stack converged while you edit code.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. invalid manifests, failed deploys)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "devloop version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// A broken manifest is operator error, not a crash; signal it with a
		// dedicated exit code.
		var cfgErr *manifest.ConfigError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newUpCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
