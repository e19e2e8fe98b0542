// Command authd serves the franchise auth API and manages its schema.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "authd",
	Short: "Multi-tenant authentication and authorization service",
	Long: `authd issues and validates tokens for franchise users and resolves their
per tenant permissions.

Configuration is read from --config (or ./authd.yaml) and AUTH_* environment
variables. AUTH_SIGNING_KEY and AUTH_PASSWORD_PEPPER are required.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newHashPasswordCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
