/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	configCmd.AddCommand(newConfigDefaultsCmd())
	return configCmd
}

// newConfigDefaultsCmd creates the 'config defaults' command.
func newConfigDefaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Print the built-in configuration as YAML",
		Long: `Print the built-in configuration as YAML.

The output is a valid configuration file and may be used as a starting point:
  callthrottle config defaults > callthrottle.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(NewDefaultAppConfig()); err != nil {
				return fmt.Errorf("encode default configuration: %w", err)
			}
			return enc.Close()
		},
	}
}
