package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jbacus/auxin/internal/cmd/cli"
	"github.com/jbacus/auxin/internal/config"
)

func registerConfigCmd(parent *cobra.Command, env *cli.Env) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View auxin configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := env.Config()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := env.ConfigFile
			if path == "" {
				path = config.ConfigFile()
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}

	configCmd.AddCommand(showCmd, pathCmd)
	parent.AddCommand(configCmd)
}
