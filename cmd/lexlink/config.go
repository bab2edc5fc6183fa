package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/japaniel/lexlink/pkg/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage lexlink configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Display the configuration after merging defaults, the config file, LEXLINK_* environment variables and flags.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if used := c.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(c.errOut, "Configuration file: %s\n", used)
			} else {
				fmt.Fprintln(c.errOut, "No configuration file found (using defaults and environment)")
			}
			data, err := yaml.Marshal(c.cfg)
			if err != nil {
				return fmt.Errorf("error marshaling config: %w", err)
			}
			_, err = c.out.Write(data)
			return err
		},
	}

	var path string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}
			data, err := yaml.Marshal(config.DefaultConfig())
			if err != nil {
				return fmt.Errorf("error marshaling config: %w", err)
			}
			header := "# lexlink configuration\n# Every key can be overridden with LEXLINK_<SECTION>_<KEY>, e.g. LEXLINK_DATABASE_PATH.\n\n"
			if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
				return fmt.Errorf("error writing config: %w", err)
			}
			fmt.Fprintf(c.out, "Created default configuration: %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", "lexlink.yaml", "where to write the file")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(show, initCmd)
	return cmd
}
