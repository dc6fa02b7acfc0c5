package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/lucy/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Lucy configuration",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if path != "" {
				cfg, err = config.LoadFromFile(path)
			} else {
				cfg, err = config.NewLoader(nil).Load()
			}
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Config file path (default: layered lookup)")
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		path        string
		user        bool
		force       bool
		fromNanobot bool
		nanobotPath string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user {
				return config.NewLoader(nil).EnsureUserConfig()
			}
			if path == "" {
				path = config.ProjectConfigFile
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists: %s (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			if fromNanobot {
				if err := cfg.ImportNanobotFeishu(nanobotPath); err != nil {
					return err
				}
			}

			if err := cfg.SaveToFile(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Config file path (default "+config.ProjectConfigFile+")")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config under ~/"+config.UserConfigDir+" if missing")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().BoolVar(&fromNanobot, "from-nanobot", false, "Import Feishu credentials from a nanobot config")
	cmd.Flags().StringVar(&nanobotPath, "nanobot-config", config.DefaultNanobotConfigPath, "Nanobot config path")
	return cmd
}
