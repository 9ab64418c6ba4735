package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
	"github.com/vs4vijay/microsoft-garage/pkg/config"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dronectl",
		Short:         "Supervised flight agent CLI",
		Long:          "Runs natural-language flight goals through the plan / validate / execute / observe loop, locally or against the API server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringP("config", "c", "configs/drone.yaml", "Path to config file")
	root.PersistentFlags().String("api", apiBaseURL(), "API server base URL for remote commands")

	root.AddCommand(
		runCmd(),
		toolsCmd(),
		configCmd(),
		versionCmd(),
		sessionCmd(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadOrDefault(path)
}

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the flight tools the planner may propose",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			registry := tools.NewBuiltinRegistry()
			if asJSON {
				data, err := registry.SchemasForLLM()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			for _, d := range registry.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-26s %-10s %s\n", d.Name, d.Kind, d.Description)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print tool schemas as JSON")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// 不输出明文密钥
			if cfg.Planner.APIKey != "" {
				cfg.Planner.APIKey = "***"
			}
			if cfg.Vision.APIKey != "" {
				cfg.Vision.APIKey = "***"
			}
			if cfg.Secrets.Vault.Token != "" {
				cfg.Secrets.Vault.Token = "***"
			}
			if cfg.Archive.Password != "" {
				cfg.Archive.Password = "***"
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dronectl %s\n", version)
		},
	}
}
