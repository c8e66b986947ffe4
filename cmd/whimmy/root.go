// Package cli implements the whimmy command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/whimmy-ai/whimmy-plugin/internal/config"
	"github.com/whimmy-ai/whimmy-plugin/internal/defaults"
)

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "whimmy",
		Short: "Whimmy bridge - connect local agents to whimmy",
		Long: `whimmy keeps a socket open to the whimmy backend for each configured
account and runs agent turns for the messages it receives.

Run 'whimmy setup' once to pair an account, then 'whimmy run'.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default <data dir>/whimmy.yaml)")
	rootCmd.PersistentFlags().StringVarP(&accountArg, "account", "a", config.DefaultAccount, "account id")

	rootCmd.AddCommand(
		runCmd(),
		setupCmd(),
		statusCmd(),
		accountsCmd(),
	)
	return rootCmd
}

// configPath returns --config or the default location.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return defaults.Path(defaults.ConfigFile)
}

func loadConfig() (*config.Config, string, error) {
	path, err := configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}
