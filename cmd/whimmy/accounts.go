package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whimmy-ai/whimmy-plugin/internal/config"
	"github.com/whimmy-ai/whimmy-plugin/internal/keyring"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List and manage configured accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			for _, id := range cfg.AccountIDs() {
				a := cfg.Accounts[id]
				state := "enabled"
				if !a.IsEnabled() {
					state = "disabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", id, a.Host, state)
			}
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "remove <account>",
			Short: "Remove an account and its keychain token",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return editAccounts(func(cfg *config.Config) error {
					a, ok := cfg.Accounts[args[0]]
					if !ok {
						return fmt.Errorf("no account %q", args[0])
					}
					if keyring.IsRef(a.Token) {
						if err := keyring.Delete(args[0]); err != nil {
							return err
						}
					}
					delete(cfg.Accounts, args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "enable <account>",
			Short: "Connect this account on run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return setEnabled(args[0], true)
			},
		},
		&cobra.Command{
			Use:   "disable <account>",
			Short: "Keep this account disconnected",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return setEnabled(args[0], false)
			},
		},
	)
	return cmd
}

func setEnabled(id string, on bool) error {
	return editAccounts(func(cfg *config.Config) error {
		a, ok := cfg.Accounts[id]
		if !ok {
			return fmt.Errorf("no account %q", id)
		}
		a.Enabled = &on
		return nil
	})
}

// editAccounts loads the config, applies fn and writes it back. A running
// bridge picks the change up through its file watcher.
func editAccounts(fn func(*config.Config) error) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return config.Write(path, cfg)
}
