package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/whimmy-ai/whimmy-plugin/internal/config"
	"github.com/whimmy-ai/whimmy-plugin/internal/conn"
	"github.com/whimmy-ai/whimmy-plugin/internal/keyring"
	"github.com/whimmy-ai/whimmy-plugin/internal/pairing"
)

// setupOptions are the credentials one setup run was given.
type setupOptions struct {
	code       string
	uri        string
	host       string
	token      string
	noTLS      bool
	baseURL    string
	useKeyring bool
}

func setupCmd() *cobra.Command {
	var o setupOptions

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Pair an account with the whimmy backend",
		Long: `Pair an account using a pairing code, a connection URI
(whimmy://token@host[?tls=false]) or an explicit host and token.
The connection is probed before anything is saved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := resolveSetup(cmd.Context(), o)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checking %s...\n", info.Host)
			if err := pairing.Probe(cmd.Context(), info); err != nil {
				return fmt.Errorf("connection check failed: %w", err)
			}

			path, err := configPath()
			if err != nil {
				return err
			}
			if err := saveAccount(path, accountArg, info, o.useKeyring); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %q paired with %s\n", accountArg, info.Host)
			if exp := pairing.TokenExpiry(info.Token); !exp.IsZero() {
				fmt.Fprintf(cmd.OutOrStdout(), "Token expires %s\n", exp.Local().Format(time.RFC1123))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&o.code, "code", "", "pairing code shown in the whimmy app")
	cmd.Flags().StringVar(&o.uri, "uri", "", "connection URI")
	cmd.Flags().StringVar(&o.host, "host", "", "backend host[:port]")
	cmd.Flags().StringVar(&o.token, "token", "", "plugin token")
	cmd.Flags().BoolVar(&o.noTLS, "no-tls", false, "use ws:// instead of wss:// (with --host)")
	cmd.Flags().StringVar(&o.baseURL, "base-url", "https://"+config.DefaultHost, "where pairing codes are redeemed")
	cmd.Flags().BoolVar(&o.useKeyring, "keyring", false, "store the token in the OS keychain")

	cmd.MarkFlagsMutuallyExclusive("code", "uri", "host")
	cmd.MarkFlagsOneRequired("code", "uri", "host")
	cmd.MarkFlagsRequiredTogether("host", "token")
	return cmd
}

// resolveSetup turns the given credentials into a connection triple.
func resolveSetup(ctx context.Context, o setupOptions) (conn.Info, error) {
	switch {
	case o.code != "":
		return pairing.Exchange(ctx, http.DefaultClient, o.baseURL, o.code)
	case o.uri != "":
		return pairing.ParseConnectionURI(o.uri)
	case o.host != "" && o.token != "":
		return conn.Info{Host: o.host, Token: o.token, UseTLS: !o.noTLS}, nil
	}
	return conn.Info{}, fmt.Errorf("one of --code, --uri or --host/--token is required")
}

// saveAccount writes the account into the config file at path.
func saveAccount(path, account string, info conn.Info, useKeyring bool) error {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	token := info.Token
	if useKeyring {
		if !keyring.Available() {
			return fmt.Errorf("OS keychain is not available")
		}
		if err := keyring.Set(account, info.Token); err != nil {
			return err
		}
		token = keyring.Ref(account)
	}
	cfg.SetAccount(account, info, token)
	return config.Write(path, cfg)
}
