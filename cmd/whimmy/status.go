package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/whimmy-ai/whimmy-plugin/internal/config"
	"github.com/whimmy-ai/whimmy-plugin/internal/pairing"
	"github.com/whimmy-ai/whimmy-plugin/internal/session"
	"github.com/whimmy-ai/whimmy-plugin/internal/store"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured accounts and recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return printStatus(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

func printStatus(ctx context.Context, w io.Writer, cfg *config.Config) error {
	if len(cfg.Accounts) == 0 {
		fmt.Fprintln(w, "No accounts configured. Run 'whimmy setup'.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tHOST\tTLS\tENABLED\tTOKEN")
	for _, id := range cfg.AccountIDs() {
		a := cfg.Accounts[id]
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n", id, a.Host, a.TLS(), a.IsEnabled(), tokenState(a))
	}
	tw.Flush()

	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(w, "\nSession store unavailable: %v\n", err)
		return nil
	}
	defer db.Close()

	n, err := db.SessionCount(ctx)
	if err != nil {
		return err
	}
	routes, err := db.Routes(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d sessions recorded\n", n)
	if len(routes) == 0 {
		return nil
	}

	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tLAST SESSION\tACCOUNT\tUPDATED")
	for _, r := range routes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.AgentID,
			session.RecoverBackendSessionKey(r.SessionKey),
			r.AccountID,
			r.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func tokenState(a *config.Account) string {
	info, err := a.Resolve()
	if err != nil {
		return "error: " + err.Error()
	}
	exp := pairing.TokenExpiry(info.Token)
	switch {
	case exp.IsZero():
		return "ok"
	case time.Until(exp) <= 0:
		return "expired " + exp.Local().Format(time.DateTime)
	default:
		return "expires " + exp.Local().Format(time.DateTime)
	}
}
