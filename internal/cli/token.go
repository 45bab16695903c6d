package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trafficlite/trafficlite/internal/auth"
	"github.com/trafficlite/trafficlite/internal/config"
)

func newTokenCmd() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Issue a signed token for the HTTP API using server.auth_secret.
The token is printed on stdout, its expiry on stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Server.AuthSecret == "" {
				return errors.New("server.auth_secret is not set; the API runs without authentication")
			}

			svc, err := auth.NewService(cfg.Server.AuthSecret, cfg.Server.TokenExpiry())
			if err != nil {
				return err
			}
			tok, err := svc.IssueToken(subject)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", tok.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Subject claim of the token")
	return cmd
}
