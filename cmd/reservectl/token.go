package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/studio-reservation/internal/config"
	"github.com/iliyamo/studio-reservation/internal/token"
)

// issueTokenCmd mints an access token in the identity provider's format
// for local testing.  It refuses to run with APP_ENV=prod.
func issueTokenCmd() *cobra.Command {
	var (
		userID uint64
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-dev-token",
		Short: "Sign a development access token with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.Env == "prod" {
				return fmt.Errorf("issue-dev-token is disabled in prod")
			}
			if userID == 0 {
				return fmt.Errorf("--user must be greater than zero")
			}
			if role != token.RoleMember && role != token.RoleAdmin {
				return fmt.Errorf("--role must be %s or %s", token.RoleMember, token.RoleAdmin)
			}
			at, err := token.NewAccessToken(cfg.JWTSecret, userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), at.Token)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&userID, "user", 0, "Member id placed in the sub claim")
	cmd.Flags().StringVar(&role, "role", token.RoleMember, "Role claim: MEMBER or ADMIN")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
