package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"million-dialogue/internal/auth"
	"million-dialogue/internal/config"
	"million-dialogue/internal/domain"
)

// NewTokenCmd issues a development token signed with the configured secret.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		identity domain.Identity
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed player token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if identity.DisplayName == "" {
				identity.DisplayName = identity.UserID
			}
			token, err := auth.NewJWTAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer).Issue(identity, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&identity.UserID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&identity.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&identity.AvatarRef, "avatar", "", "avatar reference")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
