package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/identity"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
)

func newTokenCmd(v *viper.Viper) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage admin bearer tokens",
	}

	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign an admin token with the broker's shared secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}

			verifier := identity.NewAdminTokenVerifier(config.AdminConfig{
				JWTSecret: v.GetString("secret"),
				Issuer:    v.GetString("issuer"),
				Audience:  v.GetString("audience"),
			})
			token, err := verifier.Issue(subject, ttl)
			if err != nil {
				return fmt.Errorf("mint token: %w (set --secret or TSA_ADMIN_SECRET)", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	mintCmd.Flags().String("secret", "", "admin JWT secret, same as the broker's admin.jwt_secret")
	mintCmd.Flags().String("issuer", constants.ServiceName, "token issuer")
	mintCmd.Flags().String("audience", "tsa-admin", "token audience")
	mintCmd.Flags().String("subject", "", "operator name recorded in the token")
	mintCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	_ = v.BindPFlag("secret", mintCmd.Flags().Lookup("secret"))
	_ = v.BindPFlag("issuer", mintCmd.Flags().Lookup("issuer"))
	_ = v.BindPFlag("audience", mintCmd.Flags().Lookup("audience"))

	tokenCmd.AddCommand(mintCmd)
	return tokenCmd
}
