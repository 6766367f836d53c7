package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/consumers"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/identity"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/persistence/postgres"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

func newTenantCmd(v *viper.Viper) *cobra.Command {
	tenantCmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants of the postgres identity directory",
	}

	flags := tenantCmd.PersistentFlags()
	flags.String("db-host", "localhost", "postgres host")
	flags.Int("db-port", 5432, "postgres port")
	flags.String("db-user", "postgres", "postgres user")
	flags.String("db-password", "", "postgres password")
	flags.String("db-name", "tsa", "postgres database")
	flags.String("db-sslmode", "disable", "postgres sslmode")
	flags.StringSlice("kafka-brokers", nil, "announce changes on these brokers so running instances drop cached tenants")
	flags.String("kafka-topic", "tsa.tenants", "tenant events topic")
	_ = v.BindPFlags(flags)

	hashCmd := &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "Print the SHA-256 digest stored for an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), identity.HashAPIKey(args[0]))
			return nil
		},
	}

	putCmd := &cobra.Command{
		Use:   "put <tenant-id>",
		Short: "Create or replace a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := tenantSpecFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			return withTenantStore(cmd.Context(), v, func(store *postgres.TenantStore) error {
				if err := store.Upsert(cmd.Context(), spec); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s saved\n", spec.ID)
				return announce(cmd.Context(), v, spec.ID, consumers.TenantActionUpsert)
			})
		},
	}
	putCmd.Flags().String("api-key-hash", "", "SHA-256 hex digest of the tenant API key")
	putCmd.Flags().String("new-api-key", "", "plaintext API key, hashed before storage")
	putCmd.Flags().StringSlice("permissions", []string{string(constants.PermissionSign), string(constants.PermissionRead), string(constants.PermissionPolicyRead)}, "granted permissions")
	putCmd.Flags().Int64("rate-limit", 0, "requests per minute, 0 uses the broker default")
	putCmd.Flags().StringSlice("policies", nil, "allowed policy OIDs")
	putCmd.Flags().String("default-policy", "", "default policy OID")
	putCmd.Flags().StringSlice("hash-algs", nil, "allowed digest algorithm OIDs")
	putCmd.Flags().Int64("daily-quota", 0, "requests per day, 0 for unlimited")

	disableCmd := &cobra.Command{
		Use:   "disable <tenant-id>",
		Short: "Disable a tenant without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenantStore(cmd.Context(), v, func(store *postgres.TenantStore) error {
				if err := store.Disable(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s disabled\n", args[0])
				return announce(cmd.Context(), v, args[0], consumers.TenantActionDisable)
			})
		},
	}

	tenantCmd.AddCommand(hashCmd, putCmd, disableCmd)
	return tenantCmd
}

func tenantSpecFromFlags(cmd *cobra.Command, tenantID string) (models.TenantSpec, error) {
	f := cmd.Flags()
	keyHash, _ := f.GetString("api-key-hash")
	if plain, _ := f.GetString("new-api-key"); plain != "" {
		keyHash = identity.HashAPIKey(plain)
	}
	if len(keyHash) != 64 {
		return models.TenantSpec{}, fmt.Errorf("one of --api-key-hash or --new-api-key is required")
	}

	spec := models.TenantSpec{ID: tenantID, APIKeySHA256: keyHash}
	spec.Permissions, _ = f.GetStringSlice("permissions")
	spec.RateLimitPerMin, _ = f.GetInt64("rate-limit")
	spec.AllowedPolicies, _ = f.GetStringSlice("policies")
	spec.DefaultPolicy, _ = f.GetString("default-policy")
	spec.AllowedHashAlgs, _ = f.GetStringSlice("hash-algs")
	spec.MaxRequestsPerDay, _ = f.GetInt64("daily-quota")
	return spec, nil
}

func withTenantStore(ctx context.Context, v *viper.Viper, fn func(*postgres.TenantStore) error) error {
	db, err := postgres.NewDBConnection(ctx, config.DatabaseConfig{
		Host:     v.GetString("db-host"),
		Port:     v.GetInt("db-port"),
		User:     v.GetString("db-user"),
		Password: v.GetString("db-password"),
		Database: v.GetString("db-name"),
		SSLMode:  v.GetString("db-sslmode"),
		MaxConns: 2,
	}, logger.NewNoopLogger())
	if err != nil {
		return err
	}
	defer db.Close()

	store := postgres.NewTenantStore(db.Pool(), logger.NewNoopLogger())
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	return fn(store)
}

// announce publishes a tenant change when brokers are configured.
func announce(ctx context.Context, v *viper.Viper, tenantID, action string) error {
	brokers := v.GetStringSlice("kafka-brokers")
	if len(brokers) == 0 {
		return nil
	}
	w := consumers.NewTenantEventWriter(brokers, v.GetString("kafka-topic"))
	defer w.Close()
	if err := w.Publish(ctx, tenantID, action); err != nil {
		return fmt.Errorf("tenant %s changed but the event was not published: %w", tenantID, err)
	}
	return nil
}
