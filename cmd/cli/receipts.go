package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/persistence/receipts"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

func newReceiptsCmd(v *viper.Viper) *cobra.Command {
	receiptsCmd := &cobra.Command{
		Use:   "receipts",
		Short: "Read the issuance receipt store",
	}
	flags := receiptsCmd.PersistentFlags()
	flags.String("driver", "sqlite", "receipt database driver (sqlite or postgres)")
	flags.String("dsn", "file:receipts.db?cache=shared", "receipt database DSN")
	_ = v.BindPFlags(flags)

	listCmd := &cobra.Command{
		Use:   "list <tenant-id>",
		Short: "List a tenant's most recent receipts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withReceiptStore(v, func(store *receipts.GormReceiptStore) error {
				list, err := store.FindByTenant(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Provider", "Policy", "Serial", "Gen time", "Attempts"})
				for _, r := range list {
					tw.AppendRow(table.Row{r.ID, r.ProviderID, r.PolicyOID, r.SerialNumber, r.GenTime.UTC().Format(time.RFC3339), r.Attempts})
				}
				tw.Render()
				return nil
			})
		},
	}
	listCmd.Flags().Int("limit", 50, "maximum receipts to show")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Count receipts per provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReceiptStore(v, func(store *receipts.GormReceiptStore) error {
				counts, err := store.CountByProvider(cmd.Context())
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), counts)
				}
				ids := make([]string, 0, len(counts))
				for id := range counts {
					ids = append(ids, id)
				}
				sort.Strings(ids)

				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Provider", "Receipts"})
				for _, id := range ids {
					tw.AppendRow(table.Row{id, counts[id]})
				}
				tw.Render()
				return nil
			})
		},
	}

	receiptsCmd.AddCommand(listCmd, statsCmd)
	return receiptsCmd
}

func withReceiptStore(v *viper.Viper, fn func(*receipts.GormReceiptStore) error) error {
	db, err := receipts.OpenDB(config.ReceiptsConfig{
		Enabled: true,
		Driver:  v.GetString("driver"),
		DSN:     v.GetString("dsn"),
	})
	if err != nil {
		return fmt.Errorf("open receipt store: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	store, err := receipts.NewGormReceiptStore(db, logger.NewNoopLogger())
	if err != nil {
		return err
	}
	return fn(store)
}
