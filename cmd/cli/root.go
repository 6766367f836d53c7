// Package cli implements tsa-admin, the operator tool of the TSA broker.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd builds the command tree. Every flag can also be set through a TSA_ADMIN_*
// environment variable.
// NewRootCmd 构建命令树。所有参数也可以通过 TSA_ADMIN_* 环境变量设置。
func NewRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "tsa-admin",
		Short: "Operate a running TSA broker.",
		Long: `tsa-admin talks to the TSA broker's HTTP API to inspect provider health,
drain the dispatch queue and read tenant policies. It also mints admin tokens,
manages tenants in the postgres directory and reads the receipt store.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("url", "http://localhost:8080", "broker base URL")
	flags.String("api-key", "", "tenant API key for tenant endpoints")
	flags.String("token", "", "admin bearer token for admin endpoints")
	flags.Duration("timeout", 10*time.Second, "request timeout")
	flags.Bool("json", false, "print raw JSON")
	_ = v.BindPFlags(flags)

	v.SetEnvPrefix("TSA_ADMIN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(
		newStatusCmd(v),
		newDrainCmd(v),
		newPolicyCmd(v),
		newTokenCmd(v),
		newTenantCmd(v),
		newReceiptsCmd(v),
	)
	return rootCmd
}

// Execute runs the CLI and exits non-zero on failure.
// Execute 运行命令行工具，失败时以非零状态退出。
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
