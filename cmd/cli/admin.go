package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nicoladebbia/CredLink-sub020/internal/application/dto"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show provider health and queue occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status dto.StatusResponse
			if err := newBrokerClient(v).do(cmd.Context(), http.MethodGet, "/tsa/status", authAPIKey, &status); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if v.GetBool("json") {
				return printJSON(out, status)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Provider", "State", "Healthy", "Latency (ms)", "Failures", "Last checked"})
			for _, p := range status.Providers {
				tw.AppendRow(table.Row{p.ID, p.State, p.Healthy, p.LatencyMs, p.ConsecutiveFailures, p.LastCheckedAt})
			}
			tw.AppendFooter(table.Row{"queue", fmt.Sprintf("%d/%d", status.Queue.Depth, status.Queue.MaxQueueSize),
				"in flight", fmt.Sprintf("%d/%d", status.Queue.InFlight, status.Queue.MaxConcurrentDispatch),
				"uptime", fmt.Sprintf("%ds", status.UptimeSeconds)})
			tw.Render()
			return nil
		},
	}
}

func newDrainCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Force an immediate queue expiry and dispatch pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			var report dto.DrainResponse
			if err := newBrokerClient(v).do(cmd.Context(), http.MethodPost, "/tsa/queue/drain", authAdmin, &report); err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dispatched=%d expired=%d remaining=%d\n", report.Dispatched, report.Expired, report.Remaining)
			return nil
		},
	}
}

func newPolicyCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "policy <tenant-id>",
		Short: "Show a tenant's timestamp policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.PolicyResponse
			path := "/tsa/admin/policy/" + url.PathEscape(args[0])
			if err := newBrokerClient(v).do(cmd.Context(), http.MethodGet, path, authAdmin, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if v.GetBool("json") || resp.Policy == nil {
				return printJSON(out, resp)
			}

			p := resp.Policy
			algs := make([]string, 0, len(p.AllowedHashAlgs))
			for _, a := range p.AllowedHashAlgs {
				algs = append(algs, string(a))
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Field", "Value"})
			tw.AppendRows([]table.Row{
				{"tenant", p.TenantID},
				{"default policy", p.DefaultPolicy},
				{"allowed policies", strings.Join(p.AllowedPolicies, ", ")},
				{"hash algorithms", strings.Join(algs, ", ")},
				{"rate limit", fmt.Sprintf("%d per %s", p.RateLimit.Limit, p.RateLimit.Window)},
				{"daily quota", p.MaxRequestsPerDay},
			})
			tw.Render()
			return nil
		},
	}
}
