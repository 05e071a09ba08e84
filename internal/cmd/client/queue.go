package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rzbill/herald/internal/retryqueue"
)

// NewQueueCommand builds the `queue` command group for the email retry queue.
func NewQueueCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Email retry queue administration"}
	cmd.AddCommand(newQueueListCommand(baseURL))
	cmd.AddCommand(newQueueProcessCommand(baseURL))
	cmd.AddCommand(newQueueRequeueCommand(baseURL))
	cmd.AddCommand(newQueuePurgeCommand(baseURL))
	return cmd
}

func newQueueListCommand(baseURL BaseURLFunc) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queued emails with queue stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, _ := cmd.Flags().GetString("state")
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/v1/queue"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var out struct {
				Items []retryqueue.Item `json:"items"`
				Stats retryqueue.Stats  `json:"stats"`
			}
			if err := adminTransport(cmd, baseURL).Do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	listCmd.Flags().String("state", "", "Filter by state: pending|dead")
	listCmd.Flags().Int("limit", 0, "Max items to return")
	return listCmd
}

func newQueueProcessCommand(baseURL BaseURLFunc) *cobra.Command {
	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Run one retry pass now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			var out struct {
				Sent int `json:"sent"`
			}
			in := map[string]int{"limit": limit}
			if err := adminTransport(cmd, baseURL).Do(cmd.Context(), http.MethodPost, "/v1/queue/process", in, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent:", out.Sent)
			return nil
		},
	}
	processCmd.Flags().Int("limit", 0, "Batch limit (default: server setting)")
	return processCmd
}

func newQueueRequeueCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue ID",
		Short: "Move a dead email back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := map[string]string{"id": args[0]}
			if err := adminTransport(cmd, baseURL).Do(cmd.Context(), http.MethodPost, "/v1/queue/requeue", in, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
}

func newQueuePurgeCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every dead email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Purged int `json:"purged"`
			}
			if err := adminTransport(cmd, baseURL).Do(cmd.Context(), http.MethodPost, "/v1/queue/purge", nil, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "purged:", out.Purged)
			return nil
		},
	}
}
