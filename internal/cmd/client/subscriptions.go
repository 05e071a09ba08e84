package client

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/rzbill/herald/internal/subscriptions"
)

// NewSubscriptionsCommand builds the `subscriptions` command group.
func NewSubscriptionsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "Push subscription administration",
	}
	cmd.AddCommand(newSubscriptionsListCommand(baseURL))
	cmd.AddCommand(newSubscriptionsClearCommand(baseURL))
	return cmd
}

func newSubscriptionsListCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored push subscriptions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Subscriptions []subscriptions.Subscription `json:"subscriptions"`
			}
			if err := adminTransport(cmd, baseURL).Do(cmd.Context(), http.MethodGet, "/v1/push/subscriptions", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func newSubscriptionsClearCommand(baseURL BaseURLFunc) *cobra.Command {
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every push subscription (after rotating VAPID keys)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ok, _ := cmd.Flags().GetBool("confirm"); !ok {
				return fmt.Errorf("refusing to clear without --confirm")
			}
			if err := adminTransport(cmd, baseURL).Do(cmd.Context(), http.MethodPost, "/v1/push/clear", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
	clearCmd.Flags().Bool("confirm", false, "Confirm deletion of all subscriptions")
	return clearCmd
}
