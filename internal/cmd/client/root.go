package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the herald client.
// It registers every client command group.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "herald",
		Short: "Herald client commands",
	}
	root.PersistentFlags().String("token", "", "Admin bearer token (default $HERALD_ADMIN_TOKEN)")
	root.AddCommand(NewVAPIDCommand())
	root.AddCommand(NewSubscriptionsCommand(baseURL))
	root.AddCommand(NewQueueCommand(baseURL))
	root.AddCommand(NewEventsCommand(baseURL))
	root.AddCommand(newNotifyCommand(baseURL))
	root.AddCommand(newStatsCommand(baseURL))
	root.AddCommand(newHealthCommand())
	return root
}
