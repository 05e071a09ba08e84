package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/herald/internal/delivery"
)

// NewVAPIDCommand builds the `vapid` command group. Key generation is local
// and needs no server.
func NewVAPIDCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "vapid", Short: "VAPID key utilities"}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate a VAPID key pair for web push",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv, err := delivery.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "HERALD_PUSH_VAPID_PUBLIC_KEY="+pub)
			fmt.Fprintln(out, "HERALD_PUSH_VAPID_PRIVATE_KEY="+priv)
			return nil
		},
	})
	return cmd
}
