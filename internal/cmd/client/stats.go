package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/rzbill/herald/internal/cmd/client/transports"
)

func newStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show live connections, subscriptions and queue depth",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out json.RawMessage
			if err := adminTransport(cmd, baseURL).Do(cmd.Context(), http.MethodGet, "/v1/stats", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

// newHealthCommand checks the gRPC health service at HERALD_GRPC.
func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := transports.NewGrpcTransport(dialGRPCContext).Health(cmd.Context(), "")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
			if status != "SERVING" {
				return fmt.Errorf("server is %s", status)
			}
			return nil
		},
	}
}
