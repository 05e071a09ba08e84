package client

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rzbill/herald/internal/cmd/client/transports"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// grpcAddrFromEnv returns the gRPC server address from HERALD_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("HERALD_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:50051"
}

// dialGRPCContext connects to the herald gRPC endpoint with insecure transport for local/dev.
func dialGRPCContext(_ context.Context) (*grpc.ClientConn, error) {
	return grpc.NewClient(grpcAddrFromEnv(), grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// adminTransport builds the HTTP transport for cmd. The bearer token comes
// from --token or HERALD_ADMIN_TOKEN.
func adminTransport(cmd *cobra.Command, baseURL BaseURLFunc) transports.AdminTransport {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("HERALD_ADMIN_TOKEN")
	}
	return transports.NewHTTPTransport(baseURL(), token, nil)
}

// printJSON writes v indented to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
