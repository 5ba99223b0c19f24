package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/alfredjeanlab/propsheet/internal/server"
	"github.com/alfredjeanlab/propsheet/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the admin backend, or a catalog server with --grpc",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("grpc")

		var (
			status string
			err    error
		)
		if addr != "" {
			resp, err := grpcHealth(cmd.Context(), addr, cfg.AuthToken)
			if err != nil {
				return fmt.Errorf("checking health: %w", err)
			}
			if jsonOutput {
				out, err := protojson.Marshal(resp)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
					return fmt.Errorf("unhealthy: %s", resp.GetStatus())
				}
				return nil
			}
			status = grpcStatus(resp)
		} else {
			status, err = getBackend().Health(cmd.Context())
		}
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", ui.Status(status, status != "ok"))
		}
		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

// grpcHealth asks a catalog server's health service about the catalog.
func grpcHealth(ctx context.Context, addr, token string) (*healthpb.HealthCheckResponse, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	defer cancel()

	return healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: server.ServiceName})
}

// grpcStatus maps a health response onto the backend's "ok" convention.
func grpcStatus(resp *healthpb.HealthCheckResponse) string {
	if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
		return "ok"
	}
	return resp.GetStatus().String()
}

func init() {
	healthCmd.Flags().String("grpc", "", "catalog server gRPC address to check instead of the backend")
}
