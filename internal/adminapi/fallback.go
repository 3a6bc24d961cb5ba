package adminapi

import (
	"context"
	"fmt"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
)

// RegisterGRPC is a no-op fallback for when protobuf stubs have not been
// generated for the admin surface — mirrors the teacher daemon's own
// stub-optional gRPC registration.
func RegisterGRPC(s *grpc.Server, impl *Server) {}

// RegisterGateway always fails here, which is exactly what triggers
// StartServers' native net/http fallback: this rewrite, like the teacher
// daemon, ships no generated grpc-gateway stubs for this surface.
func RegisterGateway(ctx context.Context, mux *runtime.ServeMux, endpoint string, opts []grpc.DialOption) error {
	return fmt.Errorf("adminapi: gateway not available: protobuf stubs not generated")
}
