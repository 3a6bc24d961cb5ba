package adminapi

import (
	"context"
	"net"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// StartServers starts the admin gRPC server and its HTTP surface (gateway
// if available, otherwise impl's native handlers), exactly the two-listener
// shape the teacher daemon's API server uses.
func StartServers(ctx context.Context, grpcAddr, restAddr string, impl *Server) (grpcStop func(), restStop func(), err error) {
	grpcServer := grpc.NewServer()
	RegisterGRPC(grpcServer, impl)
	gl, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return nil, nil, err
	}
	go func() { _ = grpcServer.Serve(gl) }()
	grpcStop = func() { grpcServer.GracefulStop(); _ = gl.Close() }

	mux := http.NewServeMux()
	gw := runtime.NewServeMux()
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if err := RegisterGateway(ctx, gw, grpcAddr, dialOpts); err == nil {
		mux.Handle("/", gw)
	} else {
		impl.RegisterHTTP(mux)
	}

	server := &http.Server{Addr: restAddr, Handler: mux}
	go func() { _ = server.ListenAndServe() }()
	restStop = func() { _ = server.Close() }
	return grpcStop, restStop, nil
}
