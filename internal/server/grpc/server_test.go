package grpcserver

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/fbrt/internal/listener"
)

func dialHealth(t *testing.T, h *Health) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(h, zaptest.NewLogger(t))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_TracksListenerState(t *testing.T) {
	t.Parallel()

	h := NewHealth(zaptest.NewLogger(t))
	c := dialHealth(t, h)
	main, alt := h.Track("main"), h.Track("alt")

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, "main"))

	main(listener.Connecting)
	main(listener.Connected)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, "main"))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, "alt"))

	alt(listener.Connected)
	main(listener.Rotating)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, "main"))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))

	alt(listener.Stopped)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""))

	_, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "unknown"})
	require.Equal(t, codes.NotFound, status.Code(err))

	h.Shutdown()
	main(listener.Connected)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, "main"))
}
