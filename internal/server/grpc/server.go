// Package grpcserver exposes listener health over the standard gRPC health protocol.
package grpcserver

import (
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/fbrt/internal/listener"
)

// Health maps listener states onto per-account health statuses. The overall
// ("") status is SERVING while at least one tracked listener is connected.
type Health struct {
	srv *health.Server
	log *zap.Logger

	mu        sync.Mutex
	connected map[string]bool
}

// NewHealth returns a health service with every status NOT_SERVING.
func NewHealth(log *zap.Logger) *Health {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Health{srv: health.NewServer(), log: log, connected: map[string]bool{}}
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Track returns a state hook for the listener of account. Pass it to listener.WithStateHook.
func (h *Health) Track(account string) func(listener.State) {
	h.srv.SetServingStatus(account, healthpb.HealthCheckResponse_NOT_SERVING)
	return func(st listener.State) {
		h.mu.Lock()
		defer h.mu.Unlock()

		up := st == listener.Connected
		h.connected[account] = up
		h.srv.SetServingStatus(account, servingStatus(up))

		overall := false
		for _, c := range h.connected {
			overall = overall || c
		}
		h.srv.SetServingStatus("", servingStatus(overall))
		h.log.Debug("health", zap.String("account", account), zap.Stringer("state", st))
	}
}

// Shutdown flips every status to NOT_SERVING and ignores later updates.
func (h *Health) Shutdown() { h.srv.Shutdown() }

func servingStatus(up bool) healthpb.HealthCheckResponse_ServingStatus {
	if up {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// NewServer builds a gRPC server with logging and recovery interceptors and the
// health service registered.
func NewServer(h *Health, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.srv)
	reflection.Register(s)
	return s
}
