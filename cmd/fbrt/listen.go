package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/fbrt/internal/listener"
	grpcserver "github.com/and161185/fbrt/internal/server/grpc"
	"github.com/and161185/fbrt/internal/transport"
)

func newListenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print real-time events until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listen(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) listen(ctx context.Context, out io.Writer) error {
	r, err := newRenderer(a.cfg.Format, out)
	if err != nil {
		return err
	}
	h, lg, stop, err := a.start(ctx)
	if err != nil {
		return err
	}
	defer stop()

	for ev := range h.Events() {
		if err := r.Render(ev); err != nil {
			h.Stop()
			return err
		}
	}
	a.persist(context.WithoutCancel(ctx), lg)
	return h.Err()
}

// start logs in, starts the side servers and the listener. stop releases all of them.
func (a *app) start(ctx context.Context) (*listener.Handle, *login, func(), error) {
	lg, err := a.login(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	proxy, err := a.proxy()
	if err != nil {
		lg.close()
		return nil, nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := listener.NewMetrics(reg, lg.sess.UserID)
	if err != nil {
		lg.close()
		return nil, nil, nil, err
	}
	health := grpcserver.NewHealth(a.log)
	stopServers, err := a.serve(reg, health)
	if err != nil {
		lg.close()
		return nil, nil, nil, err
	}

	opts := a.cfg.Options()
	l := listener.New(lg.sess,
		transport.NewMQTTDialer(proxy, opts.HandshakeTimeout, a.log),
		listener.WithOptions(opts),
		listener.WithLogger(a.log),
		listener.WithSeqIDFetcher(lg.web),
		listener.WithThreadReader(lg.web),
		listener.WithUserLookup(lg.web),
		listener.WithMetrics(metrics),
		listener.WithStateHook(health.Track(a.cfg.Account)),
	)
	h, err := l.Start(ctx)
	if err != nil {
		stopServers()
		lg.close()
		return nil, nil, nil, err
	}
	return h, lg, func() {
		h.Stop()
		stopServers()
		lg.close()
	}, nil
}

// serve starts the metrics and health listeners that are configured.
func (a *app) serve(reg *prometheus.Registry, health *grpcserver.Health) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if addr := a.cfg.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		go func() {
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server", zap.Error(err))
			}
		}()
		a.log.Info("metrics listening", zap.String("addr", lis.Addr().String()))
		stops = append(stops, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}

	if addr := a.cfg.HealthAddr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			stopAll()
			return nil, err
		}
		srv := grpcserver.NewServer(health, a.log)
		go func() {
			if err := srv.Serve(lis); err != nil {
				a.log.Error("health server", zap.Error(err))
			}
		}()
		a.log.Info("health listening", zap.String("addr", lis.Addr().String()))
		stops = append(stops, func() {
			health.Shutdown()
			done := make(chan struct{})
			go func() {
				srv.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				srv.Stop()
			}
		})
	}
	return stopAll, nil
}
