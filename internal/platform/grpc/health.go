// Package grpc hosts the process health endpoint served over gRPC, for
// orchestrator probes, and the client checks that query it.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves grpc.health.v1 for the process and the named services.
type HealthServer struct {
	server   *gogrpc.Server
	health   *health.Server
	services []string
}

// NewHealthServer builds a server that reports SERVING until told otherwise.
func NewHealthServer(services ...string) *HealthServer {
	server := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	s := &HealthServer{server: server, health: healthServer, services: services}
	s.SetServing(true)
	return s
}

// SetServing flips every registered status.
func (s *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	for _, service := range s.services {
		s.health.SetServingStatus(service, status)
	}
}

// Serve accepts on listener until ctx ends, then stops gracefully.
func (s *HealthServer) Serve(ctx context.Context, listener net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.server.GracefulStop()
		<-serveErr
		return nil
	case err := <-serveErr:
		if err == nil || errors.Is(err, gogrpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC health: %w", err)
	}
}

// Check asks the health endpoint at addr once and fails unless service is
// SERVING.
func Check(ctx context.Context, addr, service string) error {
	conn, err := gogrpc.NewClient(addr,
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	response, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("health check %s: %w", addr, err)
	}
	if status := response.GetStatus(); status != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("health check %s: status %s", addr, status.String())
	}
	return nil
}

// WaitForHealth polls Check with backoff until it passes or ctx ends.
func WaitForHealth(ctx context.Context, addr, service string, logf func(string, ...any)) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second

	var last error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		last = Check(callCtx, addr, service)
		if last != nil && logf != nil {
			logf("waiting for gRPC health: %v", last)
		}
		return struct{}{}, last
	}, backoff.WithBackOff(policy))
	if err != nil {
		if last != nil && !errors.Is(err, last) {
			return fmt.Errorf("wait for gRPC health: %w", errors.Join(err, last))
		}
		return fmt.Errorf("wait for gRPC health: %w", err)
	}
	return nil
}
