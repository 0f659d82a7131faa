package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startBufServer(t *testing.T, s *HealthServer) (healthpb.HealthClient, context.CancelFunc, <-chan error) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn), cancel, done
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) error: %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealth_ReflectsServingState(t *testing.T) {
	s := NewHealthServer("", logging.Nop())
	client, cancel, done := startBufServer(t, s)
	defer cancel()

	if got := check(t, client, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial status = %v, want NOT_SERVING", got)
	}

	s.SetServing(true)
	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall status = %v, want SERVING", got)
	}
	if got := check(t, client, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("scheduler status = %v, want SERVING", got)
	}

	s.SetServing(false)
	if got := check(t, client, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after stop = %v, want NOT_SERVING", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewHealthServer("127.0.0.1:0", logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewHealthServer("127.0.0.1:99999", logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Run(ctx); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}
