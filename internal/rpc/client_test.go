package rpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// lambdaServer answers every procedure through handle.
type lambdaServer struct {
	mu     sync.Mutex
	calls  []string
	handle func(ctx context.Context, procedure string, in *structpb.Value) (*structpb.Value, error)
}

func (s *lambdaServer) stream(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	procedure := strings.TrimPrefix(method, ServicePath)

	s.mu.Lock()
	s.calls = append(s.calls, procedure)
	s.mu.Unlock()

	in := &structpb.Value{}
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	out, err := s.handle(stream.Context(), procedure, in)
	if err != nil {
		return err
	}
	return stream.SendMsg(out)
}

type recordingNotifier struct {
	login  atomic.Int32
	errors atomic.Int32
}

func (n *recordingNotifier) LoginRequired() bool {
	n.login.Add(1)
	return true
}

func (n *recordingNotifier) FetchError(string, int) {
	n.errors.Add(1)
}

func startServer(t *testing.T, srv *lambdaServer, notifier Notifier) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.UnknownServiceHandler(srv.stream))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	cfg := DefaultClientConfig("passthrough:///bufnet")
	cfg.Dialer = func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}

	client, err := NewClient(cfg, notifier, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestCallRoundTrip(t *testing.T) {
	t.Parallel()

	srv := &lambdaServer{handle: func(_ context.Context, procedure string, in *structpb.Value) (*structpb.Value, error) {
		if procedure != "session.createSession" {
			return nil, status.Error(codes.NotFound, procedure)
		}
		title := in.GetStructValue().GetFields()["config"].GetStructValue().GetFields()["title"].GetStringValue()
		return structpb.NewStringValue("ssn_" + title), nil
	}}
	client := startServer(t, srv, nil)

	input := map[string]any{"type": "agent", "config": map[string]any{"title": "demo"}}
	var id string
	if err := client.Call(context.Background(), "session.createSession", input, &id); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if id != "ssn_demo" {
		t.Fatalf("expected ssn_demo, got %q", id)
	}
}

func TestCallDecodesObjects(t *testing.T) {
	t.Parallel()

	srv := &lambdaServer{handle: func(context.Context, string, *structpb.Value) (*structpb.Value, error) {
		return structpb.NewValue(map[string]any{"sessions": []any{map[string]any{"id": "a"}}, "sessionGroups": []any{}})
	}}
	client := startServer(t, srv, nil)

	var out struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	if err := client.Call(context.Background(), "session.getGroupedSessions", nil, &out); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if len(out.Sessions) != 1 || out.Sessions[0].ID != "a" {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestUnauthenticatedNotifiesLogin(t *testing.T) {
	t.Parallel()

	srv := &lambdaServer{handle: func(context.Context, string, *structpb.Value) (*structpb.Value, error) {
		return nil, status.Error(codes.Unauthenticated, "session expired")
	}}
	notifier := &recordingNotifier{}
	client := startServer(t, srv, notifier)

	err := client.Call(context.Background(), "message.getMessages", nil, nil)
	if !IsUnauthenticated(err) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Retryable() {
		t.Fatalf("unauthenticated must be a non-retryable *Error, got %v", err)
	}
	if notifier.login.Load() != 1 || notifier.errors.Load() != 0 {
		t.Fatalf("expected one login notification, got login=%d errors=%d", notifier.login.Load(), notifier.errors.Load())
	}
}

func TestCanceledCallIsSilent(t *testing.T) {
	t.Parallel()

	srv := &lambdaServer{handle: func(ctx context.Context, _ string, _ *structpb.Value) (*structpb.Value, error) {
		<-ctx.Done()
		return nil, status.Error(codes.Canceled, "canceled")
	}}
	notifier := &recordingNotifier{}
	client := startServer(t, srv, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := client.Call(ctx, "aiChat.sendMessageInServer", map[string]any{"newUserMessage": "hi"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if notifier.login.Load() != 0 || notifier.errors.Load() != 0 {
		t.Fatalf("canceled call must not notify, got login=%d errors=%d", notifier.login.Load(), notifier.errors.Load())
	}
}

func TestFailureNotifiesUnlessQuiet(t *testing.T) {
	t.Parallel()

	srv := &lambdaServer{handle: func(context.Context, string, *structpb.Value) (*structpb.Value, error) {
		return nil, status.Error(codes.Internal, "db exploded")
	}}
	notifier := &recordingNotifier{}
	client := startServer(t, srv, notifier)

	_ = client.Call(context.Background(), "session.updateSessionConfig", nil, nil)
	_ = client.Call(WithoutNotification(context.Background()), "session.updateSessionConfig", nil, nil)

	if notifier.errors.Load() != 1 {
		t.Fatalf("expected exactly one fetch error notification, got %d", notifier.errors.Load())
	}
}
