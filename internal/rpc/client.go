// Package rpc is the transport to the local backend. Procedures are invoked
// by name over gRPC with google.protobuf.Value payloads, so no generated
// stubs are needed.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServicePath prefixes every procedure on the wire.
const ServicePath = "/lambda.Lambda/"

// Caller invokes a named procedure ("router.procedure") on the local backend.
type Caller interface {
	Call(ctx context.Context, procedure string, input, out any) error
}

// ClientConfig holds configuration for the gRPC client.
type ClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// Dialer overrides the network dialer; used by tests.
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// DefaultClientConfig returns default configuration for addr.
func DefaultClientConfig(addr string) ClientConfig {
	return ClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Client calls the local backend over gRPC.
type Client struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

var _ Caller = (*Client)(nil)

// NewClient connects to the local backend and waits until the connection is
// ready. notifier may be nil.
func NewClient(cfg ClientConfig, notifier Notifier, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithUnaryInterceptor(NotifyInterceptor(notifier, logger)),
	}
	if cfg.Dialer != nil {
		opts = append(opts, grpc.WithContextDialer(cfg.Dialer))
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create local backend client for %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on a bad address.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("local backend at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to local backend", "address", cfg.Address)

	return &Client{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Call invokes procedure with input encoded as JSON and decodes the result
// into out. out may be nil.
func (c *Client) Call(ctx context.Context, procedure string, input, out any) error {
	req, err := encodeValue(input)
	if err != nil {
		return fmt.Errorf("%s: encode input: %w", procedure, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp := &structpb.Value{}
	if err := c.conn.Invoke(ctx, ServicePath+procedure, req, resp); err != nil {
		return fromStatus(procedure, err)
	}

	if err := decodeValue(resp, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", procedure, err)
	}
	return nil
}

func encodeValue(input any) (*structpb.Value, error) {
	if input == nil {
		return structpb.NewNullValue(), nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	v := &structpb.Value{}
	if err := protojson.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeValue(v *structpb.Value, out any) error {
	if out == nil || v == nil {
		return nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull || v.GetKind() == nil {
		return nil
	}
	data, err := protojson.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
