package rpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ashureev/chatbridge/internal/notify"
)

// Notifier receives user-facing failure notifications.
type Notifier interface {
	LoginRequired() bool
	FetchError(message string, status int)
}

// WithoutNotification is notify.Quiet, kept next to the interceptor that
// honors it.
func WithoutNotification(ctx context.Context) context.Context {
	return notify.Quiet(ctx)
}

// NotifyInterceptor reports failed calls. Unauthenticated becomes a
// (debounced) login prompt, cancellations are silent, and everything else is
// a fetch error unless the context opted out.
func NotifyInterceptor(notifier Notifier, logger *slog.Logger) grpc.UnaryClientInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		if err == nil || notifier == nil {
			return err
		}

		st, _ := status.FromError(err)
		switch st.Code() {
		case codes.Canceled:
			logger.Debug("Local call canceled", "method", method)
		case codes.Unauthenticated:
			notifier.LoginRequired()
		default:
			if ctx.Err() == context.Canceled {
				return err
			}
			if notify.IsQuiet(ctx) {
				logger.Warn("Local call failed", "method", method, "error", st.Message())
				return err
			}
			notifier.FetchError(st.Message(), httpStatus(st.Code()))
		}
		return err
	}
}

// httpStatus gives the notification a familiar status number.
func httpStatus(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return 400
	case codes.Unauthenticated:
		return 401
	case codes.PermissionDenied:
		return 403
	case codes.NotFound:
		return 404
	case codes.AlreadyExists, codes.Aborted:
		return 409
	case codes.ResourceExhausted:
		return 429
	case codes.Unimplemented:
		return 501
	case codes.Unavailable:
		return 503
	case codes.DeadlineExceeded:
		return 504
	default:
		return 500
	}
}
