package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// Error is a failed local procedure call.
type Error struct {
	Procedure string
	Code      codes.Code
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Procedure, e.Code, e.Message)
}

// Is lets canceled calls match context.Canceled.
func (e *Error) Is(target error) bool {
	switch target {
	case context.Canceled:
		return e.Code == codes.Canceled
	case context.DeadlineExceeded:
		return e.Code == codes.DeadlineExceeded
	}
	return false
}

// Retryable reports whether repeating the call might succeed.
// Authentication failures and cancellations never are.
func (e *Error) Retryable() bool {
	switch e.Code {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// IsUnauthenticated reports whether err is an authentication failure.
func IsUnauthenticated(err error) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.Code == codes.Unauthenticated
}

func fromStatus(procedure string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.Canceled) {
			return &Error{Procedure: procedure, Code: codes.Canceled, Message: err.Error()}
		}
		return fmt.Errorf("%s: %w", procedure, err)
	}
	return &Error{Procedure: procedure, Code: st.Code(), Message: st.Message()}
}
