package notify

import "context"

type quietKey struct{}

// Quiet marks calls made with the returned context as background work
// whose failures are logged but not shown to the user. Both backend
// transports honor it.
func Quiet(ctx context.Context) context.Context {
	return context.WithValue(ctx, quietKey{}, true)
}

// IsQuiet reports whether ctx was marked with Quiet.
func IsQuiet(ctx context.Context) bool {
	v, _ := ctx.Value(quietKey{}).(bool)
	return v
}
