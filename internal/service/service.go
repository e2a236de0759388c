// Package service exposes the chat domain operations. Each operation is
// routed by the dispatch policy to exactly one backend: the external REST
// API or the local RPC service.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ashureev/chatbridge/internal/dispatch"
	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/restapi"
	"github.com/ashureev/chatbridge/internal/rpc"
)

// ErrMissingID is returned when a create response carries no identifier.
var ErrMissingID = errors.New("response did not contain an id")

// Requester is the subset of restapi.Client used by the services.
type Requester interface {
	Do(ctx context.Context, method, endpoint string, body, out any, opts ...restapi.RequestOption) error
}

// Backends bundles the policy with both transports. The RPC caller may be
// nil when the process runs in external mode.
type Backends struct {
	policy *dispatch.Policy
	rest   Requester
	rpc    rpc.Caller
	logger *slog.Logger
}

// NewBackends creates the shared backend bundle.
func NewBackends(policy *dispatch.Policy, rest Requester, caller rpc.Caller, logger *slog.Logger) *Backends {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backends{policy: policy, rest: rest, rpc: caller, logger: logger}
}

// restCall is the external side of one operation.
type restCall struct {
	method   string
	endpoint string
	body     any
}

// call routes op and decodes the result of whichever side ran.
func call[T any](ctx context.Context, b *Backends, op dispatch.Operation, rc restCall, input any) (T, error) {
	return dispatch.Do(ctx, b.policy, op,
		func(ctx context.Context) (T, error) {
			var out T
			err := b.rest.Do(ctx, rc.method, rc.endpoint, rc.body, &out)
			return out, err
		},
		func(ctx context.Context) (T, error) {
			var out T
			if b.rpc == nil {
				return out, fmt.Errorf("%s: %w", op, dispatch.ErrUnsupported)
			}
			err := b.rpc.Call(ctx, op.String(), input, &out)
			return out, err
		})
}

// exec routes op for operations without a result.
func exec(ctx context.Context, b *Backends, op dispatch.Operation, rc restCall, input any) error {
	return dispatch.Exec(ctx, b.policy, op,
		func(ctx context.Context) error {
			return b.rest.Do(ctx, rc.method, rc.endpoint, rc.body, nil)
		},
		func(ctx context.Context) error {
			if b.rpc == nil {
				return fmt.Errorf("%s: %w", op, dispatch.ErrUnsupported)
			}
			return b.rpc.Call(ctx, op.String(), input, nil)
		})
}

// createID routes a create operation whose backends answer with either a
// bare id or an object carrying one.
func createID(ctx context.Context, b *Backends, op dispatch.Operation, rc restCall, input any) (string, error) {
	raw, err := call[json.RawMessage](ctx, b, op, rc, input)
	if err != nil {
		return "", err
	}
	id, ok := extractID(raw)
	if !ok {
		return "", fmt.Errorf("%s: %w", op, ErrMissingID)
	}
	return id, nil
}

// extractID reads an id from a bare JSON string or from the id,
// session_id or sessionId field of an object.
func extractID(raw []byte) (string, bool) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return "", false
	}
	doc := gjson.ParseBytes(raw)
	if doc.Type == gjson.String {
		return doc.Str, doc.Str != ""
	}
	for _, path := range []string{"id", "session_id", "sessionId"} {
		if v := doc.Get(path); v.Exists() && v.String() != "" {
			return v.String(), true
		}
	}
	return "", false
}

// mergeObjects overlays the fields of b onto a. Both must encode to JSON
// objects.
func mergeObjects(a, b any) (json.RawMessage, error) {
	base, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal base: %w", err)
	}
	overlay, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal overlay: %w", err)
	}

	var setErr error
	gjson.ParseBytes(overlay).ForEach(func(key, value gjson.Result) bool {
		base, setErr = sjson.SetRawBytes(base, escapeKey(key.String()), []byte(value.Raw))
		return setErr == nil
	})
	if setErr != nil {
		return nil, fmt.Errorf("merge objects: %w", setErr)
	}
	return base, nil
}

// escapeKey makes a literal object key safe for use as an sjson path.
func escapeKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}

// DateRange bounds count queries. Empty fields are omitted.
type DateRange struct {
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

func (r DateRange) query() url.Values {
	q := url.Values{}
	if r.StartDate != "" {
		q.Set("startDate", r.StartDate)
	}
	if r.EndDate != "" {
		q.Set("endDate", r.EndDate)
	}
	return q
}

func (r DateRange) input() any {
	if r.StartDate == "" && r.EndDate == "" {
		return nil
	}
	return r
}

// withQuery appends a non-empty query string to endpoint.
func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

// setSessionID adds the storage form of a session id to q. The inbox
// session is stored as null and therefore omitted.
func setSessionID(q url.Values, sessionID string) {
	if id := domain.StorageSessionID(sessionID); id != nil {
		q.Set("sessionId", *id)
	}
}

func setOptional(q url.Values, key string, value *string) {
	if value != nil && *value != "" {
		q.Set(key, *value)
	}
}

func pathID(prefix, id string) string {
	return prefix + "/" + url.PathEscape(id)
}
