// Package actor carries the calling principal through a context: the actor
// id, the client address and a request id used to correlate logs and audit
// entries. Resolving who the actor is happens outside the vault.
package actor

import (
	"context"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ctxKey string

const (
	actorKey     ctxKey = "vault_actor"
	requestIDKey ctxKey = "vault_request_id"
)

// Actor identifies who performs an operation. ID is nil for anonymous
// callers such as bearer-token downloads.
type Actor struct {
	ID *int64
	IP string
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewRequestID returns a lexicographically sortable request identifier.
func NewRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// WithActor attaches the actor to ctx. A request id is added when ctx has none.
func WithActor(ctx context.Context, a Actor) context.Context {
	a.IP = strings.TrimSpace(a.IP)
	ctx = context.WithValue(ctx, actorKey, &a)
	if RequestID(ctx) == "" {
		ctx = WithRequestID(ctx, NewRequestID())
	}
	return ctx
}

// FromContext returns the actor attached to ctx, if any.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	v, ok := ctx.Value(actorKey).(*Actor)
	if !ok || v == nil {
		return Actor{}, false
	}
	return *v, true
}

// ID returns the actor id from ctx, or nil.
func ID(ctx context.Context) *int64 {
	a, ok := FromContext(ctx)
	if !ok || a.ID == nil {
		return nil
	}
	id := *a.ID
	return &id
}

// IP returns the client address from ctx, or "".
func IP(ctx context.Context) string {
	a, _ := FromContext(ctx)
	return a.IP
}

// WithRequestID attaches a request identifier to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request identifier from ctx, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Int64 is a helper for building optional ids.
func Int64(v int64) *int64 { return &v }
