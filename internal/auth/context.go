// ABOUTME: Authentication context for tracking the caller through request handlers
// ABOUTME: Provides WithCaller/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// callerContextKey is the key type for storing a Caller in context.Context.
type callerContextKey struct{}

// WithCaller returns a new context with the Caller attached.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// FromContext retrieves the Caller from the context, returning nil if not present.
func FromContext(ctx context.Context) *Caller {
	val := ctx.Value(callerContextKey{})
	if val == nil {
		return nil
	}
	caller, ok := val.(*Caller)
	if !ok {
		return nil
	}
	return caller
}

// MustFromContext retrieves the Caller from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Caller {
	caller := FromContext(ctx)
	if caller == nil {
		panic("auth: Caller not found in context")
	}
	return caller
}
