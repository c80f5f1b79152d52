// Package hooks provides default hook implementations.
package hooks

import (
	"context"

	"github.com/arloliu/jobline/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default used when no custom hooks are provided, eliminating the
// need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements the hook callbacks.
var (
	_ func(context.Context, *types.Job) error     = (*NopHooks)(nil).OnJobTerminal
	_ func(context.Context, string, string) error = (*NopHooks)(nil).OnDeadLetter
	_ func(context.Context, error) error          = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnJobTerminal: h.OnJobTerminal,
		OnDeadLetter:  h.OnDeadLetter,
		OnError:       h.OnError,
	}
}

// Fill returns a copy of h where every nil callback is replaced by a no-op.
func Fill(h *types.Hooks) types.Hooks {
	out := NewNop()
	if h == nil {
		return out
	}
	if h.OnJobTerminal != nil {
		out.OnJobTerminal = h.OnJobTerminal
	}
	if h.OnDeadLetter != nil {
		out.OnDeadLetter = h.OnDeadLetter
	}
	if h.OnError != nil {
		out.OnError = h.OnError
	}

	return out
}

// OnJobTerminal is a no-op implementation.
func (h *NopHooks) OnJobTerminal(ctx context.Context, job *types.Job) error {
	return nil
}

// OnDeadLetter is a no-op implementation.
func (h *NopHooks) OnDeadLetter(ctx context.Context, subject, reason string) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(ctx context.Context, err error) error {
	return nil
}
