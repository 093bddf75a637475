package dispatch

import (
	"context"

	"github.com/vango-dev/duplex/pkg/envelope"
)

// Sender writes one envelope to the peer.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, env *envelope.Envelope) error

func (f SenderFunc) Send(ctx context.Context, env *envelope.Envelope) error { return f(ctx, env) }

// CookieStore receives set_cookie payloads.
type CookieStore interface {
	Set(cookie string) error
}

// CookieFunc adapts a function to CookieStore.
type CookieFunc func(cookie string) error

func (f CookieFunc) Set(cookie string) error { return f(cookie) }

// Reloader restarts the client from scratch.
type Reloader interface {
	Reload() error
}

// ReloadFunc adapts a function to Reloader.
type ReloadFunc func() error

func (f ReloadFunc) Reload() error { return f() }

// Evaluator runs code sent by the server and returns its result.
//
// This executes arbitrary remote input. Only install one when the server is
// fully trusted.
type Evaluator interface {
	Eval(ctx context.Context, code string) (any, error)
}

// EvalFunc adapts a function to Evaluator.
type EvalFunc func(ctx context.Context, code string) (any, error)

func (f EvalFunc) Eval(ctx context.Context, code string) (any, error) { return f(ctx, code) }

// CallResolver handles "call" envelopes.
type CallResolver interface {
	Resolve(ctx context.Context, env *envelope.Envelope) (any, error)
}

// CallFunc adapts a function to CallResolver.
type CallFunc func(ctx context.Context, env *envelope.Envelope) (any, error)

func (f CallFunc) Resolve(ctx context.Context, env *envelope.Envelope) (any, error) {
	return f(ctx, env)
}
