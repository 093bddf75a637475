package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	derrors "github.com/vango-dev/duplex/internal/errors"
	"github.com/vango-dev/duplex/pkg/console"
	"github.com/vango-dev/duplex/pkg/envelope"
	"github.com/vango-dev/duplex/pkg/metrics"
)

const tracerName = "github.com/vango-dev/duplex/pkg/dispatch"

// Dispatch errors.
var (
	// ErrUnknownType is wrapped by failures for envelopes whose type has no handler.
	ErrUnknownType = errors.New("dispatch: unknown envelope type")

	// ErrEvalDisabled is wrapped by eval failures when no Evaluator is installed.
	ErrEvalDisabled = errors.New("dispatch: eval disabled")

	// ErrNotConfigured is wrapped by failures for handlers whose collaborator is nil.
	ErrNotConfigured = errors.New("dispatch: collaborator not configured")

	// ErrPanic is wrapped by failures recovered from a panicking handler.
	ErrPanic = errors.New("dispatch: handler panicked")
)

// Deps are the collaborators a Dispatcher needs. Any of them may be nil;
// the matching handler then fails with ErrNotConfigured (ErrEvalDisabled for
// Evaluator).
type Deps struct {
	Cookies   CookieStore
	Reloader  Reloader
	Evaluator Evaluator
	Calls     CallResolver

	// Logger overrides the process-wide console logger.
	Logger *slog.Logger

	Metrics *metrics.Metrics

	// Tracer defaults to the global OpenTelemetry provider.
	Tracer trace.Tracer
}

// Dispatcher routes envelopes to handlers. It is safe for concurrent use,
// though a connection drives it from a single goroutine.
type Dispatcher struct {
	sender Sender
	deps   Deps
	tracer trace.Tracer
}

// New returns a dispatcher that sends replies through sender.
func New(sender Sender, deps Deps) *Dispatcher {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Dispatcher{sender: sender, deps: deps, tracer: tracer}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.deps.Logger != nil {
		return d.deps.Logger
	}
	return console.Logger().With("component", "dispatch")
}

// Handle runs the handler for env and, if env carries a continuation token,
// sends the reply. It returns the handler's result for observers; failures
// have already been reported by the time it returns.
func (d *Dispatcher) Handle(ctx context.Context, env *envelope.Envelope) Result {
	kind := ParseKind(env.Type)
	if env.Invalid != nil {
		kind = KindUnknown
	}

	ctx, span := d.tracer.Start(ctx, "duplex."+kind.String(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("duplex.type", env.Type),
			attribute.Bool("duplex.reply_expected", !env.Cont.IsZero()),
		),
	)
	defer span.End()

	start := time.Now()
	res := d.Invoke(ctx, kind, env)
	d.deps.Metrics.RecordDispatch(kind.String(), res.OK(), time.Since(start))

	if res.OK() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}

	if env.Cont.IsZero() {
		if !res.OK() {
			d.logger().Error("handler failed", "type", env.Type, "error", res.Err)
		}
		return res
	}

	d.reply(ctx, env.Cont, res)
	return res
}

// Invoke runs the handler for kind without sending a reply. Panics are
// recovered and returned as failures.
func (d *Dispatcher) Invoke(ctx context.Context, kind Kind, env *envelope.Envelope) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger().Error("handler panic",
				"type", env.Type,
				"panic", r,
				"stack", string(debug.Stack()))
			res = Failure(derrors.New("D011").
				WithDetail(fmt.Sprintf("%s: %v", env.Type, r)).
				Wrap(ErrPanic))
		}
	}()

	if env.Invalid != nil {
		return Failure(derrors.New("D001").Wrap(env.Invalid))
	}

	switch kind {
	case KindSetCookie:
		if d.deps.Cookies == nil {
			return notConfigured(kind)
		}
		if err := d.deps.Cookies.Set(env.Cookie); err != nil {
			return Failure(err)
		}
		return Success(nil)

	case KindReload:
		if d.deps.Reloader == nil {
			return notConfigured(kind)
		}
		if err := d.deps.Reloader.Reload(); err != nil {
			return Failure(err)
		}
		return Success(nil)

	case KindPing:
		return Success("pong")

	case KindEval:
		if d.deps.Evaluator == nil {
			return Failure(derrors.New("D012").Wrap(ErrEvalDisabled))
		}
		v, err := d.deps.Evaluator.Eval(ctx, env.Code)
		if err != nil {
			return Failure(err)
		}
		return Success(v)

	case KindBundle:
		for _, msg := range env.Messages {
			if msg == nil {
				continue
			}
			d.Handle(ctx, msg)
		}
		return Success(nil)

	case KindRedirectConsole:
		console.Redirect(d.sender)
		return Success(nil)

	case KindCall:
		if d.deps.Calls == nil {
			return notConfigured(kind)
		}
		v, err := d.deps.Calls.Resolve(ctx, env)
		if err != nil {
			return Failure(err)
		}
		return Success(v)

	default:
		return Failure(derrors.New("D010").WithDetail(fmt.Sprintf("%q", env.Type)).Wrap(ErrUnknownType))
	}
}

func notConfigured(kind Kind) Result {
	return Failure(derrors.New("D013").WithDetail(kind.String()).Wrap(ErrNotConfigured))
}

// reply sends the result for token. An unserializable reply is replaced by
// an encoding failure notice and sent once more.
func (d *Dispatcher) reply(ctx context.Context, token envelope.Token, res Result) {
	var rpl *envelope.Envelope
	status := "ok"
	if res.OK() {
		rpl = envelope.NewReply(token, res.Value)
	} else {
		status = "error"
		rpl = envelope.NewErrorReply(token, res.ErrorValue(), res.Err.Error())
	}

	err := d.sender.Send(ctx, rpl)
	if err == nil {
		d.deps.Metrics.RecordReply(status)
		return
	}
	if !errors.Is(err, envelope.ErrEncoding) {
		d.deps.Metrics.RecordReply("dropped")
		d.logger().Error("reply send failed", "token", token.String(), "error", err)
		return
	}

	d.deps.Metrics.RecordEncodingFallback()
	rpl.SetError(envelope.EncodingFailure, err.Error())
	if err := d.sender.Send(ctx, rpl); err != nil {
		d.deps.Metrics.RecordReply("dropped")
		d.logger().Error("encoding failure reply send failed", "token", token.String(), "error", err)
		return
	}
	d.deps.Metrics.RecordReply("fallback")
}
