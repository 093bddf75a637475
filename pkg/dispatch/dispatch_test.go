package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vango-dev/duplex/pkg/console"
	"github.com/vango-dev/duplex/pkg/envelope"
	"github.com/vango-dev/duplex/pkg/metrics"
)

// wireSender encodes every envelope as it would go on the socket.
type wireSender struct {
	mu       sync.Mutex
	frames   []string
	attempts int
	// failAfter makes every attempt after the first n fail with err.
	failAfter int
	err       error
}

func (s *wireSender) Send(_ context.Context, env *envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil && s.attempts > s.failAfter {
		return s.err
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, string(data))
	return nil
}

func (s *wireSender) decoded(t *testing.T) []*envelope.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*envelope.Envelope, 0, len(s.frames))
	for _, f := range s.frames {
		env, err := envelope.DecodeJSON([]byte(f))
		if err != nil {
			t.Fatalf("DecodeJSON(%s) error: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

func quietDeps() Deps {
	return Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func decode(t *testing.T, s string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.DecodeJSON([]byte(s))
	if err != nil {
		t.Fatalf("DecodeJSON(%s) error: %v", s, err)
	}
	return env
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"set_cookie", KindSetCookie},
		{"reload", KindReload},
		{"ping", KindPing},
		{"eval", KindEval},
		{"bundle", KindBundle},
		{"redirect_console", KindRedirectConsole},
		{"call", KindCall},
		{"frobnicate", KindUnknown},
		{"", KindUnknown},
		{"PING", KindUnknown},
	}
	for _, tt := range tests {
		if got := ParseKind(tt.in); got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if tt.want != KindUnknown && tt.want.String() != tt.in {
			t.Errorf("%v.String() = %q, want %q", tt.want, tt.want.String(), tt.in)
		}
	}
}

func TestHandle_PingRoundTrip(t *testing.T) {
	s := &wireSender{}
	d := New(s, quietDeps())

	res := d.Handle(context.Background(), decode(t, `{"type":"ping","cont":"c1"}`))
	if !res.OK() || res.Value != "pong" {
		t.Fatalf("Handle() = %+v, want pong", res)
	}
	if len(s.frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(s.frames))
	}
	want := `{"type":"ws_action","action":"c1","ok":"pong"}`
	if s.frames[0] != want {
		t.Fatalf("reply = %s, want %s", s.frames[0], want)
	}
}

func TestHandle_NumericToken(t *testing.T) {
	s := &wireSender{}
	d := New(s, quietDeps())

	d.Handle(context.Background(), decode(t, `{"type":"ping","cont":42}`))
	want := `{"type":"ws_action","action":42,"ok":"pong"}`
	if len(s.frames) != 1 || s.frames[0] != want {
		t.Fatalf("frames = %v, want [%s]", s.frames, want)
	}
}

func TestHandle_ReplyIffToken(t *testing.T) {
	tests := []struct {
		name      string
		msg       string
		wantSends int
	}{
		{"ping with token", `{"type":"ping","cont":"t"}`, 1},
		{"ping without token", `{"type":"ping"}`, 0},
		{"empty token", `{"type":"ping","cont":""}`, 0},
		{"zero token", `{"type":"ping","cont":0}`, 0},
		{"null token", `{"type":"ping","cont":null}`, 0},
		{"unknown with token", `{"type":"frobnicate","cont":"t2"}`, 1},
		{"unknown without token", `{"type":"frobnicate"}`, 0},
		{"failing eval with token", `{"type":"eval","code":"1","cont":"t3"}`, 1},
		{"failing eval without token", `{"type":"eval","code":"1"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &wireSender{}
			New(s, quietDeps()).Handle(context.Background(), decode(t, tt.msg))
			if len(s.frames) != tt.wantSends {
				t.Fatalf("sent %d frames, want %d: %v", len(s.frames), tt.wantSends, s.frames)
			}
		})
	}
}

func TestHandle_FireAndForgetCookie(t *testing.T) {
	s := &wireSender{}
	var cookies []string
	deps := quietDeps()
	deps.Cookies = CookieFunc(func(c string) error {
		cookies = append(cookies, c)
		return nil
	})

	New(s, deps).Handle(context.Background(), decode(t, `{"type":"set_cookie","cookie":"a=1"}`))

	if len(cookies) != 1 || cookies[0] != "a=1" {
		t.Fatalf("cookies = %v, want [a=1]", cookies)
	}
	if s.attempts != 0 {
		t.Fatalf("sends = %d, want 0", s.attempts)
	}
}

func TestHandle_UnknownType(t *testing.T) {
	s := &wireSender{}
	res := New(s, quietDeps()).Handle(context.Background(), decode(t, `{"type":"frobnicate","cont":"t2"}`))

	if !errors.Is(res.Err, ErrUnknownType) {
		t.Fatalf("Err = %v, want ErrUnknownType", res.Err)
	}
	replies := s.decoded(t)
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	rpl := replies[0]
	if rpl.Type != envelope.TypeAction || rpl.HasOK() {
		t.Fatalf("reply = %+v, want error reply", rpl)
	}
	tok, _ := envelope.TokenOf(rpl.Action)
	if !tok.Equal(envelope.StringToken("t2")) {
		t.Fatalf("action = %v, want t2", rpl.Action)
	}
	errValue, ok := rpl.Error.(map[string]any)
	if !ok || errValue["code"] != "D010" {
		t.Fatalf("error = %#v, want code D010", rpl.Error)
	}
	if !strings.Contains(rpl.ErrorStr, "frobnicate") {
		t.Errorf("error_str = %q, should name the type", rpl.ErrorStr)
	}
}

func TestHandle_BundleOrder(t *testing.T) {
	s := &wireSender{}
	var order []string
	deps := quietDeps()
	deps.Calls = CallFunc(func(_ context.Context, env *envelope.Envelope) (any, error) {
		order = append(order, env.Cont.String())
		return env.Cont.String(), nil
	})
	deps.Cookies = CookieFunc(func(c string) error {
		order = append(order, c)
		return nil
	})

	msg := `{"type":"bundle","messages":[
		{"type":"call","cont":"m1"},
		{"type":"set_cookie","cookie":"m2"},
		{"type":"bundle","messages":[{"type":"call","cont":"m3"}]},
		{"type":"ping","cont":"m4"}
	]}`
	New(s, deps).Handle(context.Background(), decode(t, msg))

	want := []string{"m1", "m2", "m3"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", order, want)
	}

	replies := s.decoded(t)
	var tokens []string
	for _, r := range replies {
		tok, _ := envelope.TokenOf(r.Action)
		tokens = append(tokens, tok.String())
	}
	if strings.Join(tokens, ",") != "m1,m3,m4" {
		t.Fatalf("reply tokens = %v, want [m1 m3 m4]", tokens)
	}
}

func TestHandle_BundleWithUndecodableElement(t *testing.T) {
	s := &wireSender{}
	msg := `{"type":"bundle","cont":"b","messages":[
		{"type":"ping","cont":"a"},
		5,
		{"type":"set_cookie","cookie":7,"cont":"c"},
		{"type":"ping","cont":"d"}
	]}`
	res := New(s, quietDeps()).Handle(context.Background(), decode(t, msg))
	if !res.OK() {
		t.Fatalf("bundle result = %v, want success", res.Err)
	}

	replies := s.decoded(t)
	want := []struct {
		token string
		code  string
	}{
		{"a", ""},
		{"c", "D001"},
		{"d", ""},
		{"b", ""},
	}
	if len(replies) != len(want) {
		t.Fatalf("replies = %d, want %d", len(replies), len(want))
	}
	for i, w := range want {
		tok, _ := envelope.TokenOf(replies[i].Action)
		if tok.String() != w.token {
			t.Errorf("reply %d token = %q, want %q", i, tok.String(), w.token)
		}
		if w.code == "" {
			if !replies[i].HasOK() {
				t.Errorf("reply %d = %+v, want success", i, replies[i])
			}
			continue
		}
		errValue, _ := replies[i].Error.(map[string]any)
		if errValue["code"] != w.code {
			t.Errorf("reply %d error = %v, want code %s", i, replies[i].Error, w.code)
		}
	}
}

func TestHandle_EvalDisabled(t *testing.T) {
	s := &wireSender{}
	res := New(s, quietDeps()).Handle(context.Background(), decode(t, `{"type":"eval","code":"1+1","cont":"e"}`))
	if !errors.Is(res.Err, ErrEvalDisabled) {
		t.Fatalf("Err = %v, want ErrEvalDisabled", res.Err)
	}
	rpl := s.decoded(t)[0]
	if rpl.Error.(map[string]any)["code"] != "D012" {
		t.Fatalf("error = %#v, want D012", rpl.Error)
	}
}

func TestHandle_EvalResult(t *testing.T) {
	s := &wireSender{}
	deps := quietDeps()
	deps.Evaluator = EvalFunc(func(_ context.Context, code string) (any, error) {
		return "ran " + code, nil
	})
	New(s, deps).Handle(context.Background(), decode(t, `{"type":"eval","code":"x","cont":"e"}`))

	want := `{"type":"ws_action","action":"e","ok":"ran x"}`
	if len(s.frames) != 1 || s.frames[0] != want {
		t.Fatalf("frames = %v, want [%s]", s.frames, want)
	}
}

func TestHandle_PlainErrorValue(t *testing.T) {
	s := &wireSender{}
	deps := quietDeps()
	deps.Cookies = CookieFunc(func(string) error { return errors.New("store full") })

	New(s, deps).Handle(context.Background(), decode(t, `{"type":"set_cookie","cookie":"a","cont":"k"}`))

	rpl := s.decoded(t)[0]
	if rpl.Error != "store full" || rpl.ErrorStr != "store full" {
		t.Fatalf("reply error = %#v / %q, want store full", rpl.Error, rpl.ErrorStr)
	}
}

func TestHandle_NilResultHasOKKey(t *testing.T) {
	s := &wireSender{}
	deps := quietDeps()
	reloads := 0
	deps.Reloader = ReloadFunc(func() error {
		reloads++
		return nil
	})

	New(s, deps).Handle(context.Background(), decode(t, `{"type":"reload","cont":"r"}`))

	if reloads != 1 {
		t.Fatalf("reloads = %d, want 1", reloads)
	}
	want := `{"type":"ws_action","action":"r","ok":null}`
	if len(s.frames) != 1 || s.frames[0] != want {
		t.Fatalf("frames = %v, want [%s]", s.frames, want)
	}
}

func TestHandle_NotConfigured(t *testing.T) {
	for _, typ := range []string{"set_cookie", "reload", "call"} {
		res := New(&wireSender{}, quietDeps()).Handle(context.Background(), &envelope.Envelope{Type: typ})
		if !errors.Is(res.Err, ErrNotConfigured) {
			t.Errorf("%s: Err = %v, want ErrNotConfigured", typ, res.Err)
		}
	}
}

func TestHandle_EncodingFailureFallback(t *testing.T) {
	s := &wireSender{}
	deps := quietDeps()
	deps.Evaluator = EvalFunc(func(context.Context, string) (any, error) {
		return make(chan int), nil
	})

	New(s, deps).Handle(context.Background(), decode(t, `{"type":"eval","code":"x","cont":"c9"}`))

	if s.attempts != 2 {
		t.Fatalf("attempts = %d, want 2", s.attempts)
	}
	replies := s.decoded(t)
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	rpl := replies[0]
	if rpl.Error != envelope.EncodingFailure {
		t.Fatalf("error = %#v, want %q", rpl.Error, envelope.EncodingFailure)
	}
	if rpl.ErrorStr == "" || rpl.HasOK() {
		t.Fatalf("reply = %+v, want error_str and no ok", rpl)
	}
}

func TestHandle_SecondFailureOnlyLogged(t *testing.T) {
	s := &wireSender{err: &envelope.EncodeError{Err: errors.New("nope")}}
	res := New(s, quietDeps()).Handle(context.Background(), decode(t, `{"type":"ping","cont":"c"}`))

	if !res.OK() {
		t.Fatalf("handler result = %+v, want success", res)
	}
	if s.attempts != 2 {
		t.Fatalf("attempts = %d, want 2", s.attempts)
	}
}

func TestHandle_TransportFailureNotRetried(t *testing.T) {
	s := &wireSender{err: errors.New("connection not open")}
	New(s, quietDeps()).Handle(context.Background(), decode(t, `{"type":"ping","cont":"c"}`))
	if s.attempts != 1 {
		t.Fatalf("attempts = %d, want 1", s.attempts)
	}
}

func TestHandle_PanicRecovered(t *testing.T) {
	s := &wireSender{}
	deps := quietDeps()
	deps.Calls = CallFunc(func(context.Context, *envelope.Envelope) (any, error) {
		panic("kaboom")
	})

	res := New(s, deps).Handle(context.Background(), decode(t, `{"type":"call","cont":"p"}`))
	if !errors.Is(res.Err, ErrPanic) {
		t.Fatalf("Err = %v, want ErrPanic", res.Err)
	}
	rpl := s.decoded(t)[0]
	if rpl.Error.(map[string]any)["code"] != "D011" {
		t.Fatalf("error = %#v, want D011", rpl.Error)
	}
}

func TestHandle_RedirectConsole(t *testing.T) {
	t.Cleanup(console.Reset)

	s := &wireSender{}
	New(s, quietDeps()).Handle(context.Background(), decode(t, `{"type":"redirect_console"}`))
	if !console.Redirected() {
		t.Fatal("console not redirected")
	}

	console.Logger().Info("hello")
	frames := s.decoded(t)
	if len(frames) != 1 || frames[0].Type != envelope.TypeLog {
		t.Fatalf("frames = %v, want one log envelope", s.frames)
	}
}

func TestHandle_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	deps := quietDeps()
	deps.Metrics = metrics.New(metrics.WithRegistry(reg))
	d := New(&wireSender{}, deps)

	d.Handle(context.Background(), decode(t, `{"type":"ping","cont":"a"}`))
	d.Handle(context.Background(), decode(t, `{"type":"nope"}`))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "duplex_dispatch_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			counts[labels(m)] = m.GetCounter().GetValue()
		}
	}
	if counts["ping/success"] != 1 {
		t.Errorf("dispatch_total(ping,success) = %v, want 1", counts["ping/success"])
	}
	if counts["unknown/failure"] != 1 {
		t.Errorf("dispatch_total(unknown,failure) = %v, want 1", counts["unknown/failure"])
	}
}

func labels(m *dto.Metric) string {
	var typ, status string
	for _, l := range m.GetLabel() {
		switch l.GetName() {
		case "type":
			typ = l.GetValue()
		case "status":
			status = l.GetValue()
		}
	}
	return typ + "/" + status
}

func TestResult_ErrorValue(t *testing.T) {
	if v := Success(1).ErrorValue(); v != nil {
		t.Errorf("Success.ErrorValue() = %v, want nil", v)
	}
	if v := Failure(errors.New("x")).ErrorValue(); v != "x" {
		t.Errorf("Failure(plain).ErrorValue() = %v, want x", v)
	}
}
