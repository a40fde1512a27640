package kit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	errFail := errors.New("fail")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ok := Logging(logger, "ok")(func(context.Context, any) (any, error) { return 1, nil })
	if resp, err := ok(context.Background(), nil); err != nil || resp != 1 {
		t.Fatalf("got (%v, %v), want (1, nil)", resp, err)
	}

	bad := Logging(logger, "bad")(func(context.Context, any) (any, error) { return nil, errFail })
	if _, err := bad(context.Background(), nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Transport(t *testing.T) {
	if v := GetTransport(context.Background()); v != "local" {
		t.Fatalf("default transport: got %q, want local", v)
	}
	ctx := WithTransport(context.Background(), "mcp")
	if v := GetTransport(ctx); v != "mcp" {
		t.Fatalf("transport: got %q, want mcp", v)
	}
}

func TestContext_IDs(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetPageID(ctx) != "" {
		t.Fatal("empty context should yield empty IDs")
	}
	ctx = WithPageID(WithRequestID(ctx, "req_abc"), "home")
	if v := GetRequestID(ctx); v != "req_abc" {
		t.Fatalf("request_id: got %q", v)
	}
	if v := GetPageID(ctx); v != "home" {
		t.Fatalf("page_id: got %q", v)
	}
}
