package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type fakeTarget struct {
	mu        sync.Mutex
	hiding    bool
	count     int
	last      time.Time
	refreshes int
	err       error
}

func (f *fakeTarget) SetHiding(_ context.Context, hidden bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.hiding = hidden
	if !hidden {
		f.count = 0
	}
	return nil
}

func (f *fakeTarget) Stats(context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Snapshot{}, f.err
	}
	return Snapshot{Count: f.count, IsHiding: f.hiding, LastUpdate: f.last}, nil
}

func (f *fakeTarget) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.refreshes++
	return nil
}

type fakeRegistry map[string]Target

func (r fakeRegistry) Target(id string) (Target, bool) {
	if id == "" {
		id = "default"
	}
	t, ok := r[id]
	return t, ok
}

func (r fakeRegistry) IDs() []string {
	return []string{"default", "other"}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func decode(t *testing.T, b []byte) Response {
	t.Helper()
	var r Response
	if err := json.Unmarshal(b, &r); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return r
}

func TestDispatchToggle(t *testing.T) {
	target := &fakeTarget{hiding: true, count: 4}
	r := NewRouter(WithLogger(quiet()))

	resp := decode(t, r.Dispatch(context.Background(), target, []byte(`{"action":"toggleShorts","hidden":false}`)))
	if !resp.Success || resp.Error != "" {
		t.Fatalf("got %+v, want success", resp)
	}
	if target.hiding {
		t.Fatal("target still hiding")
	}
}

// Stats while hiding is disabled keep count and isHiding on the wire.
func TestDispatchStatsWhileDisabled(t *testing.T) {
	target := &fakeTarget{hiding: false, last: time.UnixMilli(1_700_000_000_123)}
	r := NewRouter(WithLogger(quiet()))

	raw := r.Dispatch(context.Background(), target, []byte(`{"action":"getStats"}`))
	resp := decode(t, raw)
	if !resp.Success || resp.Count == nil || *resp.Count != 0 || resp.IsHiding == nil || *resp.IsHiding {
		t.Fatalf("got %s, want success, count 0, isHiding false", raw)
	}
	if resp.Timestamp == nil || *resp.Timestamp != 1_700_000_000_123 {
		t.Fatalf("timestamp: got %v", resp.Timestamp)
	}
	// count:0 and isHiding:false must be present on the wire, not omitted.
	if !strings.Contains(string(raw), `"count":0`) || !strings.Contains(string(raw), `"isHiding":false`) {
		t.Fatalf("zero fields omitted: %s", raw)
	}
}

func TestDispatchErrors(t *testing.T) {
	r := NewRouter(WithLogger(quiet()))
	target := &fakeTarget{}

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"unknown action", `{"action":"explode"}`, "Unknown action"},
		{"empty action", `{}`, "Unknown action"},
		{"missing hidden", `{"action":"toggleShorts"}`, "missing field: hidden"},
		{"malformed", `{"action":`, "malformed message"},
		{"wrong type", `{"action":"toggleShorts","hidden":"yes"}`, "malformed message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decode(t, r.Dispatch(context.Background(), target, []byte(tt.payload)))
			if resp.Success {
				t.Fatal("got success, want failure")
			}
			if !strings.HasPrefix(resp.Error, tt.wantErr) {
				t.Fatalf("error: got %q, want prefix %q", resp.Error, tt.wantErr)
			}
		})
	}
}

func TestHandleTargetFailure(t *testing.T) {
	r := NewRouter(WithLogger(quiet()))
	target := &fakeTarget{err: errors.New("hider stopped")}

	resp := r.Handle(context.Background(), target, Request{Action: ActionRefresh})
	if resp.Success || resp.Error != "hider stopped" {
		t.Fatalf("got %+v", resp)
	}
}

func TestRegisterCustomAction(t *testing.T) {
	r := NewRouter(WithLogger(quiet()))
	r.Register("ping", func(context.Context, Target, Request) (Response, error) { return OK(), nil })

	if got := strings.Join(r.Actions(), ","); got != "getStats,ping,refresh,toggleShorts" {
		t.Fatalf("Actions: got %s", got)
	}
	send := r.Bind(&fakeTarget{})
	if resp := decode(t, send(context.Background(), []byte(`{"action":"ping"}`))); !resp.Success {
		t.Fatalf("ping: got %+v", resp)
	}
}

func TestProtocolErrorUnwrap(t *testing.T) {
	err := &ProtocolError{Action: "x", Err: ErrUnknownAction}
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatal("errors.Is: got false")
	}
	if err.Error() != "channel: x: Unknown action" {
		t.Fatalf("Error: got %q", err.Error())
	}
}

func newHTTP(t *testing.T) (*httptest.Server, *fakeTarget, *fakeTarget) {
	t.Helper()
	def := &fakeTarget{hiding: true, count: 2}
	other := &fakeTarget{hiding: true, count: 5}
	reg := fakeRegistry{"default": def, "other": other}
	srv := httptest.NewServer(NewHTTPHandler(NewRouter(WithLogger(quiet())), reg, quiet()))
	t.Cleanup(srv.Close)
	return srv, def, other
}

func TestHTTPRoundTrip(t *testing.T) {
	srv, def, other := newHTTP(t)
	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	resp, err := c.Toggle(ctx, "", false)
	if err != nil || !resp.Success {
		t.Fatalf("Toggle: got (%+v, %v)", resp, err)
	}
	if def.hiding {
		t.Fatal("default page still hiding")
	}

	resp, err = c.Stats(ctx, "other")
	if err != nil || !resp.Success || resp.Count == nil || *resp.Count != 5 {
		t.Fatalf("Stats(other): got (%+v, %v)", resp, err)
	}

	if resp, err := c.Refresh(ctx, "other"); err != nil || !resp.Success || other.refreshes != 1 {
		t.Fatalf("Refresh: got (%+v, %v), refreshes=%d", resp, err, other.refreshes)
	}

	pages, err := c.Pages(ctx)
	if err != nil {
		t.Fatalf("Pages: %v", err)
	}
	if len(pages) != 2 || pages[0].ID != "default" || pages[0].IsHiding || pages[1].Count != 5 {
		t.Fatalf("Pages: got %+v", pages)
	}
}

func TestHTTPUnknownPageAndBadBody(t *testing.T) {
	srv, _, _ := newHTTP(t)
	c := NewClient(srv.URL, time.Second)

	if _, err := c.Stats(context.Background(), "missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("unknown page: got %v, want 404 error", err)
	}

	res, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(`not json`))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", res.StatusCode)
	}
	if res.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	var resp Response
	json.NewDecoder(res.Body).Decode(&resp)
	if resp.Success || !strings.HasPrefix(resp.Error, "malformed message") {
		t.Fatalf("got %+v", resp)
	}
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	if _, err := c.Stats(context.Background(), ""); err == nil {
		t.Fatal("expected error for unreachable daemon")
	}
}

var testImpl = &mcp.Implementation{Name: "shortshider-test", Version: "0.1.0"}

func mcpSession(t *testing.T) (*fakeTarget, *mcp.ClientSession) {
	t.Helper()
	def := &fakeTarget{hiding: true, count: 3}
	srv := mcp.NewServer(testImpl, nil)
	RegisterMCP(srv, NewRouter(WithLogger(quiet())), fakeRegistry{"default": def}, quiet())

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return def, session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (Response, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if result.IsError {
		return Response{}, false
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	var resp Response
	if err := json.Unmarshal([]byte(tc.Text), &resp); err != nil {
		t.Fatalf("decode %s: %v", tc.Text, err)
	}
	return resp, true
}

func TestMCPTools(t *testing.T) {
	def, session := mcpSession(t)

	resp, ok := callTool(t, session, "shortshider_stats", map[string]any{})
	if !ok || !resp.Success || *resp.Count != 3 || !*resp.IsHiding {
		t.Fatalf("stats: got %+v", resp)
	}

	resp, ok = callTool(t, session, "shortshider_toggle", map[string]any{"hidden": false})
	if !ok || !resp.Success || def.hiding {
		t.Fatalf("toggle: got %+v, hiding=%v", resp, def.hiding)
	}

	resp, ok = callTool(t, session, "shortshider_refresh", nil)
	if !ok || !resp.Success || def.refreshes != 1 {
		t.Fatalf("refresh: got %+v, refreshes=%d", resp, def.refreshes)
	}

	if _, ok := callTool(t, session, "shortshider_stats", map[string]any{"page_id": "nope"}); ok {
		t.Fatal("unknown page should be a tool error")
	}
}
