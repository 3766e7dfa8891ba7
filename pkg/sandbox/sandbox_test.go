package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cmcp/cmcp/pkg/catalog"
)

func emptyCatalog() *catalog.Catalog { return catalog.New() }

func TestSearch_EmptyCatalog(t *testing.T) {
	s := New(5 * time.Second)
	got, err := s.Search(context.Background(), "return tools;", emptyCatalog())
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	arr, ok := got.([]any)
	if !ok {
		t.Fatalf("expected array result, got %T: %v", got, got)
	}
	if len(arr) != 0 {
		t.Errorf("expected empty tools array, got %v", arr)
	}
}

func TestSearch_FiltersCatalog(t *testing.T) {
	cat := catalog.New()
	cat.Add("srv", []catalog.Tool{{Name: "a"}, {Name: "b"}})

	s := New(5 * time.Second)
	got, err := s.Search(context.Background(), `return tools.filter(t => t.name === "a");`, cat)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	arr, ok := got.([]any)
	if !ok || len(arr) != 1 {
		t.Fatalf("expected 1-element filtered array, got %v", got)
	}
}

func TestSearch_SyntaxError(t *testing.T) {
	s := New(5 * time.Second)
	_, err := s.Search(context.Background(), "this is not { valid js", emptyCatalog())
	if err == nil {
		t.Fatal("expected error for invalid syntax")
	}
}

// stubCaller records invocations and simulates network latency per call,
// used to exercise the async fan-out bridge (Scenario 2: P4).
type stubCaller struct {
	delay atomic.Int64 // milliseconds
	calls atomic.Int32
}

func (c *stubCaller) call(_ context.Context, server, tool string, args map[string]any) (*ToolResult, error) {
	c.calls.Add(1)
	time.Sleep(time.Duration(c.delay.Load()) * time.Millisecond)
	payload, _ := json.Marshal(map[string]string{"server": server, "tool": tool})
	return &ToolResult{Text: string(payload)}, nil
}

func TestExecute_ParallelFanOutIsConcurrent(t *testing.T) {
	cat := catalog.New()
	cat.Add("a", []catalog.Tool{{Name: "ping"}})
	cat.Add("b", []catalog.Tool{{Name: "ping"}})
	cat.Add("c", []catalog.Tool{{Name: "ping"}})

	stub := &stubCaller{}
	stub.delay.Store(100)

	s := New(5 * time.Second)
	start := time.Now()
	_, err := s.Execute(context.Background(), `
		return Promise.all([a.ping({}), b.ping({}), c.ping({})]);
	`, cat, stub.call)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if elapsed >= 200*time.Millisecond {
		t.Errorf("expected concurrent fan-out under 200ms, took %s", elapsed)
	}
	if stub.calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", stub.calls.Load())
	}
}

func TestExecute_HyphenatedServerDispatch(t *testing.T) {
	cat := catalog.New()
	cat.Add("chrome-devtools", []catalog.Tool{{Name: "take_screenshot"}})

	var gotServer string
	caller := func(_ context.Context, server, tool string, args map[string]any) (*ToolResult, error) {
		gotServer = server
		return &ToolResult{Text: `{"ok":true}`}, nil
	}

	s := New(5 * time.Second)
	_, err := s.Execute(context.Background(), `return chrome_devtools.take_screenshot({});`, cat, caller)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotServer != "chrome-devtools" {
		t.Errorf("expected dispatch to use original hyphenated name, got %q", gotServer)
	}
}

func TestExecute_ToolErrorSurfacesAsValue(t *testing.T) {
	cat := catalog.New()
	cat.Add("srv", []catalog.Tool{{Name: "fail"}})

	caller := func(_ context.Context, server, tool string, args map[string]any) (*ToolResult, error) {
		return nil, fmt.Errorf("boom")
	}

	s := New(5 * time.Second)
	result, err := s.Execute(context.Background(), `
		const result = await srv.fail({});
		return result;
	`, cat, caller)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("Execute() = %#v, want a {error} object, not a thrown exception", result)
	}
	if m["error"] != "boom" {
		t.Errorf("Execute() error field = %v, want %q", m["error"], "boom")
	}
}

func TestExecute_PromiseAllToleratesOneFailure(t *testing.T) {
	cat := catalog.New()
	cat.Add("srv", []catalog.Tool{{Name: "ok"}, {Name: "fail"}})

	caller := func(_ context.Context, server, tool string, args map[string]any) (*ToolResult, error) {
		if tool == "fail" {
			return nil, fmt.Errorf("boom")
		}
		return &ToolResult{Text: `"done"`}, nil
	}

	s := New(5 * time.Second)
	result, err := s.Execute(context.Background(), `
		const results = await Promise.all([srv.ok({}), srv.fail({})]);
		return results;
	`, cat, caller)
	if err != nil {
		t.Fatalf("Execute() error = %v, want Promise.all to resolve despite one failing call", err)
	}
	arr, ok := result.([]any)
	if !ok || len(arr) != 2 {
		t.Fatalf("Execute() = %#v, want a 2-element array", result)
	}
	if arr[0] != "done" {
		t.Errorf("arr[0] = %v, want %q", arr[0], "done")
	}
	m, ok := arr[1].(map[string]any)
	if !ok || m["error"] != "boom" {
		t.Errorf("arr[1] = %#v, want {error: \"boom\"}", arr[1])
	}
}

func TestExecute_NonIdentifierServerOmitted(t *testing.T) {
	cat := catalog.New()
	cat.Add("a/b", []catalog.Tool{{Name: "t"}})

	caller := func(_ context.Context, server, tool string, args map[string]any) (*ToolResult, error) {
		return &ToolResult{Text: "null"}, nil
	}

	s := New(5 * time.Second)
	_, err := s.Execute(context.Background(), `return typeof tools;`, cat, caller)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestSearch_CodeTooLarge(t *testing.T) {
	huge := make([]byte, MaxCodeSize+1)
	for i := range huge {
		huge[i] = 'a'
	}
	s := New(5 * time.Second)
	_, err := s.Search(context.Background(), string(huge), emptyCatalog())
	if err == nil {
		t.Fatal("expected error for oversized code")
	}
}

func TestExecute_TimeoutInterruptsLongRunningCall(t *testing.T) {
	caller := func(ctx context.Context, server, tool string, args map[string]any) (*ToolResult, error) {
		select {
		case <-time.After(2 * time.Second):
			return &ToolResult{Text: "null"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cat := catalog.New()
	cat.Add("srv", []catalog.Tool{{Name: "slow"}})

	s := New(50 * time.Millisecond)
	_, err := s.Execute(context.Background(), `return await srv.slow({});`, cat, caller)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
