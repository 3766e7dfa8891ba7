// Package sandbox runs client-authored code inside an embedded goja VM,
// giving it read-only catalog access (search) or live dispatch to upstream
// tools through per-server namespace proxies (execute).
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/cmcp/cmcp/pkg/catalog"
	"github.com/cmcp/cmcp/pkg/transpile"
)

// MaxCodeSize bounds client-submitted source for a single search/execute call.
const MaxCodeSize = 64 * 1024

// DefaultTimeout bounds one search/execute evaluation end to end.
const DefaultTimeout = 30 * time.Second

// memoryCeilingBytes is the approximate heap-growth budget for one
// evaluation. goja has no native per-Runtime memory governor, so this is
// enforced approximately by sampling process heap growth against a baseline
// captured when the evaluation starts, not by a hard VM-level limit.
const memoryCeilingBytes = 64 * 1024 * 1024

const memoryCheckInterval = 50 * time.Millisecond

// CallTool is the bridge the sandbox uses to reach the connection pool. It
// must be safe to call concurrently for distinct (server, tool) pairs.
type CallTool func(ctx context.Context, server, tool string, args map[string]any) (*ToolResult, error)

// ToolResult mirrors the shape the sandbox needs from a tool call result,
// decoupling this package from the wire-level mcp.ToolCallResult type. Text
// must already be valid JSON text (the caller is responsible for producing
// it, e.g. passing a content block's text through unchanged if it parses as
// JSON, or re-encoding it as a JSON string otherwise) — the prelude's
// namespace wrapper always runs JSON.parse on it.
type ToolResult struct {
	Text    string
	IsError bool
}

// Sandbox owns no state across calls; every Search/Execute gets a fresh VM
// so that one client's globals can never leak into another's.
type Sandbox struct {
	timeout time.Duration
}

// New returns a sandbox with the given per-call timeout (DefaultTimeout if <= 0).
func New(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sandbox{timeout: timeout}
}

// Search evaluates code with read-only access to the catalog: a global
// `tools` array and nothing else. No upstream may be reached from search.
func (s *Sandbox) Search(ctx context.Context, code string, cat *catalog.Catalog) (any, error) {
	if len(code) > MaxCodeSize {
		return nil, fmt.Errorf("code too large: %d bytes (maximum %d)", len(code), MaxCodeSize)
	}

	body, err := transpileBody(code)
	if err != nil {
		return nil, err
	}

	toolsJSON, err := cat.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("serializing catalog: %w", err)
	}

	var prelude strings.Builder
	fmt.Fprintf(&prelude, "const tools = %s;\n", toolsJSON)

	return s.run(ctx, prelude.String(), body, nil)
}

// Execute evaluates code with the same catalog access as Search plus live
// dispatch: one async namespace function per upstream, each delegating to
// caller. caller must never be nil.
func (s *Sandbox) Execute(ctx context.Context, code string, cat *catalog.Catalog, caller CallTool) (any, error) {
	if len(code) > MaxCodeSize {
		return nil, fmt.Errorf("code too large: %d bytes (maximum %d)", len(code), MaxCodeSize)
	}

	body, err := transpileBody(code)
	if err != nil {
		return nil, err
	}

	toolsJSON, err := cat.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("serializing catalog: %w", err)
	}

	prelude := buildExecutePrelude(cat, toolsJSON)

	return s.run(ctx, prelude, body, caller)
}

func transpileBody(code string) (string, error) {
	wrapped := transpile.Wrap(code)
	transpiled, err := transpile.Transpile(wrapped)
	if err != nil {
		return "", fmt.Errorf("transpile: %w", err)
	}
	body, err := transpile.ExtractBody(transpiled)
	if err != nil {
		return "", fmt.Errorf("extract body: %w", err)
	}
	return body, nil
}

// buildExecutePrelude emits a `const <projected>: {...}` namespace for every
// upstream whose projected name is a legal identifier, in sorted order, plus
// the `tools` catalog binding. Each namespace is a Proxy whose property
// access yields an async function delegating to the native __call_tool
// bridge using the server's ORIGINAL (un-projected) name.
func buildExecutePrelude(cat *catalog.Catalog, toolsJSON []byte) string {
	seen := make(map[string]bool)
	var servers []string
	for _, t := range cat.Entries() {
		if !seen[t.Server] {
			seen[t.Server] = true
			servers = append(servers, t.Server)
		}
	}
	sort.Strings(servers)

	var b strings.Builder
	b.WriteString(namespaceHelperJS)
	for _, server := range servers {
		projected := catalog.ProjectServerName(server)
		if !catalog.IsLegalIdentifier(projected) {
			continue
		}
		fmt.Fprintf(&b, "const %s = __make_namespace(%s);\n", projected, strconv.Quote(server))
	}
	fmt.Fprintf(&b, "const tools = %s;\n", toolsJSON)

	return b.String()
}

// namespaceHelperJS defines __make_namespace(serverName), a factory for the
// per-upstream Proxy objects. Property access returns an async function
// that JSON-encodes its argument object, awaits the native __call_tool
// bridge, and returns the parsed result as-is — a failed call comes back
// as a plain `{"error": "..."}` value, never a thrown exception, so one
// failing upstream in a Promise.all fan-out never rejects the others.
const namespaceHelperJS = `
function __make_namespace(serverName) {
  return new Proxy({}, {
    get(_target, toolName) {
      if (typeof toolName !== "string") return undefined;
      return async function(params) {
        const raw = await __call_tool(serverName, toolName, JSON.stringify(params || {}));
        try {
          return JSON.parse(raw);
        } catch {
          return raw;
        }
      };
    }
  });
}
`

// consoleHelperJS installs a console object whose methods forward a
// level-tagged, string-joined message through the native __stderr bridge.
const consoleHelperJS = `
const console = {
  log: (...args) => __stderr("log: " + args.map(String).join(" ")),
  info: (...args) => __stderr("info: " + args.map(String).join(" ")),
  warn: (...args) => __stderr("warn: " + args.map(String).join(" ")),
  debug: (...args) => __stderr("debug: " + args.map(String).join(" ")),
  error: (...args) => __stderr("error: " + args.map(String).join(" ")),
};
`

// run evaluates prelude+body as an async IIFE inside a fresh VM and waits
// for the resulting promise to settle, servicing __call_tool invocations
// concurrently via a job-loop bridge: a native call immediately returns a
// pending goja.Promise, spawns the real call on its own goroutine, and
// reports completion back onto a channel that the VM-owning goroutine
// drains, calling resolve/reject itself — the only goroutine ever allowed
// to touch a goja.Value.
func (s *Sandbox) run(ctx context.Context, prelude, body string, caller CallTool) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vm := goja.New()
	jobs := make(chan func(), 16)

	installConsole(vm)
	if caller != nil {
		installCallTool(ctx, vm, caller, jobs)
	}

	go watchInterrupt(ctx, vm)
	stopMem := watchMemory(vm)
	defer stopMem()

	script := prelude + consoleHelperJS + "\n(async function() {\n" + body + "\n})();\n"

	val, err := vm.RunString(script)
	if err != nil {
		return nil, translateRuntimeErr(ctx, s.timeout, err)
	}

	promise, ok := val.Export().(*goja.Promise)
	if !ok {
		return exportJSON(val), nil
	}

	for {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			return exportJSON(promise.Result()), nil
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("script error: %s", describeRejection(promise.Result()))
		}

		select {
		case <-ctx.Done():
			return nil, translateRuntimeErr(ctx, s.timeout, ctx.Err())
		case job := <-jobs:
			job()
		}
	}
}

func describeRejection(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	return v.String()
}

func exportJSON(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func installConsole(vm *goja.Runtime) {
	_ = vm.Set("__stderr", func(call goja.FunctionCall) goja.Value {
		// Deliberately a no-op sink by default; callers that want captured
		// console output should wrap Sandbox with their own logger hook.
		return goja.Undefined()
	})
}

// installCallTool installs the native bridge described in run's doc comment.
func installCallTool(ctx context.Context, vm *goja.Runtime, caller CallTool, jobs chan func()) {
	_ = vm.Set("__call_tool", func(call goja.FunctionCall) goja.Value {
		server := call.Argument(0).String()
		tool := call.Argument(1).String()
		paramsJSON := call.Argument(2).String()

		var args map[string]any
		if err := json.Unmarshal([]byte(paramsJSON), &args); err != nil {
			args = map[string]any{}
		}

		promise, resolve, reject := vm.NewPromise()

		go func() {
			result, err := caller(ctx, server, tool, args)
			jobs <- func() {
				if err != nil {
					resolve(vm.ToValue(errorEnvelope(err)))
					return
				}
				if result.IsError {
					resolve(vm.ToValue(errorEnvelope(fmt.Errorf("%s", result.Text))))
					return
				}
				resolve(vm.ToValue(result.Text))
			}
		}()

		return vm.ToValue(promise)
	})
}

// errorEnvelope renders the `{"error":"…escaped…"}` sentinel the prelude's
// namespace wrapper hands back to script as a plain value, never a thrown
// exception.
func errorEnvelope(err error) string {
	raw, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return `{"error":"internal error encoding failure"}`
	}
	return string(raw)
}

func watchInterrupt(ctx context.Context, vm *goja.Runtime) {
	<-ctx.Done()
	vm.Interrupt("execution timeout exceeded")
}

// watchMemory polls process heap growth against memoryCeilingBytes and
// interrupts the VM if the budget is exceeded. This is an approximation —
// goja has no per-Runtime memory accounting — so it only catches sustained
// over-allocation, not a single huge allocation between polls.
func watchMemory(vm *goja.Runtime) (stop func()) {
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)

	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(memoryCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				if m.HeapAlloc > baseline.HeapAlloc && m.HeapAlloc-baseline.HeapAlloc > memoryCeilingBytes {
					vm.Interrupt("memory limit exceeded")
					return
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func translateRuntimeErr(ctx context.Context, timeout time.Duration, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("execution exceeded %s timeout", timeout)
	}
	if interrupted, ok := err.(*goja.InterruptedError); ok {
		return fmt.Errorf("execution interrupted: %s", interrupted.Value())
	}
	return fmt.Errorf("runtime error: %w", err)
}
