// Package engine holds the {pool, catalog, sandbox} triple behind a single
// mutable slot so a config reload can swap all three atomically, and
// post-processes script results (image extraction, truncation) for the
// outer transport.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cmcp/cmcp/pkg/catalog"
	"github.com/cmcp/cmcp/pkg/config"
	"github.com/cmcp/cmcp/pkg/mcp"
	"github.com/cmcp/cmcp/pkg/pool"
	"github.com/cmcp/cmcp/pkg/sandbox"
	"github.com/cmcp/cmcp/pkg/telemetry"
)

// DefaultMaxLength is the truncation limit applied when a caller doesn't
// specify one.
const DefaultMaxLength = 40000

// SandboxTimeout bounds one search/execute evaluation.
const SandboxTimeout = 30 * time.Second

// ImageData is one extracted image content block, pulled out of a result
// before truncation so a large embedded base64 payload never gets cut mid
// encoding and never contributes to the text length budget.
type ImageData struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// ExecuteResult is what Execute returns: the (possibly truncated) text
// representation of the script's return value, plus any images pulled out
// of it. The outer transport emits Images as separate binary content
// blocks and Text as a single text block.
type ExecuteResult struct {
	Text   string
	Images []ImageData
}

type snapshot struct {
	pool    *pool.Pool
	catalog *catalog.Catalog
	sandbox *sandbox.Sandbox
}

// Engine is safe for concurrent use. Reload swaps the entire snapshot
// atomically so in-flight search/execute calls always see a consistent
// {pool, catalog, sandbox} triple.
type Engine struct {
	state   atomic.Pointer[snapshot]
	logger  *slog.Logger
	checker *ReloadChecker
}

// SetReloadChecker installs the C6 on-entry reload mechanism. Without one,
// Search/Execute never reload automatically — used in tests and anywhere
// the caller wants to drive reload explicitly instead.
func (e *Engine) SetReloadChecker(c *ReloadChecker) {
	e.checker = c
}

// New connects every configured upstream and builds the initial snapshot.
// Connect failures are partial-success (logged, server omitted) per C3.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger}
	e.state.Store(buildSnapshot(ctx, cfg, logger))
	return e
}

func buildSnapshot(ctx context.Context, cfg config.Config, logger *slog.Logger) *snapshot {
	p, cat := pool.Connect(ctx, cfg, logger)
	return &snapshot{pool: p, catalog: cat, sandbox: sandbox.New(SandboxTimeout)}
}

// Reload builds a fresh snapshot off to the side and then installs it
// atomically. Building does not fail: upstreams that fail to connect are
// logged and left out of the new snapshot, as in New. Reload never touches
// the currently-installed snapshot until the new one is fully built.
func (e *Engine) Reload(ctx context.Context, cfg config.Config) {
	next := buildSnapshot(ctx, cfg, e.logger)
	e.state.Store(next)
}

func (e *Engine) current() *snapshot {
	return e.state.Load()
}

// Search evaluates code with read-only catalog access and returns the
// truncated, re-parsed result.
func (e *Engine) Search(ctx context.Context, code string, maxLength int) (any, error) {
	ctx, span := telemetry.Tracer("cmcp/engine").Start(ctx, "engine.search",
		trace.WithAttributes(attribute.Int("code_size", len(code))))
	defer span.End()

	if e.checker != nil {
		e.checker.CheckAndReload(ctx)
	}
	snap := e.current()

	result, err := snap.sandbox.Search(ctx, code, snap.catalog)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	pretty, err := prettyJSON(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}

	truncated := truncate(pretty, resolveMaxLength(maxLength))

	var reparsed any
	if json.Unmarshal([]byte(truncated), &reparsed) == nil {
		return reparsed, nil
	}
	return truncated, nil
}

// Execute evaluates code with live tool dispatch, extracts image content
// blocks before truncating the remaining text.
func (e *Engine) Execute(ctx context.Context, code string, maxLength int) (*ExecuteResult, error) {
	ctx, span := telemetry.Tracer("cmcp/engine").Start(ctx, "engine.execute",
		trace.WithAttributes(attribute.Int("code_size", len(code))))
	defer span.End()

	if e.checker != nil {
		e.checker.CheckAndReload(ctx)
	}
	snap := e.current()

	caller := func(ctx context.Context, server, tool string, args map[string]any) (*sandbox.ToolResult, error) {
		result, err := snap.pool.CallTool(ctx, server, tool, args)
		if err != nil {
			return nil, err
		}
		return &sandbox.ToolResult{Text: toolResultJSON(result), IsError: result.IsError}, nil
	}

	result, err := snap.sandbox.Execute(ctx, code, snap.catalog, caller)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	asJSON, err := toStructured(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}

	images := extractImages(asJSON)

	pretty, err := prettyJSON(asJSON)
	if err != nil {
		return nil, fmt.Errorf("re-encoding result: %w", err)
	}

	return &ExecuteResult{
		Text:   truncate(pretty, resolveMaxLength(maxLength)),
		Images: images,
	}, nil
}

// Summary forwards to the current snapshot's catalog.
func (e *Engine) Summary() string {
	return e.current().catalog.Summary()
}

// ToolCount forwards to the current snapshot's catalog.
func (e *Engine) ToolCount() int {
	return e.current().catalog.ToolCount()
}

// Servers returns the names of every upstream with a live session in the
// current snapshot, sorted.
func (e *Engine) Servers() []string {
	return e.current().pool.Servers()
}

// ToolsByServer forwards to the current snapshot's catalog.
func (e *Engine) ToolsByServer(server string) []catalog.Tool {
	return e.current().catalog.EntriesByServer(server)
}

// Shutdown closes every live upstream session in the current snapshot.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.current().pool.Shutdown(ctx)
}

func resolveMaxLength(maxLength int) int {
	if maxLength < 0 {
		return DefaultMaxLength
	}
	return maxLength
}

// toolResultJSON renders a tool call result as the JSON text the sandbox's
// namespace wrapper will JSON.parse: the first text content block if it is
// itself valid JSON, or that block's string value JSON-encoded otherwise,
// or "null" if there is no text content at all.
func toolResultJSON(result *mcp.ToolCallResult) string {
	for _, c := range result.Content {
		if c.Text == "" {
			continue
		}
		var probe any
		if json.Unmarshal([]byte(c.Text), &probe) == nil {
			return c.Text
		}
		encoded, err := json.Marshal(c.Text)
		if err != nil {
			return "null"
		}
		return string(encoded)
	}
	return "null"
}

func toStructured(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func prettyJSON(v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// truncate cuts text at the last newline at or before limit and appends a
// notice naming how many characters were omitted. limit == 0 disables
// truncation entirely. Text that truncate already cut at this limit is
// returned unchanged, so applying it twice is a no-op.
func truncate(text string, limit int) string {
	if limit == 0 || len(text) <= limit {
		return text
	}
	const noticeTail = " chars omitted. Use your code to extract only the data you need, or increase max_length.]"
	if strings.HasSuffix(text, noticeTail) {
		if i := strings.LastIndex(text, "\n\n[truncated — "); i >= 0 && i <= limit {
			return text
		}
	}

	cut := strings.LastIndexByte(text[:limit], '\n')
	if cut < 0 {
		cut = limit
	}

	omitted := len(text) - cut
	notice := "\n\n[truncated — " + strconv.Itoa(omitted) + " chars omitted. Use your code to extract only the data you need, or increase max_length.]"
	return text[:cut] + notice
}

// extractImages walks v looking for objects of shape
// {"type":"image","data":<string>,"mimeType":<string>}, replacing each
// "data" field in place with a "[image #K extracted]" placeholder and
// collecting the original data+mimeType into the returned slice in
// encounter order.
func extractImages(v any) []ImageData {
	var images []ImageData
	var walk func(node any) any
	walk = func(node any) any {
		switch n := node.(type) {
		case map[string]any:
			if isImageBlock(n) {
				data, _ := n["data"].(string)
				mimeType, _ := n["mimeType"].(string)
				idx := len(images)
				images = append(images, ImageData{Data: data, MimeType: mimeType})
				n["data"] = fmt.Sprintf("[image #%d extracted]", idx)
				return n
			}
			for k, val := range n {
				n[k] = walk(val)
			}
			return n
		case []any:
			for i, val := range n {
				n[i] = walk(val)
			}
			return n
		default:
			return node
		}
	}
	walk(v)
	return images
}

func isImageBlock(n map[string]any) bool {
	t, _ := n["type"].(string)
	if t != "image" {
		return false
	}
	_, dataIsString := n["data"].(string)
	_, mimeIsString := n["mimeType"].(string)
	return dataIsString && mimeIsString
}
