package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cmcp/cmcp/pkg/config"
	"github.com/cmcp/cmcp/pkg/engine"
	"github.com/cmcp/cmcp/pkg/jsonrpc"
	"github.com/cmcp/cmcp/pkg/logging"
	"github.com/cmcp/cmcp/pkg/mcp"
	"github.com/cmcp/cmcp/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the code-mode MCP proxy over stdio",
	Long: `Loads the merged configuration, connects to every configured upstream,
and serves exactly two tools — search and execute — over a JSON-RPC
framing on stdin/stdout, plus the standard MCP initialize and tools/list
envelope a client needs to discover them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var (
	serveLogFormat string
	serveLogFile   string
)

func init() {
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "json", "log output format: json or text")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "write logs to this rotated file instead of stderr")
}

func runServe(ctx context.Context) error {
	cfg, err := config.LoadMerged(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logOutput := io.Writer(os.Stderr)
	if serveLogFile != "" {
		logOutput = logging.RotatingFileWriter(serveLogFile)
	}

	logBuffer := logging.NewLogBuffer(recentLogBufferSize)
	logger := slog.New(logging.NewRedactingHandler(
		logging.NewBufferHandler(logBuffer, logging.NewStructuredLogger(logging.Config{
			Level:     slog.LevelInfo,
			Format:    logging.ParseFormat(serveLogFormat),
			Output:    logOutput,
			Component: "cmcp",
		}).Handler()),
	))

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.Init(ctx, cfg.Telemetry)
		if err != nil {
			logger.Warn("tracing disabled: failed to initialize", "error", err)
		} else if tp != nil {
			defer tp.Shutdown(ctx)
		}
	}

	eng := engine.New(ctx, cfg, logger)
	defer eng.Shutdown(ctx)

	checker, err := engine.NewReloadChecker(eng, configPath)
	if err != nil {
		logger.Warn("on-entry config reload disabled", "error", err)
	} else {
		eng.SetReloadChecker(checker)
	}

	srv := &stdioServer{eng: eng, logger: logger, out: os.Stdout, logBuffer: logBuffer}
	return srv.run(ctx, os.Stdin)
}

// recentLogBufferSize bounds the in-memory ring buffer backing the
// "cmcp/recentLogs" diagnostic method — enough history to debug a stuck
// session without holding unbounded log volume in memory.
const recentLogBufferSize = 500

type stdioServer struct {
	eng       *engine.Engine
	logger    *slog.Logger
	out       io.Writer
	logBuffer *logging.LogBuffer
}

// run reads one JSON-RPC request per line from r and writes one response per
// line to s.out, exactly as the teacher's mock stdio MCP server does.
func (s *stdioServer) run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, mcp.MaxRequestBodySize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req jsonrpc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(jsonrpc.NewErrorResponse(nil, jsonrpc.ParseError, "parse error"))
			continue
		}

		resp := s.handle(ctx, req)
		if resp != nil {
			s.writeResponse(*resp)
		}
	}
	return scanner.Err()
}

func (s *stdioServer) writeResponse(resp jsonrpc.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encoding response", "error", err)
		return
	}
	fmt.Fprintln(s.out, string(data))
}

func (s *stdioServer) handle(ctx context.Context, req jsonrpc.Request) *jsonrpc.Response {
	switch req.Method {
	case "initialize":
		result := mcp.InitializeResult{
			ProtocolVersion: mcp.MCPProtocolVersion,
			ServerInfo:      mcp.ServerInfo{Name: "cmcp", Version: version},
			Capabilities:    mcp.Capabilities{Tools: &mcp.ToolsCapability{}},
			Instructions:    instructions(s.eng),
		}
		resp := jsonrpc.NewSuccessResponse(req.ID, result)
		return &resp

	case "notifications/initialized":
		return nil

	case "ping":
		resp := jsonrpc.NewSuccessResponse(req.ID, map[string]string{"status": "ok"})
		return &resp

	case "tools/list":
		resp := jsonrpc.NewSuccessResponse(req.ID, mcp.ToolsListResult{Tools: []mcp.Tool{searchTool(), executeTool()}})
		return &resp

	case "tools/call":
		return s.handleToolCall(ctx, req)

	case "cmcp/recentLogs":
		return s.handleRecentLogs(req)

	default:
		resp := jsonrpc.NewErrorResponse(req.ID, jsonrpc.MethodNotFound, "method not found")
		return &resp
	}
}

func (s *stdioServer) handleToolCall(ctx context.Context, req jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		resp := jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidParams, "invalid params")
		return &resp
	}

	code, _ := params.Arguments["code"].(string)
	maxLength := -1
	if v, ok := params.Arguments["max_length"].(float64); ok {
		maxLength = int(v)
	}

	var result mcp.ToolCallResult
	switch params.Name {
	case "search":
		value, err := s.eng.Search(ctx, code, maxLength)
		if err != nil {
			result = errorResult("search error: " + err.Error())
			break
		}
		result = textResult(valueText(value))

	case "execute":
		out, err := s.eng.Execute(ctx, code, maxLength)
		if err != nil {
			result = errorResult("execute error: " + err.Error())
			break
		}
		result = mcp.ToolCallResult{Content: []mcp.Content{mcp.NewTextContent(out.Text)}}
		for _, img := range out.Images {
			result.Content = append(result.Content, mcp.NewImageContent(img.Data, img.MimeType))
		}

	default:
		result = errorResult(fmt.Sprintf("unknown tool: %s", params.Name))
	}

	resp := jsonrpc.NewSuccessResponse(req.ID, result)
	return &resp
}

// handleRecentLogs serves an operator-facing diagnostic extension (not part
// of the MCP tool surface): the last N entries logged by this process,
// already redacted by the same RedactingHandler every other log line passes
// through. params is optional; {"count": N} caps the result at N entries.
func (s *stdioServer) handleRecentLogs(req jsonrpc.Request) *jsonrpc.Response {
	var params struct {
		Count int `json:"count"`
	}
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}
	resp := jsonrpc.NewSuccessResponse(req.ID, map[string]any{
		"entries": s.logBuffer.GetRecent(params.Count),
	})
	return &resp
}

func errorResult(text string) mcp.ToolCallResult {
	return mcp.ToolCallResult{Content: []mcp.Content{mcp.NewTextContent(text)}, IsError: true}
}

func textResult(text string) mcp.ToolCallResult {
	return mcp.ToolCallResult{Content: []mcp.Content{mcp.NewTextContent(text)}}
}

// valueText renders a Search result (already pretty-printed JSON text or a
// structured value re-parsed from it) back into a single text block.
func valueText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}

func instructions(eng *engine.Engine) string {
	return fmt.Sprintf(
		"Code Mode MCP Proxy — %s.\n\n"+
			"Use `search` to discover available tools by writing TypeScript filter code.\n"+
			"Use `execute` to call tools across servers by writing TypeScript code.\n\n"+
			"Each connected server is a typed object in `execute` with auto-generated type declarations from tool schemas.\n"+
			"Example: `await canva.create_design({ type: \"poster\" })`",
		eng.Summary(),
	)
}

func searchTool() mcp.Tool {
	schema := mcp.InputSchemaObject{
		Type: "object",
		Properties: map[string]mcp.Property{
			"code":       {Type: "string", Description: `TypeScript code to filter/explore the tools catalog. A typed "tools" array is available with fields: { server, name, description, input_schema }. Must return a value. Example: return tools.filter(t => t.description.toLowerCase().includes("design"))`},
			"max_length": {Type: "integer", Description: "Max response length in characters. Default: 40000. Use your code to extract only what you need rather than increasing this."},
		},
		Required: []string{"code"},
	}
	schemaJSON, _ := json.Marshal(schema)
	return mcp.Tool{
		Name:        "search",
		Description: `Search across all tools from all connected MCP servers. Write TypeScript code to filter the tool catalog. A typed "tools" array is available with { server, name, description, input_schema } fields.`,
		InputSchema: schemaJSON,
	}
}

func executeTool() mcp.Tool {
	schema := mcp.InputSchemaObject{
		Type: "object",
		Properties: map[string]mcp.Property{
			"code":       {Type: "string", Description: `TypeScript code to execute. Each connected server is a typed global object where every tool is an async function. Type declarations are auto-generated from tool schemas. Example: const result = await canva.create_design({ type: "poster" }); return result;`},
			"max_length": {Type: "integer", Description: "Max response length in characters. Default: 40000. Use your code to extract only what you need rather than increasing this."},
		},
		Required: []string{"code"},
	}
	schemaJSON, _ := json.Marshal(schema)
	return mcp.Tool{
		Name:        "execute",
		Description: "Execute TypeScript code that calls tools across all connected MCP servers. Each server is a typed global object (e.g. `canva`, `figma`) where every tool is an async function with typed parameters: `await server.tool_name({ param: value })`.",
		InputSchema: schemaJSON,
	}
}
