// Package pool owns one live session per configured upstream MCP server,
// performing the initial tool listing on connect and serializing calls to
// each upstream behind its own lock so that distinct upstreams can still be
// called concurrently.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cmcp/cmcp/pkg/catalog"
	"github.com/cmcp/cmcp/pkg/config"
	"github.com/cmcp/cmcp/pkg/mcp"
	"github.com/cmcp/cmcp/pkg/telemetry"
)

// session wraps one upstream's live client behind an exclusive lock. Only
// one call_tool may be in flight against a given upstream at a time; calls
// to different upstreams never contend with each other. sessionID changes
// on every reconnect so logs/traces can tell a fresh connection apart from
// the one it replaced.
type session struct {
	name      string
	config    config.ServerConfig
	mu        sync.Mutex
	client    mcp.AgentClient
	sessionID string
}

// Pool owns the live sessions for every successfully connected upstream.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]*session
	logger   *slog.Logger
}

// New returns an empty pool. Use Connect to populate it.
func New(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{sessions: make(map[string]*session), logger: logger}
}

var httpTokenRe = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+$`)

// validHeaders drops any header name that is not a syntactically legal HTTP
// token, rather than failing the whole connect attempt over one bad entry.
func validHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if httpTokenRe.MatchString(k) {
			out[k] = v
		}
	}
	return out
}

// connectOne dials a single upstream per its transport and performs the MCP
// initialize handshake plus an initial tools/list. cfg's "env:NAME" fields
// (Auth, Headers, Env) are resolved against the current environment here, at
// connect time, rather than when the config was loaded — so a reconnect
// always picks up the live environment, and the Config held by the caller
// (and anything it later Saves) keeps the literal "env:NAME" indirection.
func connectOne(ctx context.Context, name string, cfg config.ServerConfig) (mcp.AgentClient, error) {
	var client mcp.AgentClient

	cfg = config.ResolvedServerConfig(cfg)

	switch cfg.Transport {
	case config.TransportStdio:
		client = mcp.NewProcessClient(name, append([]string{cfg.Command}, cfg.Args...), "", cfg.Env)
	case config.TransportHTTP, config.TransportSSE:
		httpClient := mcp.NewClient(name, cfg.URL)
		if cfg.Auth != "" {
			httpClient.SetAuth(cfg.Auth)
		}
		if len(cfg.Headers) > 0 {
			httpClient.SetHeaders(validHeaders(cfg.Headers))
		}
		client = httpClient
	default:
		return nil, fmt.Errorf("unknown transport %q for server %q", cfg.Transport, name)
	}

	if err := client.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %q: %w", name, err)
	}
	if err := client.RefreshTools(ctx); err != nil {
		return nil, fmt.Errorf("tools/list %q: %w", name, err)
	}
	return client, nil
}

// Connect attempts to connect every configured server. A failed connect is
// logged and the entry is simply omitted from the returned pool/catalog —
// Connect always returns successfully (partial-success semantics).
func Connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Pool, *catalog.Catalog) {
	p := New(logger)
	cat := catalog.New()

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := cfg.Servers[name]
		client, err := connectOne(ctx, name, sc)
		if err != nil {
			p.logger.Warn("upstream connect failed, omitting from catalog", "server", name, "error", err)
			continue
		}

		p.mu.Lock()
		p.sessions[name] = &session{name: name, config: sc, client: client, sessionID: uuid.NewString()}
		p.mu.Unlock()

		tools := make([]catalog.Tool, 0, len(client.Tools()))
		for _, t := range client.Tools() {
			tools = append(tools, catalog.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
		}
		cat.Add(name, tools)
	}

	return p, cat
}

// ErrNoSuchServer is returned by CallTool when the named server has no live
// session (it was never configured or its initial connect failed).
type ErrNoSuchServer struct{ Server string }

func (e *ErrNoSuchServer) Error() string {
	return fmt.Sprintf("no such server: %q", e.Server)
}

func (p *Pool) lookup(server string) (*session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[server]
	return s, ok
}

// CallTool invokes a tool on the named upstream. On failure it attempts
// exactly one reconnect using the session's stored config, then retries the
// call exactly once; if either the reconnect or the retry also fails, the
// returned error composes both failure messages.
func (p *Pool) CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.ToolCallResult, error) {
	ctx, span := telemetry.Tracer("cmcp/pool").Start(ctx, "pool.call_tool",
		trace.WithAttributes(attribute.String("server", server), attribute.String("tool", tool)))
	defer span.End()

	s, ok := p.lookup(server)
	if !ok {
		span.SetStatus(codes.Error, "no such server")
		return nil, &ErrNoSuchServer{Server: server}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	span.SetAttributes(attribute.String("session_id", s.sessionID))

	result, err := s.client.CallTool(ctx, tool, args)
	if err == nil {
		return result, nil
	}

	span.AddEvent("reconnecting after call failure", trace.WithAttributes(attribute.String("error", err.Error())))
	reconnected, reErr := connectOne(ctx, s.name, s.config)
	if reErr != nil {
		span.SetStatus(codes.Error, "reconnect failed")
		return nil, fmt.Errorf("call failed (%v), reconnect failed (%v)", err, reErr)
	}
	s.client = reconnected
	s.sessionID = uuid.NewString()

	result, retryErr := s.client.CallTool(ctx, tool, args)
	if retryErr != nil {
		span.SetStatus(codes.Error, "retry after reconnect failed")
		return nil, fmt.Errorf("call failed (%v), retry after reconnect also failed (%v)", err, retryErr)
	}
	return result, nil
}

// Servers returns the names of every currently live session, sorted.
func (p *Pool) Servers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.sessions))
	for name := range p.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown closes every session concurrently, tolerating per-session errors.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.RLock()
	sessions := make([]*session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			s.mu.Lock()
			defer s.mu.Unlock()
			if closer, ok := s.client.(interface{ Close() error }); ok {
				if err := closer.Close(); err != nil {
					p.logger.Warn("error closing upstream session", "server", s.name, "error", err)
				}
			}
		}(s)
	}
	wg.Wait()
	return nil
}
