package pool

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cmcp/cmcp/pkg/config"
	"github.com/cmcp/cmcp/pkg/mcp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nilWriter{}, nil))
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func newPoolWithSession(t *testing.T, name string, client mcp.AgentClient) *Pool {
	t.Helper()
	p := New(discardLogger())
	p.sessions[name] = &session{name: name, config: config.ServerConfig{Transport: config.TransportHTTP}, client: client, sessionID: "initial"}
	return p
}

func TestCallTool_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := newMockAgentClient(ctrl)
	client.EXPECT().CallTool(gomock.Any(), "do_thing", gomock.Any()).
		Return(&mcp.ToolCallResult{Content: []mcp.Content{mcp.NewTextContent("ok")}}, nil)

	p := newPoolWithSession(t, "alpha", client)

	result, err := p.CallTool(context.Background(), "alpha", "do_thing", nil)
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "ok", result.Content[0].Text)
}

func TestCallTool_NoSuchServer(t *testing.T) {
	p := New(discardLogger())
	_, err := p.CallTool(context.Background(), "missing", "tool", nil)
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*ErrNoSuchServer))
}

func TestServers_SortedAndLiveOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := New(discardLogger())
	for _, name := range []string{"zebra", "alpha", "mango"} {
		p.sessions[name] = &session{name: name, client: newMockAgentClient(ctrl), sessionID: "x"}
	}

	assert.Equal(t, []string{"alpha", "mango", "zebra"}, p.Servers())
}

func TestShutdown_ToleratesNonCloserClients(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := newMockAgentClient(ctrl)
	p := newPoolWithSession(t, "alpha", client)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestCallTool_ReconnectFailurePropagatesBothErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := newMockAgentClient(ctrl)
	client.EXPECT().CallTool(gomock.Any(), "do_thing", gomock.Any()).
		Return(nil, errBoom)

	p := New(discardLogger())
	// An unrecognized transport makes connectOne fail immediately, without
	// dialing anything, so the reconnect attempt inside CallTool fails fast.
	p.sessions["alpha"] = &session{
		name:      "alpha",
		config:    config.ServerConfig{Transport: "bogus"},
		client:    client,
		sessionID: "initial",
	}

	_, err := p.CallTool(context.Background(), "alpha", "do_thing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), `unknown transport "bogus"`)
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }

func TestValidHeaders_DropsIllegalTokens(t *testing.T) {
	headers := map[string]string{
		"Authorization": "Bearer xyz",
		"bad header":    "dropped",
	}
	got := validHeaders(headers)
	assert.Contains(t, got, "Authorization")
	assert.NotContains(t, got, "bad header")
}
