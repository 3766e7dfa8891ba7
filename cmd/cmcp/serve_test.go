package main

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/cmcp/cmcp/pkg/jsonrpc"
	"github.com/cmcp/cmcp/pkg/logging"
)

func idMessage(t *testing.T, v string) *json.RawMessage {
	t.Helper()
	raw := json.RawMessage(v)
	return &raw
}

func TestHandleRecentLogs_ReturnsBufferedEntries(t *testing.T) {
	buf := logging.NewLogBuffer(10)
	logger := slog.New(logging.NewBufferHandler(buf, nil))
	logger.Info("hello", "server", "canva")
	logger.Warn("uh oh")

	srv := &stdioServer{logBuffer: buf}
	resp := srv.handleRecentLogs(jsonrpc.Request{ID: idMessage(t, `"1"`)})
	if resp == nil {
		t.Fatal("handleRecentLogs returned nil response")
	}

	var decoded struct {
		Entries []logging.BufferedEntry `json:"entries"`
	}
	if err := json.Unmarshal(resp.Result, &decoded); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	if len(decoded.Entries) != 2 {
		t.Fatalf("expected 2 buffered entries, got %d", len(decoded.Entries))
	}
	if decoded.Entries[0].Message != "hello" || decoded.Entries[1].Message != "uh oh" {
		t.Errorf("unexpected entries: %+v", decoded.Entries)
	}
}

func TestHandleRecentLogs_RespectsCountParam(t *testing.T) {
	buf := logging.NewLogBuffer(10)
	logger := slog.New(logging.NewBufferHandler(buf, nil))
	for i := 0; i < 5; i++ {
		logger.Info("entry")
	}

	srv := &stdioServer{logBuffer: buf}
	params, _ := json.Marshal(map[string]int{"count": 2})
	resp := srv.handleRecentLogs(jsonrpc.Request{ID: idMessage(t, `"1"`), Params: params})

	var decoded struct {
		Entries []logging.BufferedEntry `json:"entries"`
	}
	if err := json.Unmarshal(resp.Result, &decoded); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	if len(decoded.Entries) != 2 {
		t.Fatalf("expected 2 entries when count=2, got %d", len(decoded.Entries))
	}
}
