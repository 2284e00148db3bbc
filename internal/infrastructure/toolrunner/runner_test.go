package toolrunner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	domaintool "github.com/skiff-ai/skiff/internal/domain/tool"
	"github.com/skiff-ai/skiff/pkg/errors"
	"github.com/skiff-ai/skiff/pkg/jsonval"
)

var testUpgrader = websocket.Upgrader{}

// fakeRunnerServer upgrades one connection and answers every request
// through respond. Returning false from respond closes the connection.
func fakeRunnerServer(t *testing.T, respond func(conn *websocket.Conn, req toolRequest) bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var req toolRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if !respond(conn, req) {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connectRunner(t *testing.T, srv *httptest.Server) *Runner {
	t.Helper()
	runner := NewRunner(wsURL(srv), zap.NewNop())
	if err := runner.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runner.Close() })
	return runner
}

func TestRunner_InvokeRoundTrip(t *testing.T) {
	srv := fakeRunnerServer(t, func(conn *websocket.Conn, req toolRequest) bool {
		if req.Tool != "greet" {
			t.Errorf("tool = %q", req.Tool)
		}
		var args map[string]any
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			t.Errorf("arguments: %v", err)
		}
		return conn.WriteJSON(toolResponse{
			ID:      req.ID,
			Content: "hello " + args["name"].(string),
			Details: json.RawMessage(`{"lang":"en"}`),
		}) == nil
	})

	runner := connectRunner(t, srv)
	args, _ := jsonval.FromAny(map[string]any{"name": "skiff"})
	result, err := runner.Invoke(context.Background(), "greet", "c1", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Text() != "hello skiff" {
		t.Fatalf("content = %q", result.Text())
	}
	if result.IsError {
		t.Fatal("unexpected error result")
	}
	if result.Details.StringOr("lang", "") != "en" {
		t.Fatalf("details not decoded: %+v", result.Details)
	}
}

func TestRunner_ErrorResponse(t *testing.T) {
	srv := fakeRunnerServer(t, func(conn *websocket.Conn, req toolRequest) bool {
		return conn.WriteJSON(toolResponse{
			ID:      req.ID,
			IsError: true,
			Error:   "command failed",
		}) == nil
	})

	runner := connectRunner(t, srv)
	result, err := runner.Invoke(context.Background(), "sh", "c1", jsonval.Object(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || result.Text() != "command failed" {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunner_DisconnectFailsPendingCalls(t *testing.T) {
	srv := fakeRunnerServer(t, func(conn *websocket.Conn, req toolRequest) bool {
		return false // hang up instead of answering
	})

	runner := connectRunner(t, srv)
	_, err := runner.Invoke(context.Background(), "slow", "c1", jsonval.Object(nil))
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if !errors.IsTransport(err) {
		t.Fatalf("error kind = %v", err)
	}

	// After the drop new calls fail immediately.
	if _, err := runner.Invoke(context.Background(), "slow", "c2", jsonval.Object(nil)); err == nil {
		t.Fatal("invoke on a dead runner must fail")
	}
}

func TestRunner_InvokeHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := fakeRunnerServer(t, func(conn *websocket.Conn, req toolRequest) bool {
		<-release
		return false
	})
	defer close(release)

	runner := connectRunner(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := runner.Invoke(ctx, "slow", "c1", jsonval.Object(nil)); err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestParseManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	doc := `name: local-runner
tools:
  - name: shell
    description: Run a shell command.
    parameters:
      type: object
      required: [command]
      properties:
        command:
          type: string
  - name: noop
    description: Does nothing.
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := ParseManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "local-runner" || len(m.Tools) != 2 {
		t.Fatalf("manifest = %+v", m)
	}
	if m.Tools[0].Parameters["type"] != "object" {
		t.Fatalf("parameters not parsed: %+v", m.Tools[0].Parameters)
	}
}

func TestParseManifest_RejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	doc := `name: r
tools:
  - name: a
  - name: a
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseManifest(path); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v", err)
	}
}

func TestRegisterManifest(t *testing.T) {
	srv := fakeRunnerServer(t, func(conn *websocket.Conn, req toolRequest) bool {
		return conn.WriteJSON(toolResponse{ID: req.ID, Content: "ran " + req.Tool}) == nil
	})
	runner := connectRunner(t, srv)

	reg := domaintool.NewInMemoryRegistry()
	m := &Manifest{
		Name: "r",
		Tools: []ManifestTool{{
			Name:        "shell",
			Description: "Run a shell command.",
			Parameters: map[string]any{
				"type":     "object",
				"required": []any{"command"},
				"properties": map[string]any{
					"command": map[string]any{"type": "string"},
				},
			},
		}},
	}
	if err := RegisterManifest(reg, runner, m); err != nil {
		t.Fatal(err)
	}

	args, _ := jsonval.FromAny(map[string]any{"command": "ls"})
	result, err := domaintool.Invoke(context.Background(), reg, "c1", "shell", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Content[0].Text != "ran shell" {
		t.Fatalf("content = %q", result.Content[0].Text)
	}

	// Schema from the manifest is enforced locally.
	if _, err := domaintool.Invoke(context.Background(), reg, "c2", "shell", jsonval.Object(nil)); err == nil {
		t.Fatal("missing required argument accepted")
	}
}

func TestRegisterManifest_NoParameters(t *testing.T) {
	srv := fakeRunnerServer(t, func(conn *websocket.Conn, req toolRequest) bool {
		return conn.WriteJSON(toolResponse{ID: req.ID, Content: "pong"}) == nil
	})
	runner := connectRunner(t, srv)

	reg := domaintool.NewInMemoryRegistry()
	m := &Manifest{
		Name:  "r",
		Tools: []ManifestTool{{Name: "ping", Description: "Liveness check."}},
	}
	if err := RegisterManifest(reg, runner, m); err != nil {
		t.Fatal(err)
	}

	// No declared parameters means an argument-free tool, not an
	// uninvokable one.
	result, err := domaintool.Invoke(context.Background(), reg, "c1", "ping", jsonval.Object(nil))
	if err != nil {
		t.Fatal(err)
	}
	if result.Content[0].Text != "pong" {
		t.Fatalf("content = %q", result.Content[0].Text)
	}
}
