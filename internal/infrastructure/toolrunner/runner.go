// Package toolrunner connects to an external tool-runner process over
// WebSocket and exposes its tools through the domain registry. Requests
// and responses are correlated by ID; a dropped connection fails every
// in-flight call instead of leaving it hanging.
package toolrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/pkg/errors"
	"github.com/skiff-ai/skiff/pkg/jsonval"
	"github.com/skiff-ai/skiff/pkg/safego"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 4 * 1024 * 1024
)

type toolRequest struct {
	ID        string          `json:"id"`
	Tool      string          `json:"tool"`
	CallID    string          `json:"callId"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolResponse struct {
	ID      string          `json:"id"`
	Content string          `json:"content"`
	Details json.RawMessage `json:"details,omitempty"`
	IsError bool            `json:"isError"`
	Error   string          `json:"error,omitempty"`
}

type pendingCall struct {
	ch chan outcome
}

type outcome struct {
	resp toolResponse
	err  error
}

// Runner is a WebSocket client to one tool-runner process.
type Runner struct {
	url    string
	logger *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
}

func NewRunner(url string, logger *zap.Logger) *Runner {
	return &Runner{
		url:     url,
		logger:  logger,
		pending: make(map[string]*pendingCall),
	}
}

// Connect dials the runner and starts the read and keepalive loops.
func (r *Runner) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return errors.Transport(fmt.Sprintf("dial tool runner %s", r.url), err)
	}
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	r.mu.Lock()
	r.conn = conn
	r.closed = false
	r.mu.Unlock()

	safego.Go(r.logger, "toolrunner.read", func() { r.readLoop(conn) })
	safego.Go(r.logger, "toolrunner.ping", func() { r.pingLoop(ctx, conn) })
	r.logger.Info("Tool runner connected", zap.String("url", r.url))
	return nil
}

// Close tears down the connection. Pending calls fail through the read
// loop noticing the closed socket.
func (r *Runner) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.closed = true
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Invoke sends one tool request and blocks until the matching response,
// a context cancellation, or a connection failure.
func (r *Runner) Invoke(ctx context.Context, toolName, callID string, args jsonval.Value) (*entity.ToolResultMessage, error) {
	encoded, err := json.Marshal(args.ToAny())
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	req := toolRequest{
		ID:        uuid.NewString(),
		Tool:      toolName,
		CallID:    callID,
		Arguments: encoded,
	}

	call := &pendingCall{ch: make(chan outcome, 1)}
	r.mu.Lock()
	if r.conn == nil || r.closed {
		r.mu.Unlock()
		return nil, errors.Transport("tool runner not connected", nil)
	}
	conn := r.conn
	r.pending[req.ID] = call
	r.mu.Unlock()

	if err := r.write(conn, req); err != nil {
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return nil, errors.Transport("send tool request", err)
	}

	select {
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return nil, ctx.Err()
	case out := <-call.ch:
		if out.err != nil {
			return nil, out.err
		}
		return buildResult(toolName, callID, out.resp)
	}
}

func buildResult(toolName, callID string, resp toolResponse) (*entity.ToolResultMessage, error) {
	details := jsonval.Object(nil)
	if len(resp.Details) > 0 {
		var raw any
		if err := json.Unmarshal(resp.Details, &raw); err == nil {
			if v, err := jsonval.FromAny(raw); err == nil {
				details = v
			}
		}
	}
	text := resp.Content
	if resp.IsError && resp.Error != "" {
		text = resp.Error
	}
	return &entity.ToolResultMessage{
		ToolCallID: callID,
		ToolName:   toolName,
		Content:    []entity.ContentBlock{entity.TextBlock(text)},
		Details:    details,
		IsError:    resp.IsError,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (r *Runner) write(conn *websocket.Conn, v any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (r *Runner) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Error("Tool runner read error", zap.Error(err))
			}
			r.failAll(errors.Transport("tool runner disconnected", err))
			return
		}

		var resp toolResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			r.logger.Error("Tool runner sent malformed response", zap.Error(err))
			continue
		}

		r.mu.Lock()
		call, ok := r.pending[resp.ID]
		if ok {
			delete(r.pending, resp.ID)
		}
		r.mu.Unlock()
		if !ok {
			r.logger.Warn("Tool runner response for unknown request", zap.String("id", resp.ID))
			continue
		}
		call.ch <- outcome{resp: resp}
	}
}

func (r *Runner) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			r.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			r.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// failAll resolves every pending call with err. Runs once per
// connection, when the read loop exits.
func (r *Runner) failAll(err error) {
	r.mu.Lock()
	calls := r.pending
	r.pending = make(map[string]*pendingCall)
	r.closed = true
	r.mu.Unlock()

	for _, call := range calls {
		call.ch <- outcome{err: err}
	}
}
