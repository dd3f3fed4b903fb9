package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legatehq/legate/pkg/bridge"
)

type stubInvoker struct {
	reply     string
	err       error
	chunks    []string
	streamErr error
	requests  []bridge.Request
}

func (s *stubInvoker) Invoke(ctx context.Context, req bridge.Request) (string, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubInvoker) Stream(ctx context.Context, req bridge.Request) (<-chan string, error) {
	s.requests = append(s.requests, req)
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	chunks := s.chunks
	if chunks == nil {
		chunks = []string{s.reply}
	}
	ch := make(chan string, len(chunks))
	for _, chunk := range chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, invoker Invoker) *Server {
	t.Helper()

	srv, err := NewServer(Config{
		Port:         10030,
		SharedSecret: "test-secret",
		Invoker:      invoker,
		Card: AgentCard{
			Name:         "Legate",
			Version:      "0.1.0",
			Capabilities: AgentCapabilities{Streaming: true},
		},
		Backend: "rich",
		Model:   "claude-sonnet-4-20250514",
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return srv
}

func messageParams(texts ...string) map[string]interface{} {
	parts := make([]interface{}, 0, len(texts))
	for _, text := range texts {
		parts = append(parts, map[string]interface{}{"kind": "text", "text": text})
	}
	return map[string]interface{}{
		"message": map[string]interface{}{
			"role":  "user",
			"parts": parts,
		},
	}
}

func TestNewServer(t *testing.T) {
	t.Run("requires a valid port", func(t *testing.T) {
		_, err := NewServer(Config{SharedSecret: "s", Invoker: &stubInvoker{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid port")
	})

	t.Run("requires a shared secret", func(t *testing.T) {
		_, err := NewServer(Config{Port: 10030, Invoker: &stubInvoker{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shared secret")
	})

	t.Run("requires an invoker", func(t *testing.T) {
		_, err := NewServer(Config{Port: 10030, SharedSecret: "s"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invoker")
	})

	t.Run("applies default rate limits", func(t *testing.T) {
		srv := newTestServer(t, &stubInvoker{})
		assert.Equal(t, 60, srv.requestsPerMinute)
		assert.Equal(t, 10, srv.maxConcurrent)
	})

	t.Run("registers the builtin methods", func(t *testing.T) {
		srv := newTestServer(t, &stubInvoker{})
		for _, method := range []string{"message/send", "message/stream", "agent/card", "agent/status"} {
			assert.True(t, srv.router.HasMethod(method), method)
		}
	})
}

func TestHandleMessageSend(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the reply as a single agent message", func(t *testing.T) {
		invoker := &stubInvoker{reply: "Paris"}
		srv := newTestServer(t, invoker)

		params := messageParams("What is the capital of France?")
		params["sessionId"] = "sess-1"
		params["metadata"] = map[string]interface{}{"origin": "test"}

		result, err := srv.handleMessageSend(ctx, params)
		require.NoError(t, err)

		message := result.(map[string]interface{})["message"].(map[string]interface{})
		assert.Equal(t, "agent", message["role"])
		assert.NotEmpty(t, message["messageId"])

		parts := message["parts"].([]map[string]interface{})
		require.Len(t, parts, 1)
		assert.Equal(t, "text", parts[0]["kind"])
		assert.Equal(t, "Paris", parts[0]["text"])

		require.Len(t, invoker.requests, 1)
		assert.Equal(t, "What is the capital of France?", invoker.requests[0].Message)
		assert.Equal(t, "sess-1", invoker.requests[0].SessionID)
		assert.Equal(t, map[string]interface{}{"origin": "test"}, invoker.requests[0].Handoff)
	})

	t.Run("concatenates multiple text parts", func(t *testing.T) {
		invoker := &stubInvoker{reply: "ok"}
		srv := newTestServer(t, invoker)

		_, err := srv.handleMessageSend(ctx, messageParams("line one", "line two"))
		require.NoError(t, err)

		require.Len(t, invoker.requests, 1)
		assert.Equal(t, "line one\nline two", invoker.requests[0].Message)
	})

	t.Run("rejects params without a message", func(t *testing.T) {
		srv := newTestServer(t, &stubInvoker{})

		_, err := srv.handleMessageSend(ctx, map[string]interface{}{})
		require.Error(t, err)

		rpcErr, ok := err.(*RPCError)
		require.True(t, ok)
		assert.Equal(t, InvalidParams, rpcErr.Code)
		assert.NotNil(t, rpcErr.Data)
	})

	t.Run("rejects empty message text as invalid params", func(t *testing.T) {
		invoker := &stubInvoker{err: bridge.ErrEmptyMessage}
		srv := newTestServer(t, invoker)

		_, err := srv.handleMessageSend(ctx, messageParams(""))
		require.Error(t, err)

		rpcErr, ok := err.(*RPCError)
		require.True(t, ok)
		assert.Equal(t, InvalidParams, rpcErr.Code)
	})

	t.Run("maps fallback failures to internal errors", func(t *testing.T) {
		invoker := &stubInvoker{err: errors.New("fallback invocation failed: boom")}
		srv := newTestServer(t, invoker)

		resp := srv.router.RouteRequest(ctx, &RPCRequest{
			ID:     "1",
			Method: "message/send",
			Params: messageParams("hello"),
		})

		require.NotNil(t, resp.Error)
		assert.Equal(t, InternalError, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "invocation failed")
	})

	t.Run("relays rich error text as an ordinary reply", func(t *testing.T) {
		invoker := &stubInvoker{reply: "Error running agent: upstream exploded"}
		srv := newTestServer(t, invoker)

		result, err := srv.handleMessageSend(ctx, messageParams("hello"))
		require.NoError(t, err)

		message := result.(map[string]interface{})["message"].(map[string]interface{})
		parts := message["parts"].([]map[string]interface{})
		assert.Equal(t, "Error running agent: upstream exploded", parts[0]["text"])
	})
}

func TestHandleMessageStream(t *testing.T) {
	ctx := context.Background()

	t.Run("assembles chunks and reports the count", func(t *testing.T) {
		invoker := &stubInvoker{chunks: []string{"4", " apples"}}
		srv := newTestServer(t, invoker)

		result, err := srv.handleMessageStream(ctx, messageParams("count the apples"))
		require.NoError(t, err)

		resultMap := result.(map[string]interface{})
		assert.Equal(t, 2, resultMap["chunks"])

		message := resultMap["message"].(map[string]interface{})
		parts := message["parts"].([]map[string]interface{})
		assert.Equal(t, "4 apples", parts[0]["text"])
	})

	t.Run("rejects empty message text as invalid params", func(t *testing.T) {
		invoker := &stubInvoker{streamErr: bridge.ErrEmptyMessage}
		srv := newTestServer(t, invoker)

		_, err := srv.handleMessageStream(ctx, messageParams(""))
		require.Error(t, err)

		rpcErr, ok := err.(*RPCError)
		require.True(t, ok)
		assert.Equal(t, InvalidParams, rpcErr.Code)
	})

	t.Run("maps stream failures to internal errors", func(t *testing.T) {
		invoker := &stubInvoker{streamErr: errors.New("no fallback client available")}
		srv := newTestServer(t, invoker)

		resp := srv.router.RouteRequest(ctx, &RPCRequest{
			ID:     "1",
			Method: "message/stream",
			Params: messageParams("hello"),
		})

		require.NotNil(t, resp.Error)
		assert.Equal(t, InternalError, resp.Error.Code)
	})
}

func TestHandleAgentCard(t *testing.T) {
	srv := newTestServer(t, &stubInvoker{})

	result, err := srv.handleAgentCard(context.Background(), nil)
	require.NoError(t, err)

	card := result.(AgentCard)
	assert.Equal(t, "Legate", card.Name)
	assert.Equal(t, "0.1.0", card.Version)
	assert.True(t, card.Capabilities.Streaming)
}

func TestHandleAgentStatus(t *testing.T) {
	srv := newTestServer(t, &stubInvoker{})

	result, err := srv.handleAgentStatus(context.Background(), nil)
	require.NoError(t, err)

	status := result.(map[string]interface{})
	assert.Equal(t, "running", status["state"])
	assert.Equal(t, "rich", status["backend"])
	assert.Equal(t, "claude-sonnet-4-20250514", status["model"])
	assert.Equal(t, 0, status["connectedClients"])
	assert.GreaterOrEqual(t, status["uptimeMs"].(int64), int64(0))
}
