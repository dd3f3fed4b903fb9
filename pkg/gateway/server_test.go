package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postRPC(t *testing.T, url, secret string, payload interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Legate-Secret", secret)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeRPCResponse(t *testing.T, resp *http.Response) RPCResponse {
	t.Helper()
	defer resp.Body.Close()

	var rpcResp RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	return rpcResp
}

func TestHandleRPC(t *testing.T) {
	invoker := &stubInvoker{reply: "pong"}
	srv := newTestServer(t, invoker)

	testServer := httptest.NewServer(http.HandlerFunc(srv.handleRPC))
	defer testServer.Close()

	sendRequest := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      "req-1",
		"method":  "message/send",
		"params":  messageParams("ping"),
	}

	t.Run("rejects requests without the shared secret", func(t *testing.T) {
		resp := postRPC(t, testServer.URL, "", sendRequest)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects non-POST requests", func(t *testing.T) {
		resp, err := http.Get(testServer.URL)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("answers an authenticated message/send", func(t *testing.T) {
		resp := postRPC(t, testServer.URL, "test-secret", sendRequest)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		rpcResp := decodeRPCResponse(t, resp)
		require.Nil(t, rpcResp.Error)
		assert.Equal(t, "req-1", rpcResp.ID)

		result := rpcResp.Result.(map[string]interface{})
		message := result["message"].(map[string]interface{})
		parts := message["parts"].([]interface{})
		part := parts[0].(map[string]interface{})
		assert.Equal(t, "pong", part["text"])
	})

	t.Run("returns a parse error for malformed JSON", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, testServer.URL, strings.NewReader("{not json"))
		require.NoError(t, err)
		req.Header.Set("X-Legate-Secret", "test-secret")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		rpcResp := decodeRPCResponse(t, resp)
		require.NotNil(t, rpcResp.Error)
		assert.Equal(t, ParseError, rpcResp.Error.Code)
	})

	t.Run("reports unknown methods in the response body", func(t *testing.T) {
		resp := postRPC(t, testServer.URL, "test-secret", map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      "req-2",
			"method":  "agent/teleport",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		rpcResp := decodeRPCResponse(t, resp)
		require.NotNil(t, rpcResp.Error)
		assert.Equal(t, MethodNotFound, rpcResp.Error.Code)
	})
}

func TestHandleAgentCardRequest(t *testing.T) {
	srv := newTestServer(t, &stubInvoker{})

	testServer := httptest.NewServer(http.HandlerFunc(srv.handleAgentCardRequest))
	defer testServer.Close()

	t.Run("serves the card without authentication", func(t *testing.T) {
		resp, err := http.Get(testServer.URL)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var card AgentCard
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
		assert.Equal(t, "Legate", card.Name)
		assert.Equal(t, "0.1.0", card.Version)
		assert.True(t, card.Capabilities.Streaming)
	})

	t.Run("rejects non-GET requests", func(t *testing.T) {
		resp, err := http.Post(testServer.URL, "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

// dialGateway connects a WebSocket client to the server's handshake
// endpoint and returns the conn plus the challenge it was issued.
func dialGateway(t *testing.T, srv *Server) (*websocket.Conn, string, func()) {
	t.Helper()

	testServer := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))

	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var challenge AuthChallenge
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, "auth.challenge", challenge.Event)
	require.NotEmpty(t, challenge.Challenge)

	cleanup := func() {
		conn.Close()
		testServer.Close()
	}
	return conn, challenge.Challenge, cleanup
}

func TestWebSocketAuthFlow(t *testing.T) {
	t.Run("rejects RPC before authentication", func(t *testing.T) {
		srv := newTestServer(t, &stubInvoker{})
		conn, _, cleanup := dialGateway(t, srv)
		defer cleanup()

		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      "1",
			"method":  "agent/status",
		}))

		var resp RPCResponse
		require.NoError(t, conn.ReadJSON(&resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, AuthenticationRequired, resp.Error.Code)
	})

	t.Run("rejects an invalid signature", func(t *testing.T) {
		srv := newTestServer(t, &stubInvoker{})
		conn, _, cleanup := dialGateway(t, srv)
		defer cleanup()

		require.NoError(t, conn.WriteJSON(AuthResponse{
			Method:    "auth.response",
			Signature: "not-a-signature",
		}))

		var result AuthResult
		require.NoError(t, conn.ReadJSON(&result))
		assert.Equal(t, "auth.failure", result.Event)
		assert.False(t, result.Success)
	})

	t.Run("authenticates and routes RPC requests", func(t *testing.T) {
		srv := newTestServer(t, &stubInvoker{reply: "pong"})
		conn, challenge, cleanup := dialGateway(t, srv)
		defer cleanup()

		require.NoError(t, conn.WriteJSON(AuthResponse{
			Method:    "auth.response",
			Signature: computeHMAC(challenge, "test-secret"),
		}))

		var result AuthResult
		require.NoError(t, conn.ReadJSON(&result))
		require.True(t, result.Success, result.Message)

		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      "1",
			"method":  "agent/status",
		}))

		var resp RPCResponse
		require.NoError(t, conn.ReadJSON(&resp))
		require.Nil(t, resp.Error)

		status := resp.Result.(map[string]interface{})
		assert.Equal(t, "running", status["state"])
		assert.Equal(t, "rich", status["backend"])
	})
}

func TestWebSocketMessageStream(t *testing.T) {
	srv := newTestServer(t, &stubInvoker{chunks: []string{"4", " apples"}})
	conn, challenge, cleanup := dialGateway(t, srv)
	defer cleanup()

	require.NoError(t, conn.WriteJSON(AuthResponse{
		Method:    "auth.response",
		Signature: computeHMAC(challenge, "test-secret"),
	}))

	var result AuthResult
	require.NoError(t, conn.ReadJSON(&result))
	require.True(t, result.Success, result.Message)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      "stream-1",
		"method":  "message/stream",
		"params":  messageParams("count the apples"),
	}))

	// The client receives interleaved event frames and the final RPC
	// response; only the response carries a jsonrpc field.
	var events []string
	var resp *RPCResponse

	for resp == nil {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &frame))

		if frame["jsonrpc"] == "2.0" {
			var parsed RPCResponse
			require.NoError(t, json.Unmarshal(raw, &parsed))
			resp = &parsed
			continue
		}

		if event, ok := frame["event"].(string); ok {
			events = append(events, event)
		}
	}

	require.Nil(t, resp.Error)
	resultMap := resp.Result.(map[string]interface{})
	assert.Equal(t, float64(2), resultMap["chunks"])

	assert.Contains(t, events, "message.chunk")
	assert.Contains(t, events, "message.complete")
}
