package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/legatehq/legate/internal/observability"
	"github.com/legatehq/legate/internal/tracing"
	"github.com/legatehq/legate/pkg/bridge"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod("message/send", s.handleMessageSend)
	_ = s.RegisterMethod("message/stream", s.handleMessageStream)
	_ = s.RegisterMethod("agent/card", s.handleAgentCard)
	_ = s.RegisterMethod("agent/status", s.handleAgentStatus)
}

// handleMessageSend handles the message/send RPC method. The invocation
// result always comes back as a single agent message; a rich-backend
// failure shows up here as an ordinary reply carrying the error text, not
// as a JSON-RPC error.
func (s *Server) handleMessageSend(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if rpcErr := s.validateMessageParams(params); rpcErr != nil {
		return nil, rpcErr
	}

	req, sessionID := invocationFromParams(params)
	ctx = tracing.WithSessionKey(ctx, sessionID)

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("session_id", sessionID).
		Int("message_len", len(req.Message)).
		Msg("Dispatching message/send")

	start := time.Now()
	text, err := s.invoker.Invoke(ctx, req)
	if err != nil {
		if rpcErr := invalidInvocationError(err); rpcErr != nil {
			return nil, rpcErr
		}
		observability.RecordInvocationAudit(ctx, s.backend, clientActor(ctx), "failure", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("invocation failed: %w", err)
	}

	observability.RecordInvocationAudit(ctx, s.backend, clientActor(ctx), "success", map[string]interface{}{
		"session_id":  sessionID,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return map[string]interface{}{
		"message": agentMessage(text),
	}, nil
}

// handleMessageStream handles the message/stream RPC method. Each chunk is
// forwarded to the requesting WebSocket client as a message.chunk event;
// the final response carries the assembled message and the chunk count.
// HTTP callers get no events, only the final response.
func (s *Server) handleMessageStream(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if rpcErr := s.validateMessageParams(params); rpcErr != nil {
		return nil, rpcErr
	}

	req, sessionID := invocationFromParams(params)
	ctx = tracing.WithSessionKey(ctx, sessionID)

	chunks, err := s.invoker.Stream(ctx, req)
	if err != nil {
		if rpcErr := invalidInvocationError(err); rpcErr != nil {
			return nil, rpcErr
		}
		return nil, fmt.Errorf("invocation failed: %w", err)
	}

	clientID := clientIDFromContext(ctx)

	var assembled strings.Builder
	count := 0
	for chunk := range chunks {
		assembled.WriteString(chunk)
		count++

		if clientID == "" {
			continue
		}
		s.broadcaster.BroadcastToClient(clientID, EventMessage{
			Event:   "message.chunk",
			Stream:  StreamTypeMessage,
			Phase:   "chunk",
			Session: sessionID,
			Data: map[string]interface{}{
				"index": count - 1,
				"text":  chunk,
			},
			TraceID: tracing.GetTraceID(ctx),
			RunID:   tracing.GetRunID(ctx),
		})
	}

	if clientID != "" {
		s.broadcaster.BroadcastToClient(clientID, EventMessage{
			Event:   "message.complete",
			Stream:  StreamTypeMessage,
			Phase:   "complete",
			Session: sessionID,
			Data: map[string]interface{}{
				"chunks": count,
			},
			TraceID: tracing.GetTraceID(ctx),
			RunID:   tracing.GetRunID(ctx),
		})
	}

	return map[string]interface{}{
		"message": agentMessage(assembled.String()),
		"chunks":  count,
	}, nil
}

// handleAgentCard handles the agent/card RPC method
func (s *Server) handleAgentCard(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.card, nil
}

// handleAgentStatus handles the agent/status RPC method
func (s *Server) handleAgentStatus(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"state":            "running",
		"backend":          s.backend,
		"model":            s.model,
		"uptimeMs":         time.Since(s.startedAt).Milliseconds(),
		"connectedClients": s.clients.Count(),
	}, nil
}

// invocationFromParams converts validated message params into a bridge
// request. The metadata object rides along as opaque handoff context.
func invocationFromParams(params map[string]interface{}) (bridge.Request, string) {
	req := bridge.Request{}

	if sessionID, ok := params["sessionId"].(string); ok {
		req.SessionID = sessionID
	}
	if metadata, ok := params["metadata"]; ok {
		req.Handoff = metadata
	}

	message, _ := params["message"].(map[string]interface{})
	parts, _ := message["parts"].([]interface{})
	req.Message = textFromParts(parts)

	return req, req.SessionID
}

// invalidInvocationError maps bridge validation failures to invalid-params
// errors. Infrastructure failures return nil so callers wrap them as
// internal errors instead.
func invalidInvocationError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, bridge.ErrEmptyMessage) {
		return &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	return nil
}

// agentMessage wraps reply text in the message shape peers expect back.
func agentMessage(text string) map[string]interface{} {
	messageID, _ := gonanoid.New()
	return map[string]interface{}{
		"messageId": messageID,
		"role":      "agent",
		"parts": []map[string]interface{}{
			{"kind": "text", "text": text},
		},
	}
}

// clientActor labels audit records with the requesting client, falling
// back to the transport when the request came in over plain HTTP.
func clientActor(ctx context.Context) string {
	if clientID := clientIDFromContext(ctx); clientID != "" {
		return clientID
	}
	return "http"
}
