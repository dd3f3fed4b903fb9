package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMessageParams(t *testing.T) {
	srv := newTestServer(t, &stubInvoker{})

	t.Run("accepts a well formed message", func(t *testing.T) {
		params := messageParams("hello")
		params["sessionId"] = "sess-1"
		params["metadata"] = map[string]interface{}{"origin": "test"}

		assert.Nil(t, srv.validateMessageParams(params))
	})

	t.Run("rejects params without a message", func(t *testing.T) {
		rpcErr := srv.validateMessageParams(map[string]interface{}{})
		require.NotNil(t, rpcErr)
		assert.Equal(t, InvalidParams, rpcErr.Code)

		violations := rpcErr.Data.([]string)
		require.NotEmpty(t, violations)
		assert.Contains(t, violations[0], "message")
	})

	t.Run("rejects a message with no parts", func(t *testing.T) {
		rpcErr := srv.validateMessageParams(map[string]interface{}{
			"message": map[string]interface{}{
				"parts": []interface{}{},
			},
		})
		require.NotNil(t, rpcErr)
		assert.Equal(t, InvalidParams, rpcErr.Code)
	})

	t.Run("rejects unsupported part kinds", func(t *testing.T) {
		rpcErr := srv.validateMessageParams(map[string]interface{}{
			"message": map[string]interface{}{
				"parts": []interface{}{
					map[string]interface{}{"kind": "image", "text": "x"},
				},
			},
		})
		require.NotNil(t, rpcErr)
		assert.Equal(t, InvalidParams, rpcErr.Code)
	})

	t.Run("allows unknown top level keys", func(t *testing.T) {
		params := messageParams("hello")
		params["configuration"] = map[string]interface{}{"blocking": true}

		assert.Nil(t, srv.validateMessageParams(params))
	})
}

func TestTextFromParts(t *testing.T) {
	t.Run("joins text parts with newlines", func(t *testing.T) {
		text := textFromParts([]interface{}{
			map[string]interface{}{"kind": "text", "text": "first"},
			map[string]interface{}{"kind": "text", "text": "second"},
		})
		assert.Equal(t, "first\nsecond", text)
	})

	t.Run("skips parts that are not text", func(t *testing.T) {
		text := textFromParts([]interface{}{
			map[string]interface{}{"kind": "text", "text": "kept"},
			map[string]interface{}{"kind": "file", "uri": "ignored"},
			"not even a map",
		})
		assert.Equal(t, "kept", text)
	})

	t.Run("returns empty for no parts", func(t *testing.T) {
		assert.Equal(t, "", textFromParts(nil))
	})
}
