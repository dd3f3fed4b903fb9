package gateway

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// messageParamsSchema constrains the params of message/send and
// message/stream. Parts are restricted to text because that is all the
// bridge can carry; unknown top-level keys are allowed so peers can send
// protocol extensions without being rejected.
func messageParamsSchema() (*gojsonschema.Schema, error) {
	schemaMap := map[string]interface{}{
		"type":     "object",
		"required": []string{"message"},
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":     "object",
				"required": []string{"parts"},
				"properties": map[string]interface{}{
					"messageId": map[string]interface{}{"type": "string"},
					"role":      map[string]interface{}{"type": "string"},
					"parts": map[string]interface{}{
						"type":     "array",
						"minItems": 1,
						"items": map[string]interface{}{
							"type":     "object",
							"required": []string{"kind"},
							"properties": map[string]interface{}{
								"kind": map[string]interface{}{
									"type": "string",
									"enum": []string{"text"},
								},
								"text": map[string]interface{}{"type": "string"},
							},
						},
					},
				},
			},
			"sessionId": map[string]interface{}{"type": "string"},
			"metadata":  map[string]interface{}{"type": "object"},
		},
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateMessageParams checks params against the message schema and
// returns an invalid-params error carrying every violation.
func (s *Server) validateMessageParams(params map[string]interface{}) *RPCError {
	loader := gojsonschema.NewGoLoader(params)
	result, err := s.messageSchema.Validate(loader)
	if err != nil {
		return &RPCError{
			Code:    InvalidParams,
			Message: "Invalid params",
			Data:    err.Error(),
		}
	}

	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}
		return &RPCError{
			Code:    InvalidParams,
			Message: "Invalid params",
			Data:    violations,
		}
	}

	return nil
}

// textFromParts concatenates the text of every text part, in order.
func textFromParts(parts []interface{}) string {
	texts := make([]string, 0, len(parts))
	for _, raw := range parts {
		part, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if kind, _ := part["kind"].(string); kind != "text" {
			continue
		}
		if text, ok := part["text"].(string); ok {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n")
}
