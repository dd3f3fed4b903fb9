package bridge

import "fmt"

// Reply is the closed union of shapes a backend can return for one call.
type Reply interface {
	isReply()
}

// StructuredReply carries output with recognized textual content.
type StructuredReply struct {
	Text string
}

func (StructuredReply) isReply() {}

// RawReply carries a payload with no recognized textual content.
type RawReply struct {
	Value interface{}
}

func (RawReply) isReply() {}

// ExtractText returns the textual content of a reply. Raw payloads are
// stringified rather than dropped, so callers always get something readable.
func ExtractText(reply Reply) string {
	switch r := reply.(type) {
	case StructuredReply:
		return r.Text
	case RawReply:
		return fmt.Sprintf("%v", r.Value)
	default:
		return ""
	}
}
