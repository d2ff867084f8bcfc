package textutil

import (
	"fmt"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ApplyChange applies a single didChange content change to text.
// It accepts both the incremental and the whole-document event shapes.
func ApplyChange(text string, change any) (string, error) {
	switch c := change.(type) {
	case protocol.TextDocumentContentChangeEventWhole:
		return c.Text, nil
	case protocol.TextDocumentContentChangeEvent:
		if c.Range == nil {
			return c.Text, nil
		}
		start := Offset(text, c.Range.Start)
		end := Offset(text, c.Range.End)
		if end < start {
			return "", fmt.Errorf("inverted change range %v", *c.Range)
		}
		// Splice at byte offsets; Offset only returns rune boundaries.
		return text[:start] + c.Text + text[end:], nil
	default:
		return "", fmt.Errorf("unexpected change event type %T", change)
	}
}
