package client

import (
	"encoding/json"
	"fmt"
	"strings"

	mcperrors "github.com/unimcp/unimcp/pkg/errors"
	"github.com/unimcp/unimcp/pkg/protocol"
)

// Normalize unwraps a tool-call content envelope into a plain value:
//
//   - structuredContent, when present, wins outright and is decoded.
//   - A content list with exactly one text entry is parsed as JSON;
//     text that does not parse is returned as the literal string.
//   - A list with multiple entries, or any non-text entry, is returned
//     unmodified.
//   - Anything else returns the envelope itself.
func Normalize(result *protocol.CallToolResult) interface{} {
	if result == nil {
		return nil
	}

	if len(result.StructuredContent) > 0 {
		var v interface{}
		if err := json.Unmarshal(result.StructuredContent, &v); err == nil {
			return v
		}
	}

	if len(result.Content) == 1 && result.Content[0].Type == protocol.ContentTypeText {
		text := result.Content[0].Text
		var v interface{}
		if err := json.Unmarshal([]byte(text), &v); err == nil {
			return v
		}
		return text
	}

	if len(result.Content) > 0 {
		return result.Content
	}

	return result
}

// toolFailure shapes a result the server flagged as a tool-level
// failure into an error carrying the failure text.
func toolFailure(name string, result *protocol.CallToolResult) error {
	var parts []string
	for _, c := range result.Content {
		if c.Type == protocol.ContentTypeText && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	detail := strings.Join(parts, "; ")
	if detail == "" {
		detail = "tool reported an error with no message"
	}
	return mcperrors.RPCError(
		int(protocol.InternalError),
		fmt.Sprintf("tool %q failed: %s", name, detail),
		nil,
	).WithContext(&mcperrors.Context{Method: protocol.MethodCallTool, Operation: name})
}
