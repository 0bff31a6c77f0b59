package orchestrator

import "strings"

// extractPrompt concatenates every string message content in a decoded
// chat-completion request body, for PolicyRule keyword matching
// (router.Router.ResolvePolicy lowercases it before comparing). Only
// plain string content is considered; multi-part content arrays (image
// blocks, etc.) contribute nothing; a request that matches no keyword
// still routes fine, it just falls through to the default strategy.
func extractPrompt(body map[string]any) string {
	messages, ok := body["messages"].([]any)
	if !ok {
		return ""
	}

	var sb strings.Builder
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		content, ok := msg["content"].(string)
		if !ok {
			continue
		}
		sb.WriteString(content)
		sb.WriteString(" ")
	}
	return sb.String()
}
