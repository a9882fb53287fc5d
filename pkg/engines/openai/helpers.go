package openai

import (
	"encoding/json"
	"fmt"

	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/parley/pkg/turns"
)

// historyToMessages flattens a turn history into the OpenAI message list.
// Tool result blocks become role "tool" messages correlated by ToolCallID,
// placed directly after the assistant message that requested them, which is
// the adjacency the API requires.
func historyToMessages(h turns.History) []go_openai.ChatCompletionMessage {
	var messages []go_openai.ChatCompletionMessage

	for _, t := range h {
		var pendingToolCalls []go_openai.ToolCall
		var assistantText string

		flushAssistant := func() {
			if assistantText == "" && len(pendingToolCalls) == 0 {
				return
			}
			messages = append(messages, go_openai.ChatCompletionMessage{
				Role:      go_openai.ChatMessageRoleAssistant,
				Content:   assistantText,
				ToolCalls: pendingToolCalls,
			})
			assistantText = ""
			pendingToolCalls = nil
		}

		for _, b := range t.Blocks {
			switch b.Kind {
			case turns.BlockKindSystem:
				flushAssistant()
				messages = append(messages, go_openai.ChatCompletionMessage{
					Role:    go_openai.ChatMessageRoleSystem,
					Content: turns.BlockText(b),
				})
			case turns.BlockKindUser:
				flushAssistant()
				messages = append(messages, go_openai.ChatCompletionMessage{
					Role:    go_openai.ChatMessageRoleUser,
					Content: turns.BlockText(b),
				})
			case turns.BlockKindLLMText:
				assistantText += turns.BlockText(b)
			case turns.BlockKindToolCall:
				id, _ := b.Payload[turns.PayloadKeyID].(string)
				name, _ := b.Payload[turns.PayloadKeyName].(string)
				pendingToolCalls = append(pendingToolCalls, go_openai.ToolCall{
					ID:   id,
					Type: go_openai.ToolTypeFunction,
					Function: go_openai.FunctionCall{
						Name:      name,
						Arguments: serializeArgs(b.Payload[turns.PayloadKeyArgs]),
					},
				})
			case turns.BlockKindToolUse:
				flushAssistant()
				id, _ := b.Payload[turns.PayloadKeyID].(string)
				content := ""
				if s, ok := b.Payload[turns.PayloadKeyResult].(string); ok {
					content = s
				} else if b.Payload[turns.PayloadKeyResult] != nil {
					content = serializeArgs(b.Payload[turns.PayloadKeyResult])
				}
				if msg, ok := b.Payload[turns.PayloadKeyError].(string); ok && msg != "" {
					content = "Error: " + msg
				}
				messages = append(messages, go_openai.ChatCompletionMessage{
					Role:       go_openai.ChatMessageRoleTool,
					Content:    content,
					ToolCallID: id,
				})
			}
		}
		flushAssistant()
	}

	return messages
}

func serializeArgs(v any) string {
	switch s := v.(type) {
	case nil:
		return "{}"
	case string:
		return s
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
