package turns

import "github.com/google/uuid"

// Convenience constructors for commonly used Block shapes.

// Role string constants used for human roles in blocks.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// NewUserTextBlock returns a Block representing a user text message.
func NewUserTextBlock(text string) Block {
	return Block{
		ID:      uuid.NewString(),
		Kind:    BlockKindUser,
		Role:    RoleUser,
		Payload: map[string]any{PayloadKeyText: text},
	}
}

// NewAssistantTextBlock returns a Block representing assistant LLM text output.
func NewAssistantTextBlock(text string) Block {
	return Block{
		ID:      uuid.NewString(),
		Kind:    BlockKindLLMText,
		Role:    RoleAssistant,
		Payload: map[string]any{PayloadKeyText: text},
	}
}

// NewSystemTextBlock returns a Block representing a system directive.
func NewSystemTextBlock(text string) Block {
	return Block{
		ID:      uuid.NewString(),
		Kind:    BlockKindSystem,
		Role:    RoleSystem,
		Payload: map[string]any{PayloadKeyText: text},
	}
}

// NewToolCallBlock returns a Block requesting invocation of a tool.
// id correlates the eventual tool_use result with this request.
func NewToolCallBlock(id string, name string, args any) Block {
	return Block{
		ID:   id,
		Kind: BlockKindToolCall,
		Payload: map[string]any{
			PayloadKeyID:   id,
			PayloadKeyName: name,
			PayloadKeyArgs: args,
		},
	}
}

// NewToolUseBlock returns a Block capturing the result of a tool execution.
// id must match the corresponding tool_call id.
func NewToolUseBlock(id string, result any) Block {
	return Block{
		ID:   uuid.NewString(),
		Kind: BlockKindToolUse,
		Payload: map[string]any{
			PayloadKeyID:     id,
			PayloadKeyResult: result,
		},
	}
}

// NewToolErrorBlock returns a tool_use Block carrying an error payload so the
// model can see that the invocation failed.
func NewToolErrorBlock(id string, errMsg string) Block {
	return Block{
		ID:   uuid.NewString(),
		Kind: BlockKindToolUse,
		Payload: map[string]any{
			PayloadKeyID:    id,
			PayloadKeyError: errMsg,
		},
	}
}

// BlockText extracts the text payload of a block, empty if absent.
func BlockText(b Block) string {
	if s, ok := b.Payload[PayloadKeyText].(string); ok {
		return s
	}
	return ""
}

// NewUserTurn wraps a single user text block in a Turn.
func NewUserTurn(text string) Turn {
	t := Turn{ID: uuid.NewString()}
	AppendBlock(&t, NewUserTextBlock(text))
	return t
}

// NewSystemTurn wraps a single system text block in a Turn.
func NewSystemTurn(text string) Turn {
	t := Turn{ID: uuid.NewString()}
	AppendBlock(&t, NewSystemTextBlock(text))
	return t
}

// NewAssistantTurn wraps a single assistant text block in a Turn.
func NewAssistantTurn(text string) Turn {
	t := Turn{ID: uuid.NewString()}
	AppendBlock(&t, NewAssistantTextBlock(text))
	return t
}
