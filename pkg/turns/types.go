package turns

// BlockKind discriminates the content carried by a Block.
type BlockKind string

const (
	// BlockKindUser is a user-authored text message.
	BlockKindUser BlockKind = "user"
	// BlockKindLLMText is assistant text produced by the model.
	BlockKindLLMText BlockKind = "llm_text"
	// BlockKindSystem is a system directive.
	BlockKindSystem BlockKind = "system"
	// BlockKindToolCall is a model request to invoke a tool.
	BlockKindToolCall BlockKind = "tool_call"
	// BlockKindToolUse is the recorded result of a tool invocation,
	// correlated to its tool_call by the shared payload id.
	BlockKindToolUse BlockKind = "tool_use"
)

// Block represents a single atomic unit within a Turn.
type Block struct {
	ID      string         `yaml:"id,omitempty" json:"id,omitempty"`
	Kind    BlockKind      `yaml:"kind" json:"kind"`
	Role    string         `yaml:"role,omitempty" json:"role,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty" json:"payload,omitempty"`
}

// Turn contains an ordered list of Blocks plus derived bookkeeping used by
// the compactor. Size and Priority are computed, never semantic: callers may
// attach them after creation but must not rewrite block content.
type Turn struct {
	ID     string  `yaml:"id,omitempty" json:"id,omitempty"`
	Blocks []Block `yaml:"blocks" json:"blocks"`

	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// SizeUnits caches the estimated context size of this turn. Zero means
	// not yet computed.
	SizeUnits float64 `yaml:"size_units,omitempty" json:"size_units,omitempty"`
	// Priority caches the retention score assigned by the ranker.
	Priority float64 `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Clone returns a deep copy of the Turn suitable for mutation without
// affecting the original. Payload values are copied one level deep.
func (t *Turn) Clone() *Turn {
	if t == nil {
		return nil
	}
	out := &Turn{
		ID:        t.ID,
		SizeUnits: t.SizeUnits,
		Priority:  t.Priority,
	}
	if len(t.Metadata) > 0 {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	if len(t.Blocks) == 0 {
		return out
	}
	out.Blocks = make([]Block, len(t.Blocks))
	for i := range t.Blocks {
		b := t.Blocks[i]
		if b.Payload != nil {
			cp := make(map[string]any, len(b.Payload))
			for k, v := range b.Payload {
				cp[k] = v
			}
			b.Payload = cp
		}
		out.Blocks[i] = b
	}
	return out
}

// AppendBlock appends a Block to a Turn.
func AppendBlock(t *Turn, b Block) {
	t.Blocks = append(t.Blocks, b)
}

// AppendBlocks appends multiple Blocks preserving order.
func AppendBlocks(t *Turn, blocks ...Block) {
	for _, b := range blocks {
		AppendBlock(t, b)
	}
}

// PrependBlock inserts a block at the beginning of the Turn's block slice.
func PrependBlock(t *Turn, b Block) {
	if t == nil {
		return
	}
	t.Blocks = append([]Block{b}, t.Blocks...)
}

// FindBlocksByKind returns blocks of the requested kinds in turn order.
func FindBlocksByKind(t Turn, kinds ...BlockKind) []Block {
	lookup := map[BlockKind]bool{}
	for _, k := range kinds {
		lookup[k] = true
	}
	ret := make([]Block, 0, len(t.Blocks))
	for _, b := range t.Blocks {
		if lookup[b.Kind] {
			ret = append(ret, b)
		}
	}
	return ret
}

// HasToolResults reports whether the turn carries at least one tool_use block.
func (t Turn) HasToolResults() bool {
	for _, b := range t.Blocks {
		if b.Kind == BlockKindToolUse {
			return true
		}
	}
	return false
}

// Role returns the dominant conversational role of the turn: the role of the
// first block that declares one, falling back to assistant for tool results.
func (t Turn) Role() string {
	for _, b := range t.Blocks {
		if b.Role != "" {
			return b.Role
		}
	}
	return RoleAssistant
}

// History is an ordered sequence of Turns sent to the model for one request.
type History []Turn

// Clone deep-copies the history.
func (h History) Clone() History {
	out := make(History, len(h))
	for i := range h {
		out[i] = *h[i].Clone()
	}
	return out
}
