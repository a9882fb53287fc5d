package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/compact"
	"github.com/go-go-golems/parley/pkg/turns"
)

// NewSummarizer returns a compact.Summarizer backed by a non-streamed model
// request. The summarization request never advertises tools, so it cannot
// call back into the orchestration pipeline.
func NewSummarizer(e *Engine) compact.Summarizer {
	// strip the registry so the summarization engine is plain-text only
	plain := *e
	plain.registry = nil

	return func(ctx context.Context, h turns.History, maxUnits float64) (string, error) {
		var sb strings.Builder
		sb.WriteString("Summarize the following conversation excerpt. ")
		sb.WriteString("Preserve tool results, figures and identifiers that later turns may depend on. ")
		// rough words-from-units conversion, good enough for an instruction
		fmt.Fprintf(&sb, "Use at most %d words.\n\n", int(maxUnits/1.5)+1)
		for _, t := range h {
			for _, b := range t.Blocks {
				switch b.Kind {
				case turns.BlockKindToolUse:
					id, _ := b.Payload[turns.PayloadKeyID].(string)
					fmt.Fprintf(&sb, "[tool result %s] %v\n", id, b.Payload[turns.PayloadKeyResult])
				case turns.BlockKindToolCall:
					name, _ := b.Payload[turns.PayloadKeyName].(string)
					fmt.Fprintf(&sb, "[tool call %s] %v\n", name, b.Payload[turns.PayloadKeyArgs])
				default:
					if text := turns.BlockText(b); text != "" {
						fmt.Fprintf(&sb, "[%s] %s\n", t.Role(), text)
					}
				}
			}
		}

		request := turns.History{turns.NewUserTurn(sb.String())}
		out, err := plain.RunInference(ctx, request)
		if err != nil {
			return "", errors.Wrap(err, "summarization request")
		}
		var parts []string
		for _, b := range turns.FindBlocksByKind(*out, turns.BlockKindLLMText) {
			parts = append(parts, turns.BlockText(b))
		}
		if len(parts) == 0 {
			return "", errors.New("summarization returned no text")
		}
		return strings.Join(parts, "\n"), nil
	}
}
