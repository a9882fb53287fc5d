package tokens

import (
	"encoding/json"
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/go-go-golems/parley/pkg/turns"
)

// Category classifies turn content for estimation purposes.
type Category int

const (
	// CategoryProse is plain conversational text.
	CategoryProse Category = iota
	// CategoryStructured is serialized structured data such as tool call
	// arguments.
	CategoryStructured
	// CategoryToolOutput is serialized tool result payloads, which tend to
	// tokenize slightly worse than arguments.
	CategoryToolOutput
)

// Per-character unit multipliers. These are deliberate approximations: the
// compactor only needs relative sizes, not exact token counts.
const (
	proseUnitsPerChar      = 0.25
	structuredUnitsPerChar = 0.30
	toolOutputUnitsPerChar = 0.35
)

// Estimator computes the size of conversational content in abstract budget
// units. The zero value uses heuristic per-character multipliers; attach a
// tiktoken codec with WithCodec for exact counting of prose.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator returns a heuristic estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// NewEstimatorForModel returns an estimator that counts prose with the
// tiktoken codec for the given model, falling back to heuristics when the
// model is unknown.
func NewEstimatorForModel(model string) *Estimator {
	c, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		return &Estimator{}
	}
	return &Estimator{codec: c}
}

// WithCodec sets an explicit tokenizer codec.
func (e *Estimator) WithCodec(c tokenizer.Codec) *Estimator {
	e.codec = c
	return e
}

// SizeText estimates the unit size of a raw string in the given category.
func (e *Estimator) SizeText(text string, cat Category) float64 {
	if text == "" {
		return 0
	}
	if e.codec != nil && cat == CategoryProse {
		if ids, _, err := e.codec.Encode(text); err == nil {
			return float64(len(ids))
		}
	}
	switch cat {
	case CategoryStructured:
		return float64(len(text)) * structuredUnitsPerChar
	case CategoryToolOutput:
		return float64(len(text)) * toolOutputUnitsPerChar
	default:
		return float64(len(text)) * proseUnitsPerChar
	}
}

// Size estimates the unit size of a whole turn by summing its blocks.
// Structured payloads are serialized before measuring.
func (e *Estimator) Size(t turns.Turn) float64 {
	var total float64
	for _, b := range t.Blocks {
		switch b.Kind {
		case turns.BlockKindToolCall:
			total += e.SizeText(serializePayload(b.Payload[turns.PayloadKeyArgs]), CategoryStructured)
		case turns.BlockKindToolUse:
			total += e.SizeText(serializePayload(b.Payload[turns.PayloadKeyResult]), CategoryToolOutput)
			if msg, ok := b.Payload[turns.PayloadKeyError].(string); ok {
				total += e.SizeText(msg, CategoryToolOutput)
			}
		default:
			total += e.SizeText(turns.BlockText(b), CategoryProse)
		}
	}
	return total
}

// SizeHistory sums Size over all turns.
func (e *Estimator) SizeHistory(h turns.History) float64 {
	var total float64
	for _, t := range h {
		total += e.Size(t)
	}
	return total
}

func serializePayload(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
