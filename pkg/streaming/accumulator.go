package streaming

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PartialToolCall is a tool call whose input is still being streamed. Input
// fragments are merged in arrival order; the call is immutable once Done.
type PartialToolCall struct {
	ID    string
	Name  string
	Input strings.Builder
	Done  bool
}

// CompletedToolCall is a fully received tool invocation request.
type CompletedToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	// RawInput preserves the serialized input exactly as streamed, used by
	// dependency inference.
	RawInput string
}

// Accumulator folds BlockStart/BlockDelta/BlockStop events into accumulated
// assistant text and completed tool calls. It is the single place that deals
// with partial state from the wire; everything downstream sees whole values.
type Accumulator struct {
	text     strings.Builder
	order    []string
	partials map[string]*PartialToolCall
	types    map[string]BlockType

	completed []CompletedToolCall

	// OnText, when set, is invoked for every text delta so UIs can render
	// progress immediately.
	OnText func(delta string, accumulated string)
	// OnToolCall, when set, is invoked once per completed tool call.
	OnToolCall func(call CompletedToolCall)
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		partials: make(map[string]*PartialToolCall),
		types:    make(map[string]BlockType),
	}
}

// Feed consumes one stream event.
func (a *Accumulator) Feed(ev Event) error {
	switch e := ev.(type) {
	case BlockStart:
		a.types[e.ID] = e.Type
		if e.Type == BlockTypeToolCall {
			if _, exists := a.partials[e.ID]; exists {
				return errors.Errorf("duplicate block start for id %s", e.ID)
			}
			a.partials[e.ID] = &PartialToolCall{ID: e.ID, Name: e.Name}
			a.order = append(a.order, e.ID)
		}
		return nil

	case BlockDelta:
		if a.types[e.ID] == BlockTypeToolCall {
			p, ok := a.partials[e.ID]
			if !ok {
				return errors.Errorf("delta for unknown block %s", e.ID)
			}
			if p.Done {
				return errors.Errorf("delta for finished block %s", e.ID)
			}
			p.Input.WriteString(e.InputDelta)
			return nil
		}
		a.text.WriteString(e.TextDelta)
		if a.OnText != nil {
			a.OnText(e.TextDelta, a.text.String())
		}
		return nil

	case BlockStop:
		p, ok := a.partials[e.ID]
		if !ok {
			// text blocks need no bookkeeping on stop
			return nil
		}
		if p.Done {
			return errors.Errorf("duplicate block stop for id %s", e.ID)
		}
		p.Done = true

		raw := p.Input.String()
		args := map[string]any{}
		if strings.TrimSpace(raw) != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				log.Warn().Str("call_id", p.ID).Str("input", raw).Err(err).Msg("tool call input is not valid JSON")
				args = map[string]any{"_raw": raw}
			}
		}
		call := CompletedToolCall{ID: p.ID, Name: p.Name, Arguments: args, RawInput: raw}
		a.completed = append(a.completed, call)
		if a.OnToolCall != nil {
			a.OnToolCall(call)
		}
		return nil

	default:
		return errors.Errorf("unknown stream event kind %q", ev.Kind())
	}
}

// Text returns the accumulated assistant text.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// ToolCalls returns completed tool calls in stream order.
func (a *Accumulator) ToolCalls() []CompletedToolCall {
	out := make([]CompletedToolCall, len(a.completed))
	copy(out, a.completed)
	return out
}

// PendingCount reports how many tool call blocks have started but not
// stopped, used to detect truncated streams.
func (a *Accumulator) PendingCount() int {
	n := 0
	for _, id := range a.order {
		if !a.partials[id].Done {
			n++
		}
	}
	return n
}

// Reset clears all accumulated state for reuse within a round.
func (a *Accumulator) Reset() {
	a.text.Reset()
	a.order = a.order[:0]
	a.partials = make(map[string]*PartialToolCall)
	a.types = make(map[string]BlockType)
	a.completed = a.completed[:0]
}
