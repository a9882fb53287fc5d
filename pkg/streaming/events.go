package streaming

import (
	"context"

	"github.com/go-go-golems/parley/pkg/turns"
)

// EventKind discriminates provider stream events.
type EventKind string

const (
	KindBlockStart EventKind = "block-start"
	KindBlockDelta EventKind = "block-delta"
	KindBlockStop  EventKind = "block-stop"
)

// BlockType tells what a started block will carry.
type BlockType string

const (
	BlockTypeText     BlockType = "text"
	BlockTypeToolCall BlockType = "tool_call"
)

// Event is the tagged union of the three stream event shapes a provider can
// emit. Consumers switch on the concrete type rather than inspecting ad hoc
// type tags.
type Event interface {
	Kind() EventKind
	BlockID() string
}

// BlockStart announces a new content block. For tool call blocks, Name
// carries the requested tool capability.
type BlockStart struct {
	ID   string
	Type BlockType
	Name string
}

func (e BlockStart) Kind() EventKind { return KindBlockStart }
func (e BlockStart) BlockID() string { return e.ID }

// BlockDelta carries an incremental fragment: plain text for text blocks,
// partial serialized input for tool call blocks.
type BlockDelta struct {
	ID         string
	TextDelta  string
	InputDelta string
}

func (e BlockDelta) Kind() EventKind { return KindBlockDelta }
func (e BlockDelta) BlockID() string { return e.ID }

// BlockStop signals that a block's content is complete.
type BlockStop struct {
	ID string
}

func (e BlockStop) Kind() EventKind { return KindBlockStop }
func (e BlockStop) BlockID() string { return e.ID }

// Handler consumes stream events as they arrive.
type Handler func(ctx context.Context, ev Event) error

// Engine is the model provider boundary. RunInferenceStream delivers the
// response incrementally through the handler; RunInference issues a parallel
// non-streamed request used to recover complete structured output when
// stream reconstruction is not enough.
type Engine interface {
	RunInference(ctx context.Context, history turns.History) (*turns.Turn, error)
	RunInferenceStream(ctx context.Context, history turns.History, handler Handler) error
}
