package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart marks the beginning of a model response stream.
	EventTypeStart EventType = "start"
	// EventTypePartialCompletion carries an incremental text fragment.
	EventTypePartialCompletion EventType = "partial"
	// EventTypeFinal carries the complete answer for a round.
	EventTypeFinal EventType = "final"

	// Model requested a tool call (received from provider stream).
	EventTypeToolCall EventType = "tool-call"
	// Execution-phase events (we are actually executing tools locally).
	EventTypeToolCallExecute         EventType = "tool-call-execute"
	EventTypeToolCallExecutionResult EventType = "tool-call-execution-result"
	// A tool call record moved through its lifecycle.
	EventTypeToolState EventType = "tool-state"

	// Coordinator moved between phases.
	EventTypePhase EventType = "phase"

	EventTypeError EventType = "error"
)

// EventMetadata identifies the conversation scope an event belongs to.
type EventMetadata struct {
	ID        uuid.UUID      `json:"message_id"`
	SessionID string         `json:"session_id,omitempty"`
	Phase     int            `json:"phase,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.Phase != 0 {
		e.Int("phase", em.Phase)
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw payload when deserialized from JSON, see NewEventFromJson
	payload []byte
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }
func (e *EventImpl) Payload() []byte         { return e.payload }

var _ Event = &EventImpl{}

// ToolCall describes a tool invocation request as seen on the wire.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

// ToolResult describes a serialized tool outcome.
type ToolResult struct {
	ID     string `json:"id"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata}}
}

type EventPartialCompletion struct {
	EventImpl
	Delta string `json:"delta"`
	// Completion is the full text accumulated so far.
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  EventImpl{Type_: EventTypePartialCompletion, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
	// Partial is true when the answer was cut short by the phase ceiling.
	Partial bool `json:"partial,omitempty"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata}, Text: text}
}

func NewPartialFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata}, Text: text, Partial: true}
}

type EventToolCall struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallEvent(metadata EventMetadata, tc ToolCall) *EventToolCall {
	return &EventToolCall{EventImpl: EventImpl{Type_: EventTypeToolCall, Metadata_: metadata}, ToolCall: tc}
}

type EventToolCallExecute struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallExecuteEvent(metadata EventMetadata, tc ToolCall) *EventToolCallExecute {
	return &EventToolCallExecute{EventImpl: EventImpl{Type_: EventTypeToolCallExecute, Metadata_: metadata}, ToolCall: tc}
}

type EventToolCallExecutionResult struct {
	EventImpl
	ToolResult ToolResult `json:"tool_result"`
}

func NewToolCallExecutionResultEvent(metadata EventMetadata, tr ToolResult) *EventToolCallExecutionResult {
	return &EventToolCallExecutionResult{EventImpl: EventImpl{Type_: EventTypeToolCallExecutionResult, Metadata_: metadata}, ToolResult: tr}
}

// EventToolState reports a tool call record lifecycle transition. Published
// synchronously with the transition so progress UIs never miss intermediate
// states.
type EventToolState struct {
	EventImpl
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	From       string `json:"from"`
	To         string `json:"to"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

func NewToolStateEvent(metadata EventMetadata, callID, name, from, to string, durationMs int64) *EventToolState {
	return &EventToolState{
		EventImpl:  EventImpl{Type_: EventTypeToolState, Metadata_: metadata},
		CallID:     callID,
		Name:       name,
		From:       from,
		To:         to,
		DurationMs: durationMs,
	}
}

// EventPhase reports a coordinator state machine transition.
type EventPhase struct {
	EventImpl
	Phase int    `json:"phase"`
	State string `json:"state"`
}

func NewPhaseEvent(metadata EventMetadata, phase int, state string) *EventPhase {
	return &EventPhase{EventImpl: EventImpl{Type_: EventTypePhase, Metadata_: metadata}, Phase: phase, State: state}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{EventImpl: EventImpl{Type_: EventTypeError, Metadata_: metadata}, ErrorString: err.Error()}
}

// NewEventFromJson decodes a serialized event back into its concrete type,
// used by router handlers consuming watermill messages.
func NewEventFromJson(b []byte) (Event, error) {
	var probe EventImpl
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, errors.Wrap(err, "decode event envelope")
	}

	var ev Event
	switch probe.Type_ {
	case EventTypeStart:
		ev = &EventStart{}
	case EventTypePartialCompletion:
		ev = &EventPartialCompletion{}
	case EventTypeFinal:
		ev = &EventFinal{}
	case EventTypeToolCall:
		ev = &EventToolCall{}
	case EventTypeToolCallExecute:
		ev = &EventToolCallExecute{}
	case EventTypeToolCallExecutionResult:
		ev = &EventToolCallExecutionResult{}
	case EventTypeToolState:
		ev = &EventToolState{}
	case EventTypePhase:
		ev = &EventPhase{}
	case EventTypeError:
		ev = &EventError{}
	default:
		return nil, errors.Errorf("unknown event type %q", probe.Type_)
	}

	if err := json.Unmarshal(b, ev); err != nil {
		return nil, errors.Wrapf(err, "decode %s event", probe.Type_)
	}
	if impl, ok := ev.(interface{ setPayload([]byte) }); ok {
		impl.setPayload(b)
	}
	return ev, nil
}

func (e *EventImpl) setPayload(b []byte) { e.payload = b }
