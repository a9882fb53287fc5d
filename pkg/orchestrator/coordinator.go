package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/compact"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/pipeline"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/streaming"
	"github.com/go-go-golems/parley/pkg/turns"
)

// Coordinator drives one user turn through bounded phases of
// (send context -> parse tool requests -> execute ready tools) until the
// model stops requesting tools or the phase ceiling forces termination.
//
// One Coordinator instance drives one round at a time; concurrent rounds
// need separate coordinators.
type Coordinator struct {
	engine    streaming.Engine
	executor  pipeline.Executor
	compactor *compact.Compactor
	sessions  store.Store
	sessionID string
	cfg       Config
}

type Option func(*Coordinator)

func WithEngine(eng streaming.Engine) Option {
	return func(c *Coordinator) { c.engine = eng }
}

// WithExecutor injects the tool executor invoked for each runnable record.
func WithExecutor(exec pipeline.Executor) Option {
	return func(c *Coordinator) { c.executor = exec }
}

func WithCompactor(cp *compact.Compactor) Option {
	return func(c *Coordinator) { c.compactor = cp }
}

// WithSessionStore persists round history under the session id between
// rounds.
func WithSessionStore(s store.Store, sessionID string) Option {
	return func(c *Coordinator) {
		c.sessions = s
		c.sessionID = sessionID
	}
}

func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

func New(opts ...Option) *Coordinator {
	c := &Coordinator{cfg: DefaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Result is the outcome of one round.
type Result struct {
	// Text is the final answer. When Partial is set the round hit the phase
	// ceiling and Text is the best-effort partial answer.
	Text    string
	Partial bool
	// History is the updated conversation including this round's turns.
	History turns.History
	Metrics pipeline.Metrics
	Phases  int
}

// RunRound sends the user's new turn plus surviving history to the model and
// loops through tool phases until a final answer.
func (c *Coordinator) RunRound(ctx context.Context, history turns.History, userText string) (*Result, error) {
	if c == nil {
		return nil, errors.New("coordinator is nil")
	}
	if c.engine == nil {
		return nil, errors.New("coordinator engine is nil")
	}

	history = append(turns.History{}, history...)
	history = append(history, turns.NewUserTurn(userText))

	// the listener fires under the pipeline lock, so it reads the phase from
	// a counter maintained here instead of asking the pipeline
	currentPhase := &atomic.Int64{}
	pipe := pipeline.New(
		pipeline.WithMaxPhases(c.cfg.MaxPhases),
		pipeline.WithTransitionListener(c.transitionListener(ctx, currentPhase)),
	)

	lastText := ""
	for {
		phase, err := pipe.AdvancePhase()
		if errors.Is(err, pipeline.ErrPhaseCeiling) {
			log.Warn().Int("phase", phase).Int("max_phases", c.cfg.MaxPhases).Msg("orchestrator: phase ceiling reached")
			c.publishPhase(ctx, phase-1, StateTerminal)
			res := &Result{
				Text:    lastText,
				Partial: true,
				History: history,
				Metrics: pipe.Metrics(),
				Phases:  phase - 1,
			}
			events.PublishEventToContext(ctx, events.NewPartialFinalEvent(c.meta(phase-1), res.Text))
			c.persist(res.History)
			return res, nil
		}

		currentPhase.Store(int64(phase))

		c.publishPhase(ctx, phase, StateAwaitingModel)
		requestContext, err := c.buildRequestContext(ctx, history)
		if err != nil {
			return nil, err
		}

		events.PublishEventToContext(ctx, events.NewStartEvent(c.meta(phase)))

		c.publishPhase(ctx, phase, StateParsingStream)
		acc := streaming.NewAccumulator()
		acc.OnText = func(delta, accumulated string) {
			events.PublishEventToContext(ctx, events.NewPartialCompletionEvent(c.meta(phase), delta, accumulated))
		}
		acc.OnToolCall = func(call streaming.CompletedToolCall) {
			events.PublishEventToContext(ctx, events.NewToolCallEvent(c.meta(phase), events.ToolCall{
				ID:    call.ID,
				Name:  call.Name,
				Input: call.RawInput,
			}))
		}

		handler := func(_ context.Context, ev streaming.Event) error {
			return acc.Feed(ev)
		}
		if err := c.engine.RunInferenceStream(ctx, requestContext, handler); err != nil {
			return nil, errors.Wrap(err, "model stream")
		}
		lastText = acc.Text()

		calls := acc.ToolCalls()
		if acc.PendingCount() > 0 {
			// the stream was cut off mid tool call; recover the complete
			// structured output with a parallel non-streamed request
			recovered, rerr := c.recoverToolCalls(ctx, requestContext, calls)
			if rerr != nil {
				log.Warn().Err(rerr).Msg("orchestrator: tool call recovery failed")
			} else {
				calls = recovered
			}
		}

		if len(calls) == 0 {
			c.publishPhase(ctx, phase, StateTerminal)
			history = append(history, turns.NewAssistantTurn(lastText))
			res := &Result{
				Text:    lastText,
				History: history,
				Metrics: pipe.Metrics(),
				Phases:  phase,
			}
			events.PublishEventToContext(ctx, events.NewFinalEvent(c.meta(phase), lastText))
			c.persist(res.History)
			return res, nil
		}

		// a call whose registration fails (duplicate or empty id) must not
		// reach the assistant turn either: a tool_call without a later reply
		// is a malformed request context
		registered := make([]streaming.CompletedToolCall, 0, len(calls))
		for _, call := range calls {
			if _, err := pipe.AddRecord(call.ID, call.Name, call.Arguments, call.RawInput); err != nil {
				log.Error().Err(err).Str("call_id", call.ID).Msg("orchestrator: dropping unregistrable tool call")
				continue
			}
			registered = append(registered, call)
		}

		c.publishPhase(ctx, phase, StateExecutingTools)
		if _, err := pipe.RunReady(ctx, c.executor); err != nil {
			return nil, errors.Wrap(err, "execute tools")
		}
		if stalled := pipe.Stalled(); len(stalled) > 0 {
			for _, r := range stalled {
				log.Warn().Str("call_id", r.ID).Str("tool", r.Name).Msg("orchestrator: record stalled on failed dependency")
			}
		}

		history = append(history, c.assistantTurn(lastText, registered), c.resultsTurn(pipe))
	}
}

// buildRequestContext applies compaction before each model request when the
// history has outgrown the trigger threshold.
func (c *Coordinator) buildRequestContext(ctx context.Context, history turns.History) (turns.History, error) {
	if c.compactor == nil || c.cfg.ContextBudget <= 0 {
		return history, nil
	}
	compacted, err := c.compactor.Compact(ctx, history, c.cfg.ContextBudget)
	if err != nil {
		return nil, errors.Wrap(err, "compact context")
	}
	return compacted, nil
}

// recoverToolCalls issues a non-streamed request and reconstructs the tool
// calls from the complete response, keeping already-completed stream calls.
func (c *Coordinator) recoverToolCalls(ctx context.Context, requestContext turns.History, streamed []streaming.CompletedToolCall) ([]streaming.CompletedToolCall, error) {
	full, err := c.engine.RunInference(ctx, requestContext)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, call := range streamed {
		seen[call.ID] = true
	}
	out := append([]streaming.CompletedToolCall{}, streamed...)
	for _, b := range turns.FindBlocksByKind(*full, turns.BlockKindToolCall) {
		id, _ := b.Payload[turns.PayloadKeyID].(string)
		if id == "" || seen[id] {
			continue
		}
		name, _ := b.Payload[turns.PayloadKeyName].(string)
		args, _ := b.Payload[turns.PayloadKeyArgs].(map[string]any)
		out = append(out, streaming.CompletedToolCall{ID: id, Name: name, Arguments: args})
	}
	return out, nil
}

// assistantTurn captures what the model said this phase: its text plus the
// tool call requests, so the next request shows the model its own asks.
func (c *Coordinator) assistantTurn(text string, calls []streaming.CompletedToolCall) turns.Turn {
	t := turns.Turn{ID: uuid.NewString()}
	if text != "" {
		turns.AppendBlock(&t, turns.NewAssistantTextBlock(text))
	}
	for _, call := range calls {
		turns.AppendBlock(&t, turns.NewToolCallBlock(call.ID, call.Name, call.Arguments))
	}
	return t
}

// resultsTurn folds the records that reached a terminal state this phase into
// a tool result turn. The pipeline outlives the phase, so folding takes only
// the not-yet-folded results; earlier phases' results already live in history.
func (c *Coordinator) resultsTurn(pipe *pipeline.Pipeline) turns.Turn {
	t := turns.Turn{ID: uuid.NewString()}
	turns.AppendBlocks(&t, pipe.TakeContextBlocks()...)
	return t
}

func (c *Coordinator) transitionListener(ctx context.Context, phase *atomic.Int64) pipeline.TransitionListener {
	return func(r *pipeline.Record, from, to pipeline.Status) {
		events.PublishEventToContext(ctx, events.NewToolStateEvent(
			c.meta(int(phase.Load())), r.ID, r.Name, string(from), string(to), r.ExecutionTime.Milliseconds(),
		))
	}
}

func (c *Coordinator) publishPhase(ctx context.Context, phase int, state State) {
	log.Debug().Int("phase", phase).Str("state", string(state)).Msg("orchestrator: phase transition")
	events.PublishEventToContext(ctx, events.NewPhaseEvent(c.meta(phase), phase, string(state)))
}

func (c *Coordinator) meta(phase int) events.EventMetadata {
	return events.EventMetadata{ID: uuid.New(), SessionID: c.sessionID, Phase: phase}
}

func (c *Coordinator) persist(h turns.History) {
	if c.sessions == nil || c.sessionID == "" {
		return
	}
	if err := c.sessions.Set("history:"+c.sessionID, h, c.cfg.SessionTTL); err != nil {
		log.Warn().Err(err).Str("session_id", c.sessionID).Msg("orchestrator: failed to persist history")
	}
}

// LoadHistory retrieves the persisted history for the coordinator's session,
// empty when none exists.
func (c *Coordinator) LoadHistory() turns.History {
	if c.sessions == nil || c.sessionID == "" {
		return nil
	}
	v, err := c.sessions.Get("history:" + c.sessionID)
	if err != nil {
		return nil
	}
	if h, ok := v.(turns.History); ok {
		return h
	}
	return nil
}
