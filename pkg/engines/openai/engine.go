package openai

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/parley/pkg/streaming"
	"github.com/go-go-golems/parley/pkg/tools"
	"github.com/go-go-golems/parley/pkg/turns"
)

// Engine implements streaming.Engine over the OpenAI chat completion API.
type Engine struct {
	client      *go_openai.Client
	model       string
	temperature float32
	maxTokens   int
	registry    tools.Registry
}

type Option func(*Engine)

func WithClient(client *go_openai.Client) Option {
	return func(e *Engine) { e.client = client }
}

func WithAPIKey(key string) Option {
	return func(e *Engine) { e.client = go_openai.NewClient(key) }
}

func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

func WithTemperature(t float32) Option {
	return func(e *Engine) { e.temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// WithToolRegistry advertises the registry's tools on every request.
func WithToolRegistry(reg tools.Registry) Option {
	return func(e *Engine) { e.registry = reg }
}

func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		model: go_openai.GPT4TurboPreview,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.client == nil {
		return nil, errors.New("openai engine requires a client or api key")
	}
	return e, nil
}

func (e *Engine) makeRequest(history turns.History, stream bool) go_openai.ChatCompletionRequest {
	req := go_openai.ChatCompletionRequest{
		Model:       e.model,
		Messages:    historyToMessages(history),
		Temperature: e.temperature,
		Stream:      stream,
	}
	if e.maxTokens > 0 {
		req.MaxTokens = e.maxTokens
	}
	if e.registry != nil {
		var openaiTools []go_openai.Tool
		for _, td := range e.registry.ListTools() {
			openaiTools = append(openaiTools, go_openai.Tool{
				Type: go_openai.ToolTypeFunction,
				Function: go_openai.FunctionDefinition{
					Name:        td.Name,
					Description: td.Description,
					Parameters:  td.Parameters,
				},
			})
		}
		if len(openaiTools) > 0 {
			req.Tools = openaiTools
			req.ToolChoice = "auto"
		}
	}
	return req
}

// RunInference issues a non-streamed request and converts the response into
// a turn of assistant text and tool_call blocks.
func (e *Engine) RunInference(ctx context.Context, history turns.History) (*turns.Turn, error) {
	req := e.makeRequest(history, false)
	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	msg := resp.Choices[0].Message
	t := &turns.Turn{}
	if msg.Content != "" {
		turns.AppendBlock(t, turns.NewAssistantTextBlock(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			log.Warn().Str("call_id", tc.ID).Err(err).Msg("openai: tool call arguments are not valid JSON")
			args = map[string]any{}
		}
		turns.AppendBlock(t, turns.NewToolCallBlock(tc.ID, tc.Function.Name, args))
	}
	return t, nil
}

// RunInferenceStream converts the chat completion stream into block events:
// a text block for content deltas, and one tool_call block per requested
// invocation, closed when the stream ends.
func (e *Engine) RunInferenceStream(ctx context.Context, history turns.History, handler streaming.Handler) error {
	req := e.makeRequest(history, true)
	stream, err := e.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return errors.Wrap(err, "openai chat completion stream")
	}
	defer stream.Close()

	const textBlockID = "text-0"
	textStarted := false
	// index -> block id for tool call blocks in flight
	open := map[int]string{}
	order := []int{}

	emit := func(ev streaming.Event) error {
		return handler(ctx, ev)
	}

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "receive stream chunk")
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			if !textStarted {
				textStarted = true
				if err := emit(streaming.BlockStart{ID: textBlockID, Type: streaming.BlockTypeText}); err != nil {
					return err
				}
			}
			if err := emit(streaming.BlockDelta{ID: textBlockID, TextDelta: delta.Content}); err != nil {
				return err
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			id, started := open[index]
			if !started {
				id = tc.ID
				open[index] = id
				order = append(order, index)
				if err := emit(streaming.BlockStart{ID: id, Type: streaming.BlockTypeToolCall, Name: tc.Function.Name}); err != nil {
					return err
				}
			}
			if tc.Function.Arguments != "" {
				if err := emit(streaming.BlockDelta{ID: id, InputDelta: tc.Function.Arguments}); err != nil {
					return err
				}
			}
		}
	}

	if textStarted {
		if err := emit(streaming.BlockStop{ID: textBlockID}); err != nil {
			return err
		}
	}
	for _, index := range order {
		if err := emit(streaming.BlockStop{ID: open[index]}); err != nil {
			return err
		}
	}
	return nil
}

var _ streaming.Engine = (*Engine)(nil)
