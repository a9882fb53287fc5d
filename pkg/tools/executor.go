package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/semaphore"

	"github.com/go-go-golems/parley/pkg/events"
)

// Executor resolves tool names against a registry and invokes the underlying
// functions with validation, timeout and retry. Its Execute method matches
// the pipeline executor signature, so an Executor can be handed to the
// pipeline directly.
//
// Retry policy lives here by design: the pipeline itself never retries.
type Executor struct {
	config   Config
	registry Registry
	sem      *semaphore.Weighted
}

func NewExecutor(registry Registry, config Config) *Executor {
	e := &Executor{config: config, registry: registry}
	if config.MaxConcurrency > 0 {
		e.sem = semaphore.NewWeighted(config.MaxConcurrency)
	}
	return e
}

// Execute runs one tool call. The returned error covers lookup, validation,
// and execution failures; the caller decides how to fold it into
// conversational state.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	toolDef, err := e.registry.GetTool(name)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve tool %s", name)
	}
	if !e.config.IsToolAllowed(name) {
		return nil, errors.Errorf("tool not allowed: %s", name)
	}

	argBytes, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "marshal arguments")
	}

	if e.config.ValidateInput {
		if err := e.validateArgs(toolDef, argBytes); err != nil {
			return nil, err
		}
	}

	events.PublishEventToContext(ctx, events.NewToolCallExecuteEvent(
		events.EventMetadata{},
		events.ToolCall{Name: name, Input: string(argBytes)},
	))

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, errors.Wrap(err, "acquire execution slot")
		}
		defer e.sem.Release(1)
	}

	start := time.Now()
	result, err := e.executeWithRetry(ctx, toolDef, argBytes)

	resultStr := ""
	if result != nil {
		if b, merr := json.Marshal(result); merr == nil {
			resultStr = string(b)
		}
	}
	tr := events.ToolResult{Result: resultStr}
	if err != nil {
		tr.Error = err.Error()
	}
	events.PublishEventToContext(ctx, events.NewToolCallExecutionResultEvent(events.EventMetadata{}, tr))

	log.Debug().Str("tool", name).Dur("duration", time.Since(start)).Err(err).Msg("tools: executed")
	return result, err
}

func (e *Executor) validateArgs(def *Definition, argBytes []byte) error {
	if def.Parameters == nil {
		return nil
	}
	schemaBytes, err := json.Marshal(def.Parameters)
	if err != nil {
		return errors.Wrap(err, "marshal parameter schema")
	}
	doc := argBytes
	// nil argument maps marshal to "null", which no object schema accepts
	if len(doc) == 0 || string(doc) == "null" {
		doc = []byte("{}")
	}
	res, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return errors.Wrapf(err, "validate arguments for %s", def.Name)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, desc := range res.Errors() {
			msgs = append(msgs, desc.String())
		}
		return errors.Errorf("invalid arguments for %s: %s", def.Name, strings.Join(msgs, "; "))
	}
	return nil
}

func (e *Executor) executeWithRetry(ctx context.Context, def *Definition, argBytes []byte) (any, error) {
	var lastErr error

	for attempt := 0; attempt <= e.config.RetryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.config.RetryConfig.BackoffBase
			for i := 1; i < attempt; i++ {
				backoff = time.Duration(float64(backoff) * e.config.RetryConfig.BackoffFactor)
			}
			log.Debug().Str("tool", def.Name).Int("attempt", attempt).Dur("backoff", backoff).Msg("tools: retrying")
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "cancelled during retry backoff")
			case <-time.After(backoff):
			}
		}

		execCtx := ctx
		if e.config.ExecutionTimeout > 0 {
			var cancel context.CancelFunc
			execCtx, cancel = context.WithTimeout(ctx, e.config.ExecutionTimeout)
			result, err := def.Function.Execute(execCtx, argBytes)
			cancel()
			if err == nil {
				return result, nil
			}
			lastErr = err
			continue
		}

		result, err := def.Function.Execute(execCtx, argBytes)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return nil, errors.Wrapf(lastErr, "execution failed after %d retries", e.config.RetryConfig.MaxRetries)
}
