package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/parley/pkg/compact"
	"github.com/go-go-golems/parley/pkg/engines/openai"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/orchestrator"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/tokens"
	"github.com/go-go-golems/parley/pkg/tools"
)

func newChatCommand() *cobra.Command {
	var (
		sessionID     string
		contextBudget float64
		maxPhases     int
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Run one round of conversation with tool orchestration",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			return runChat(cmd.Context(), prompt, sessionID, contextBudget, maxPhases, verbose)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to resume")
	cmd.Flags().Float64Var(&contextBudget, "context-budget", 80000, "context budget in size units")
	cmd.Flags().IntVar(&maxPhases, "max-phases", 10, "maximum tool phases per round")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print tool execution events")

	return cmd
}

func runChat(ctx context.Context, prompt, sessionID string, contextBudget float64, maxPhases int, verbose bool) error {
	key := apiKey()
	if key == "" {
		return errors.New("no OpenAI API key: set --openai-api-key or OPENAI_API_KEY")
	}

	registry := tools.NewInMemoryRegistry()
	if err := registerDemoTools(registry); err != nil {
		return err
	}

	engine, err := openai.New(
		openai.WithAPIKey(key),
		openai.WithModel(viper.GetString("model")),
		openai.WithToolRegistry(registry),
	)
	if err != nil {
		return err
	}

	executor := tools.NewExecutor(registry, tools.DefaultConfig())

	est := tokens.NewEstimatorForModel(viper.GetString("model"))
	compactor := compact.NewCompactor(est, compact.WithSummarizer(openai.NewSummarizer(engine)))

	sessions := store.NewMemoryStore(0)
	defer sessions.Close()

	router, err := events.NewEventRouter()
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()

	router.AddEventHandler("print-events", "chat", printEventHandler(verbose))
	go func() {
		if err := router.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("event router stopped")
		}
	}()
	<-router.Running()

	sink := events.NewWatermillSink(router.Publisher, "chat")
	ctx = events.WithEventSinks(ctx, sink)

	coord := orchestrator.New(
		orchestrator.WithEngine(engine),
		orchestrator.WithExecutor(executor.Execute),
		orchestrator.WithCompactor(compactor),
		orchestrator.WithSessionStore(sessions, sessionID),
		orchestrator.WithConfig(orchestrator.Config{
			MaxPhases:     maxPhases,
			ContextBudget: contextBudget,
		}),
	)

	result, err := coord.RunRound(ctx, coord.LoadHistory(), prompt)
	if err != nil {
		return err
	}

	fmt.Println()
	if result.Partial {
		fmt.Fprintln(os.Stderr, "warning: phase ceiling reached, answer is partial")
	}
	log.Info().
		Int("phases", result.Phases).
		Int("tools_completed", result.Metrics.Completed).
		Int("tools_errored", result.Metrics.Errored).
		Dur("tool_time", result.Metrics.TotalExecutionTime).
		Msg("round finished")

	return nil
}

// printEventHandler streams assistant text to stdout and, in verbose mode,
// narrates tool activity on stderr.
func printEventHandler(verbose bool) func(context.Context, events.Event) error {
	return func(_ context.Context, e events.Event) error {
		switch ev := e.(type) {
		case *events.EventPartialCompletion:
			fmt.Print(ev.Delta)
		case *events.EventFinal:
			// text already printed incrementally
		case *events.EventToolCall:
			if verbose {
				fmt.Fprintf(os.Stderr, "\n[tool call] %s %s\n", ev.ToolCall.Name, ev.ToolCall.Input)
			}
		case *events.EventToolCallExecutionResult:
			if verbose {
				fmt.Fprintf(os.Stderr, "[tool result] %s -> %s\n", ev.ToolResult.ID, ev.ToolResult.Result)
			}
		case *events.EventError:
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.ErrorString)
		}
		return nil
	}
}
