package compact

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/tokens"
	"github.com/go-go-golems/parley/pkg/turns"
)

// Summarizer condenses a slice of turns into prose of at most maxUnits. It
// is typically backed by a secondary model request and must not call back
// into the orchestration pipeline.
type Summarizer func(ctx context.Context, h turns.History, maxUnits float64) (string, error)

const (
	// compaction triggers once history exceeds this share of the budget
	triggerRatio = 0.8
	// share of the budget the greedy selection may fill; the remainder is
	// reserved for the synthesized summary turn
	selectRatio = 0.9

	defaultChunkSize = 20
)

// Compactor selects which turns survive into the next model request under a
// unit budget. It never rewrites turn content: it only selects existing
// turns and synthesizes replacement summary turns for what it drops.
type Compactor struct {
	est        *tokens.Estimator
	summarizer Summarizer
	chunkSize  int
}

type Option func(*Compactor)

// WithSummarizer installs the model-backed summarization boundary. Without
// one the compactor falls back to count-based truncation.
func WithSummarizer(s Summarizer) Option {
	return func(c *Compactor) { c.summarizer = s }
}

// WithChunkSize overrides how many dropped turns are summarized per request.
func WithChunkSize(n int) Option {
	return func(c *Compactor) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

func NewCompactor(est *tokens.Estimator, opts ...Option) *Compactor {
	c := &Compactor{
		est:       est,
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ShouldCompact reports whether the history has crossed the compaction
// trigger threshold for the given budget.
func (c *Compactor) ShouldCompact(h turns.History, targetUnits float64) bool {
	return c.est.SizeHistory(h) > targetUnits*triggerRatio
}

type rankedTurn struct {
	turn     turns.Turn
	position int
	size     float64
	priority float64
}

// Compact returns the turns to send to the model under targetUnits. Turns
// are ranked, greedily accepted by descending priority, then restored to
// chronological order. Dropped turns are replaced by a single synthesized
// summary turn inserted before the oldest retained turn.
//
// A within-threshold history is returned unchanged, so compacting an
// already-compacted history is a no-op.
func (c *Compactor) Compact(ctx context.Context, h turns.History, targetUnits float64) (turns.History, error) {
	if len(h) == 0 {
		return h, nil
	}
	if !c.ShouldCompact(h, targetUnits) {
		return h, nil
	}

	ranked := make([]rankedTurn, len(h))
	for i, t := range h {
		size := t.SizeUnits
		if size == 0 {
			size = c.est.Size(t)
		}
		rt := rankedTurn{turn: t, position: i, size: size, priority: Rank(t, i, len(h))}
		rt.turn.SizeUnits = size
		rt.turn.Priority = rt.priority
		ranked[i] = rt
	}

	// priority governs inclusion only; ties resolve toward older turns so
	// the outcome is deterministic across permutations of equal inputs
	byPriority := make([]rankedTurn, len(ranked))
	copy(byPriority, ranked)
	sort.SliceStable(byPriority, func(i, j int) bool {
		if byPriority[i].priority != byPriority[j].priority {
			return byPriority[i].priority > byPriority[j].priority
		}
		return byPriority[i].position < byPriority[j].position
	})

	limit := targetUnits * selectRatio
	var cumulative float64
	accepted := make([]rankedTurn, 0, len(byPriority))
	dropped := make([]rankedTurn, 0)
	for _, rt := range byPriority {
		if cumulative+rt.size <= limit {
			accepted = append(accepted, rt)
			cumulative += rt.size
		} else {
			dropped = append(dropped, rt)
		}
	}

	if len(dropped) == 0 {
		return h, nil
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].position < accepted[j].position })
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].position < dropped[j].position })

	droppedTurns := make(turns.History, len(dropped))
	for i, rt := range dropped {
		droppedTurns[i] = rt.turn
	}
	summary := c.summarize(ctx, droppedTurns, targetUnits-cumulative)

	out := make(turns.History, 0, len(accepted)+1)
	out = append(out, summary)
	for _, rt := range accepted {
		out = append(out, rt.turn)
	}

	log.Debug().
		Int("kept", len(accepted)).
		Int("dropped", len(dropped)).
		Float64("kept_units", cumulative).
		Float64("target_units", targetUnits).
		Msg("compactor: history compacted")
	return out, nil
}

// summarize condenses the dropped turns into a single summary turn, chunked
// so that no single summarization request sees an unbounded history. Chunks
// containing tool results get a larger share of the unit allowance. Failures
// are absorbed: the fallback is a plain count-based note of what was
// dropped.
func (c *Compactor) summarize(ctx context.Context, dropped turns.History, maxUnits float64) turns.Turn {
	text, err := c.summarizeChunked(ctx, dropped, maxUnits)
	if err != nil {
		log.Warn().Err(err).Int("dropped", len(dropped)).Msg("compactor: summarization failed, falling back to truncation note")
		text = truncationNote(dropped)
	}

	t := turns.Turn{
		ID:       uuid.NewString(),
		Metadata: map[string]any{turns.MetaKeySummary: true},
	}
	turns.AppendBlock(&t, turns.NewSystemTextBlock(text))
	return t
}

func (c *Compactor) summarizeChunked(ctx context.Context, dropped turns.History, maxUnits float64) (string, error) {
	if c.summarizer == nil {
		return "", errors.New("no summarizer configured")
	}

	var chunks []turns.History
	for start := 0; start < len(dropped); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(dropped) {
			end = len(dropped)
		}
		chunks = append(chunks, dropped[start:end])
	}

	// tool-result chunks carry the facts later phases rely on, so they get
	// double weight when dividing the unit allowance
	weights := make([]float64, len(chunks))
	var totalWeight float64
	for i, chunk := range chunks {
		weights[i] = 1
		for _, t := range chunk {
			if t.HasToolResults() {
				weights[i] = 2
				break
			}
		}
		totalWeight += weights[i]
	}

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		allowance := maxUnits * weights[i] / totalWeight
		part, err := c.summarizer(ctx, chunk, allowance)
		if err != nil {
			return "", errors.Wrapf(err, "summarize chunk %d", i)
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func truncationNote(dropped turns.History) string {
	var sb strings.Builder
	sb.WriteString("[earlier conversation truncated: ")
	sb.WriteString(countNote(len(dropped)))
	sb.WriteString(" omitted to fit the context budget]")
	return sb.String()
}

func countNote(n int) string {
	if n == 1 {
		return "1 turn"
	}
	return strconv.Itoa(n) + " turns"
}
