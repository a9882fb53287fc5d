package compact

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/tokens"
	"github.com/go-go-golems/parley/pkg/turns"
)

// oversizedHistory builds one short system turn followed by n assistant turns
// of ~100 units each under the heuristic estimator.
func oversizedHistory(n int) turns.History {
	h := turns.History{turns.NewSystemTurn("be terse and helpful")}
	for i := 0; i < n; i++ {
		h = append(h, turns.NewAssistantTurn(strings.Repeat("x", 400)))
	}
	return h
}

func TestCompact_UnderThresholdReturnsUnchanged(t *testing.T) {
	t.Parallel()

	c := NewCompactor(tokens.NewEstimator())
	h := oversizedHistory(3)

	out, err := c.Compact(context.Background(), h, 1000)
	require.NoError(t, err)
	assert.Equal(t, h, out)
}

func TestCompact_DropsLowPriorityAndPrependsSummary(t *testing.T) {
	t.Parallel()

	var summarized turns.History
	summarizer := func(_ context.Context, dropped turns.History, _ float64) (string, error) {
		summarized = append(summarized, dropped...)
		return "earlier: lots of filler", nil
	}
	c := NewCompactor(tokens.NewEstimator(), WithSummarizer(summarizer))

	h := oversizedHistory(20)
	out, err := c.Compact(context.Background(), h, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	// the synthesized summary leads, marked so later rounds can identify it
	summary := out[0]
	assert.Equal(t, true, summary.Metadata[turns.MetaKeySummary])
	assert.Contains(t, turns.BlockText(summary.Blocks[0]), "earlier: lots of filler")

	// the system turn survives compaction
	assert.Equal(t, turns.RoleSystem, out[1].Role())

	// retained turns keep their chronological order
	positions := map[string]int{}
	for i, turn := range h {
		positions[turn.ID] = i
	}
	last := -1
	for _, turn := range out[1:] {
		pos, ok := positions[turn.ID]
		require.True(t, ok, "compaction must not invent turns")
		assert.Greater(t, pos, last)
		last = pos
	}

	// retained content stays within the selection share of the budget
	est := tokens.NewEstimator()
	var kept float64
	for _, turn := range out[1:] {
		kept += est.Size(turn)
	}
	assert.LessOrEqual(t, kept, 900.0)

	// everything not retained went through the summarizer
	assert.Equal(t, len(h)-(len(out)-1), len(summarized))
}

func TestCompact_Idempotent(t *testing.T) {
	t.Parallel()

	summarizer := func(_ context.Context, _ turns.History, _ float64) (string, error) {
		return "condensed", nil
	}
	c := NewCompactor(tokens.NewEstimator(), WithSummarizer(summarizer))

	h := oversizedHistory(20)
	once, err := c.Compact(context.Background(), h, 1000)
	require.NoError(t, err)
	require.Less(t, len(once), len(h))

	twice, err := c.Compact(context.Background(), once, 1000)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestCompact_SummarizerFailureFallsBackToTruncationNote(t *testing.T) {
	t.Parallel()

	summarizer := func(_ context.Context, _ turns.History, _ float64) (string, error) {
		return "", errors.New("model unavailable")
	}
	c := NewCompactor(tokens.NewEstimator(), WithSummarizer(summarizer))

	out, err := c.Compact(context.Background(), oversizedHistory(20), 1000)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	note := turns.BlockText(out[0].Blocks[0])
	assert.Contains(t, note, "truncated")
	assert.Contains(t, note, "turns omitted")
}

func TestCompact_NoSummarizerUsesTruncationNote(t *testing.T) {
	t.Parallel()

	c := NewCompactor(tokens.NewEstimator())
	out, err := c.Compact(context.Background(), oversizedHistory(20), 1000)
	require.NoError(t, err)
	assert.Contains(t, turns.BlockText(out[0].Blocks[0]), "truncated")
}

func TestSummarizeChunked_WeightsToolResultChunks(t *testing.T) {
	t.Parallel()

	var allowances []float64
	summarizer := func(_ context.Context, chunk turns.History, maxUnits float64) (string, error) {
		allowances = append(allowances, maxUnits)
		return "part", nil
	}
	c := NewCompactor(tokens.NewEstimator(), WithSummarizer(summarizer), WithChunkSize(1))

	resultTurn := turns.Turn{ID: "tr"}
	turns.AppendBlock(&resultTurn, turns.NewToolUseBlock("call-1", "42"))
	dropped := turns.History{
		turns.NewAssistantTurn("chit chat"),
		resultTurn,
	}

	text, err := c.summarizeChunked(context.Background(), dropped, 300)
	require.NoError(t, err)
	assert.Equal(t, "part\npart", text)

	// tool-result chunk receives double the allowance of the prose chunk
	require.Len(t, allowances, 2)
	assert.InDelta(t, 100, allowances[0], 0.001)
	assert.InDelta(t, 200, allowances[1], 0.001)
}

func TestCompact_LargeHistoryFitsFullScaleBudget(t *testing.T) {
	t.Parallel()

	summarizer := func(_ context.Context, _ turns.History, _ float64) (string, error) {
		return "condensed earlier conversation", nil
	}
	c := NewCompactor(tokens.NewEstimator(), WithSummarizer(summarizer))

	// ~120k units against an 80k budget: one system turn plus 300 assistant
	// turns of 400 units each
	h := turns.History{turns.NewSystemTurn("be terse and helpful")}
	for i := 0; i < 300; i++ {
		h = append(h, turns.NewAssistantTurn(strings.Repeat("y", 1600)))
	}

	est := tokens.NewEstimator()
	budget := 80000.0
	require.Greater(t, est.SizeHistory(h), budget)

	out, err := c.Compact(context.Background(), h, budget)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Less(t, len(out), len(h))

	// summary turn included, the whole output fits the budget
	assert.Equal(t, true, out[0].Metadata[turns.MetaKeySummary])
	assert.LessOrEqual(t, est.SizeHistory(out), budget)

	// the oldest retained turn comes right after the summary, still in
	// chronological order
	assert.Equal(t, turns.RoleSystem, out[1].Role())
}

func TestShouldCompact_TriggerRatio(t *testing.T) {
	t.Parallel()

	c := NewCompactor(tokens.NewEstimator())
	h := turns.History{turns.NewUserTurn(strings.Repeat("a", 400))} // 100 units

	assert.False(t, c.ShouldCompact(h, 200)) // 100 <= 160
	assert.True(t, c.ShouldCompact(h, 100))  // 100 > 80
}
