package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-go-golems/parley/pkg/turns"
)

func TestSizeText_CategoryMultipliers(t *testing.T) {
	t.Parallel()

	e := NewEstimator()
	text := "0123456789" // 10 chars

	assert.InDelta(t, 2.5, e.SizeText(text, CategoryProse), 0.001)
	assert.InDelta(t, 3.0, e.SizeText(text, CategoryStructured), 0.001)
	assert.InDelta(t, 3.5, e.SizeText(text, CategoryToolOutput), 0.001)
	assert.Zero(t, e.SizeText("", CategoryProse))
}

func TestSize_ClassifiesBlocksByKind(t *testing.T) {
	t.Parallel()

	e := NewEstimator()

	turn := turns.Turn{}
	turns.AppendBlock(&turn, turns.NewUserTextBlock("hello there")) // 11 chars prose
	turns.AppendBlock(&turn, turns.NewToolCallBlock("call-1", "lookup", map[string]any{"city": "London"}))
	turns.AppendBlock(&turn, turns.NewToolUseBlock("call-1", "overcast"))

	prose := 11 * 0.25
	structured := float64(len(`{"city":"London"}`)) * 0.30
	output := float64(len("overcast")) * 0.35

	assert.InDelta(t, prose+structured+output, e.Size(turn), 0.001)
}

func TestSize_ToolErrorCountsAsOutput(t *testing.T) {
	t.Parallel()

	e := NewEstimator()
	turn := turns.Turn{}
	turns.AppendBlock(&turn, turns.NewToolErrorBlock("call-1", "boom"))

	assert.InDelta(t, 4*0.35, e.Size(turn), 0.001)
}

func TestSizeHistory_SumsTurns(t *testing.T) {
	t.Parallel()

	e := NewEstimator()
	h := turns.History{
		turns.NewUserTurn("four"),     // 1.0
		turns.NewAssistantTurn("ok!"), // 0.75
	}
	assert.InDelta(t, 1.75, e.SizeHistory(h), 0.001)
}

func TestNewEstimatorForModel_UnknownModelFallsBack(t *testing.T) {
	t.Parallel()

	e := NewEstimatorForModel("definitely-not-a-model")
	assert.InDelta(t, 1.0, e.SizeText("four", CategoryProse), 0.001)
}
