package openai

import (
	"testing"

	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/tools"
	"github.com/go-go-golems/parley/pkg/turns"
)

func TestHistoryToMessages_RolesAndAdjacency(t *testing.T) {
	t.Parallel()

	assistant := turns.Turn{}
	turns.AppendBlock(&assistant, turns.NewAssistantTextBlock("let me check"))
	turns.AppendBlock(&assistant, turns.NewToolCallBlock("call-1", "get_weather", map[string]any{"city": "London"}))

	results := turns.Turn{}
	turns.AppendBlock(&results, turns.NewToolUseBlock("call-1", "overcast"))

	h := turns.History{
		turns.NewSystemTurn("be brief"),
		turns.NewUserTurn("weather in London?"),
		assistant,
		results,
	}

	messages := historyToMessages(h)
	require.Len(t, messages, 4)

	assert.Equal(t, go_openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Equal(t, go_openai.ChatMessageRoleUser, messages[1].Role)

	assert.Equal(t, go_openai.ChatMessageRoleAssistant, messages[2].Role)
	assert.Equal(t, "let me check", messages[2].Content)
	require.Len(t, messages[2].ToolCalls, 1)
	assert.Equal(t, "call-1", messages[2].ToolCalls[0].ID)
	assert.Equal(t, "get_weather", messages[2].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"London"}`, messages[2].ToolCalls[0].Function.Arguments)

	// tool result follows the assistant message that requested it
	assert.Equal(t, go_openai.ChatMessageRoleTool, messages[3].Role)
	assert.Equal(t, "call-1", messages[3].ToolCallID)
	assert.Equal(t, "overcast", messages[3].Content)
}

func TestHistoryToMessages_ErrorResultsBecomeErrorContent(t *testing.T) {
	t.Parallel()

	results := turns.Turn{}
	turns.AppendBlock(&results, turns.NewToolErrorBlock("call-1", "upstream down"))

	messages := historyToMessages(turns.History{results})
	require.Len(t, messages, 1)
	assert.Equal(t, go_openai.ChatMessageRoleTool, messages[0].Role)
	assert.Equal(t, "Error: upstream down", messages[0].Content)
}

func TestHistoryToMessages_SplitAssistantTextCoalesces(t *testing.T) {
	t.Parallel()

	assistant := turns.Turn{}
	turns.AppendBlock(&assistant, turns.NewAssistantTextBlock("part one "))
	turns.AppendBlock(&assistant, turns.NewAssistantTextBlock("part two"))

	messages := historyToMessages(turns.History{assistant})
	require.Len(t, messages, 1)
	assert.Equal(t, "part one part two", messages[0].Content)
}

func TestMakeRequest_AdvertisesRegistryTools(t *testing.T) {
	t.Parallel()

	reg := tools.NewInMemoryRegistry()
	def, err := tools.NewToolFromFunc("get_weather", "current conditions", func() (string, error) {
		return "", nil
	})
	require.NoError(t, err)
	require.NoError(t, reg.RegisterTool("get_weather", *def))

	eng, err := New(
		WithClient(go_openai.NewClient("test-key")),
		WithModel("gpt-4-turbo-preview"),
		WithToolRegistry(reg),
	)
	require.NoError(t, err)

	req := eng.makeRequest(turns.History{turns.NewUserTurn("hi")}, true)
	assert.True(t, req.Stream)
	assert.Equal(t, "gpt-4-turbo-preview", req.Model)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "get_weather", req.Tools[0].Function.Name)
	assert.Equal(t, "auto", req.ToolChoice)

	bare, err := New(WithClient(go_openai.NewClient("test-key")))
	require.NoError(t, err)
	assert.Empty(t, bare.makeRequest(nil, false).Tools)
}
