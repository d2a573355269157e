package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tau-run/tau/internal/agent"
	"github.com/tau-run/tau/pkg/models"
)

func TestNewVeniceClientRequiresAPIKey(t *testing.T) {
	_, err := NewVeniceClient(VeniceConfig{})
	require.Error(t, err)
}

func TestNewVeniceClientDefaults(t *testing.T) {
	c, err := NewVeniceClient(VeniceConfig{APIKey: "vk-test"})
	require.NoError(t, err)
	require.Equal(t, "llama-3.3-70b", c.defaultModel)
	require.Equal(t, 3, c.maxRetries)
}

func TestNewVeniceClientHonorsOverrides(t *testing.T) {
	c, err := NewVeniceClient(VeniceConfig{APIKey: "vk-test", DefaultModel: "deepseek-v3.2", MaxRetries: 5})
	require.NoError(t, err)
	require.Equal(t, "deepseek-v3.2", c.defaultModel)
	require.Equal(t, 5, c.maxRetries)
}

func TestConvertVeniceMessagesPrependsSystem(t *testing.T) {
	out := convertVeniceMessages([]models.Message{
		models.NewTextMessage(models.RoleUser, "hello"),
	}, "be nice")
	require.Len(t, out, 2)
	require.Equal(t, "system", out[0].Role)
	require.Equal(t, "be nice", out[0].Content)
}

func TestConvertVeniceMessagesRoundTripsToolCallAndResult(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"q": "weather"})
	messages := []models.Message{
		models.NewTextMessage(models.RoleUser, "what's the weather"),
		models.NewToolCallMessage("", models.ContentBlock{
			Kind:         models.BlockToolCall,
			ToolCallID:   "call-1",
			ToolName:     "search",
			ToolArgsJSON: args,
		}),
		models.NewToolResultMessage("call-1", "sunny", false),
	}
	out := convertVeniceMessages(messages, "")
	require.Len(t, out, 3)
	require.Equal(t, "call-1", out[1].ToolCalls[0].ID)
	require.Equal(t, "tool", out[2].Role)
	require.Equal(t, "sunny", out[2].Content)
}

func TestConvertVeniceMessagesSkipsSystemRole(t *testing.T) {
	out := convertVeniceMessages([]models.Message{
		models.NewTextMessage(models.RoleSystem, "ignored"),
		models.NewTextMessage(models.RoleUser, "hello"),
	}, "")
	require.Len(t, out, 1)
}

func TestConvertVeniceToolsBuildsParams(t *testing.T) {
	schema, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{"q": map[string]any{"type": "string"}},
	})
	out, err := convertVeniceTools([]agent.ToolSchema{
		{Name: "search", Description: "search the web", Parameters: schema},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "search", out[0].Function.Name)
}

func TestConvertVeniceToolsRejectsInvalidSchema(t *testing.T) {
	_, err := convertVeniceTools([]agent.ToolSchema{
		{Name: "bad", Parameters: json.RawMessage(`"not an object"`)},
	})
	require.Error(t, err)
}
