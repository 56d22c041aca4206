package otel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

// The key names are fixed by the GenAI semantic conventions; a typo here
// silently breaks dashboards, so pin every one.
func TestGenAIKeysMatchConventions(t *testing.T) {
	want := map[attribute.Key]string{
		GenAISystem:               "gen_ai.system",
		GenAIRequestModel:         "gen_ai.request.model",
		GenAIRequestTemperature:   "gen_ai.request.temperature",
		GenAIRequestMaxTokens:     "gen_ai.request.max_tokens",
		GenAIUsageInputTokens:     "gen_ai.usage.input_tokens",
		GenAIUsageOutputTokens:    "gen_ai.usage.output_tokens",
		GenAIResponseFinishReason: "gen_ai.response.finish_reason",
		GenAIResponseID:           "gen_ai.response.id",
	}
	assert.Len(t, want, 8, "every declared key appears exactly once")
	for key, name := range want {
		assert.Equal(t, name, string(key))
	}
}
