package otel

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys for generation calls, following the OpenTelemetry
// GenAI semantic conventions. The upstream client records the request
// set before calling out and the usage/response set once a reply lands.
const (
	GenAISystem             = attribute.Key("gen_ai.system")
	GenAIRequestModel       = attribute.Key("gen_ai.request.model")
	GenAIRequestTemperature = attribute.Key("gen_ai.request.temperature")
	GenAIRequestMaxTokens   = attribute.Key("gen_ai.request.max_tokens")

	GenAIUsageInputTokens  = attribute.Key("gen_ai.usage.input_tokens")
	GenAIUsageOutputTokens = attribute.Key("gen_ai.usage.output_tokens")

	GenAIResponseFinishReason = attribute.Key("gen_ai.response.finish_reason")
	GenAIResponseID           = attribute.Key("gen_ai.response.id")
)
