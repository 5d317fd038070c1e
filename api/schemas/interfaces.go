// Package schemas defines the shared contracts that cross package
// boundaries: the text-completion oracle interface and the request
// structures that travel to it.
package schemas

import "context"

// -- Oracle Client Schemas & Interface --

// ModelTier allows selecting a language model based on a preference for
// speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text
// generation process, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	MaxTokens       int     `json:"max_tokens"`        // Upper bound on completion length. Zero means provider default.
}

// GenerationRequest encapsulates a complete request to the oracle,
// including the system and user prompts, the desired model tier, and
// generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input.
	Tier         ModelTier         `json:"tier"`          // The desired model tier (fast or powerful).
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a large
// language model, abstracting the specifics of the underlying provider.
// The evolution pipeline treats it as an opaque text-completion oracle:
// unavailability is an expected condition, never a fatal one.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}
