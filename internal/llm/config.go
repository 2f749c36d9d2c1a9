// Package llm wraps the generative model used to analyse captured jobs.
package llm

// ModelTier selects a model by capability rather than by name
type ModelTier string

const (
	// TierLite suits short classification-style calls
	TierLite ModelTier = "lite"
	// TierStandard suits structured JSON output such as job analysis
	TierStandard ModelTier = "standard"
	// TierAdvanced is reserved for long-context reasoning
	TierAdvanced ModelTier = "advanced"
)

// Provider names an LLM backend
type Provider string

const (
	ProviderGemini Provider = "gemini"
)

// DefaultTemperature keeps scoring output stable between runs
const DefaultTemperature float32 = 0.1

// Config holds the model choice per tier
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	Temperature float32
}

// DefaultConfig returns the Gemini model lineup
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Temperature: DefaultTemperature,
	}
}

// GetModel returns the model for tier, falling back to standard then lite
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok && model != "" {
		return model
	}
	for _, fallback := range []ModelTier{TierStandard, TierLite} {
		if model, ok := c.Models[fallback]; ok && model != "" {
			return model
		}
	}
	return ""
}

// WithModel returns a copy of c with tier mapped to model
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	next := &Config{
		Provider:    c.Provider,
		Models:      make(map[ModelTier]string, len(c.Models)+1),
		Temperature: c.Temperature,
	}
	for k, v := range c.Models {
		next.Models[k] = v
	}
	next.Models[tier] = model
	return next
}
