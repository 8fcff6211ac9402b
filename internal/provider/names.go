package provider

// Provider name constants for the main providers.
const (
	NameOpenAI    = "openai"
	NameGemini    = "gemini"
	NameAnthropic = "anthropic"
)
