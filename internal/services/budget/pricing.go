package budget

// Model pricing in USD per token (input/output) plus flat per-call search
// rates. Unknown models fall back to the default chat rate.
var chatPricing = map[string]struct {
	Prompt     float64
	Completion float64
}{
	"claude-sonnet-4-20250514":  {Prompt: 3.00 / 1_000_000, Completion: 15.00 / 1_000_000},
	"claude-haiku-3-5-20241022": {Prompt: 0.80 / 1_000_000, Completion: 4.00 / 1_000_000},
	"claude-opus-4-20250514":    {Prompt: 15.00 / 1_000_000, Completion: 75.00 / 1_000_000},
	"gemini-2.5-flash":          {Prompt: 0.30 / 1_000_000, Completion: 2.50 / 1_000_000},
	"gemini-2.5-pro":            {Prompt: 1.25 / 1_000_000, Completion: 10.00 / 1_000_000},
}

const (
	defaultChatModel   = "claude-sonnet-4-20250514"
	webSearchCallCost  = 0.005 // USD per call
	fileSearchCallCost = 0.001 // USD per call
)

// CalculateChatCost returns the USD cost of one chat completion.
func CalculateChatCost(model string, promptTokens, completionTokens int) float64 {
	pricing, ok := chatPricing[model]
	if !ok {
		pricing = chatPricing[defaultChatModel]
	}
	return float64(promptTokens)*pricing.Prompt + float64(completionTokens)*pricing.Completion
}

// CalculateSearchCost returns the USD cost of web and file search calls.
func CalculateSearchCost(webSearchCalls, fileSearchCalls int) float64 {
	return float64(webSearchCalls)*webSearchCallCost + float64(fileSearchCalls)*fileSearchCallCost
}
