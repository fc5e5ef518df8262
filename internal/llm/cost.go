package llm

import "strings"

// modelPrice is USD per one million tokens.
type modelPrice struct {
	Input  float64
	Output float64
}

// modelPrices covers the models the service is expected to run against.
// Unknown models fall back to defaultPrice so cost accounting degrades to a
// rough estimate instead of zero.
var modelPrices = map[string]modelPrice{
	"gpt-4o":           {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":      {Input: 0.15, Output: 0.60},
	"gpt-4.1":          {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini":     {Input: 0.40, Output: 1.60},
	"o3-mini":          {Input: 1.10, Output: 4.40},
	"gemini-2.0-flash": {Input: 0.10, Output: 0.40},
	"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
	"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
	"claude-sonnet-4-20250514": {Input: 3.00, Output: 15.00},
	"claude-3-5-haiku-20241022": {Input: 0.80, Output: 4.00},

	"text-embedding-3-small": {Input: 0.02, Output: 0},
	"text-embedding-3-large": {Input: 0.13, Output: 0},
}

var defaultPrice = modelPrice{Input: 1.00, Output: 3.00}

// CostUSD estimates the dollar cost of a request. Model names may carry a
// "provider/" prefix, which is ignored for lookup.
func CostUSD(model string, usage Usage) float64 {
	name := model
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	price, ok := modelPrices[name]
	if !ok {
		price = defaultPrice
	}

	const million = 1_000_000
	return float64(usage.PromptTokens)/million*price.Input +
		float64(usage.CompletionTokens)/million*price.Output
}
