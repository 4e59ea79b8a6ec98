package service

import (
	"github.com/shopspring/decimal"

	"github.com/set-night/skylog/internal/domain"
)

var million = decimal.NewFromInt(1_000_000)

// Pricing is the model price in USD per one million tokens.
type Pricing struct {
	Prompt     decimal.Decimal
	Completion decimal.Decimal
}

func NewPricing(promptPerMillion, completionPerMillion float64) Pricing {
	return Pricing{
		Prompt:     decimal.NewFromFloat(promptPerMillion),
		Completion: decimal.NewFromFloat(completionPerMillion),
	}
}

// CalculateCost prices a call from its token counts.
func CalculateCost(promptTokens, completionTokens int, p Pricing) decimal.Decimal {
	promptCost := decimal.NewFromInt(int64(promptTokens)).Mul(p.Prompt).Div(million)
	completionCost := decimal.NewFromInt(int64(completionTokens)).Mul(p.Completion).Div(million)
	return promptCost.Add(completionCost)
}

// priceReply fills in the cost unless the provider already reported one.
func priceReply(reply ModelReply, p Pricing) domain.Usage {
	u := reply.Usage
	if !reply.CostReported {
		u.Cost = CalculateCost(u.PromptTokens, u.CompletionTokens, p)
	}
	return u
}
