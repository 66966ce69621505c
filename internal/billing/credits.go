package billing

import (
	"github.com/shopspring/decimal"

	"aigateway/internal/models"
)

var thousand = decimal.NewFromInt(1000)

// Consumption is what a successful call used, in the units its type is billed in.
type Consumption struct {
	Type             models.CallType
	PromptTokens     int
	CompletionTokens int
	Images           int
	MediaSeconds     int
}

// CalculateCredits prices c with rate. A nil rate yields a null amount.
//
//	chat:      prompt/1000*input*base + completion/1000*output*base
//	embedding: prompt/1000*input*base
//	image:     images*output*base
//	video:     seconds*output*base
func CalculateCredits(rate *models.ModelRate, c Consumption, basePrice decimal.Decimal) decimal.NullDecimal {
	if rate == nil {
		return decimal.NullDecimal{}
	}

	var credits decimal.Decimal
	switch c.Type {
	case models.CallTypeEmbedding:
		credits = perThousand(c.PromptTokens, rate.InputRate)
	case models.CallTypeImageGeneration:
		credits = decimal.NewFromInt(int64(c.Images)).Mul(rate.OutputRate)
	case models.CallTypeVideo:
		credits = decimal.NewFromInt(int64(c.MediaSeconds)).Mul(rate.OutputRate)
	default:
		credits = perThousand(c.PromptTokens, rate.InputRate).
			Add(perThousand(c.CompletionTokens, rate.OutputRate))
	}

	return decimal.NewNullDecimal(credits.Mul(basePrice))
}

func perThousand(tokens int, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(tokens)).Div(thousand).Mul(rate)
}
