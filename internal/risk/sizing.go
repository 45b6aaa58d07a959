package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// defaultMarginFraction is assumed when the venue reports no initial
// margin fraction for a position (equivalent to 3x leverage).
const defaultMarginFraction = 0.3333

// Sizing is the computed order size for an open/adjust trade.
type Sizing struct {
	BaseAmount  float64
	QuoteAmount float64
	// InsufficientBalance flags quote > available balance. The trade still
	// proceeds; margin may cover it. Callers decide how loudly to warn.
	InsufficientBalance bool
}

// BelowMinimumError reports a sizing result under exchange minimums.
// It is structurally unfixable for the same inputs, so it is never retried.
type BelowMinimumError struct {
	BaseAmount  float64
	QuoteAmount float64
	MinBase     float64
	MinQuote    float64
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("size below exchange minimum: base=%v (min %v), quote=%v (min %v)",
		e.BaseAmount, e.MinBase, e.QuoteAmount, e.MinQuote)
}

// SizePosition computes the order size for one trade.
//
//	quote = totalAssets * ratio * scalingFactor
//	base  = quote / price, truncated toward zero at sizeDecimals
//
// Truncation never rounds up so the committed size can never exceed the
// intended ratio. Returns *BelowMinimumError when either exchange minimum
// is not met.
func SizePosition(totalAssets, availableBalance, ratio, scalingFactor,
	minBase, minQuote float64, sizeDecimals int, price float64) (*Sizing, error) {

	quote := totalAssets * ratio * scalingFactor
	if quote < minQuote {
		return nil, &BelowMinimumError{QuoteAmount: quote, MinBase: minBase, MinQuote: minQuote}
	}

	base := 0.0
	if price > 0 {
		base = quote / price
	}
	base = TruncateFloat(base, sizeDecimals)
	if base < minBase {
		return nil, &BelowMinimumError{BaseAmount: base, QuoteAmount: quote, MinBase: minBase, MinQuote: minQuote}
	}

	return &Sizing{
		BaseAmount:          base,
		QuoteAmount:         quote,
		InsufficientBalance: quote > availableBalance,
	}, nil
}

// StopPrice derives the protective stop trigger from the entry price,
// scaled by how leveraged the position is: a given margin-fraction loss
// corresponds to a smaller price move at higher leverage.
//
// marginFractionPct is the venue-reported initial margin fraction in
// percent; zero falls back to defaultMarginFraction.
func StopPrice(avgEntryPrice, marginFractionPct, stopLossRatio float64, isLong bool) float64 {
	mf := marginFractionPct / 100
	if mf <= 0 {
		mf = defaultMarginFraction
	}

	var price float64
	if isLong {
		price = avgEntryPrice * (1 - mf*stopLossRatio)
	} else {
		price = avgEntryPrice * (1 + mf*stopLossRatio)
	}
	if price > 0 {
		return price
	}

	// Degenerate inputs: fall back to the plain, non-margin-scaled stop.
	if isLong {
		return avgEntryPrice * (1 - stopLossRatio)
	}
	return avgEntryPrice * (1 + stopLossRatio)
}

// TruncateFloat cuts v toward zero at the given number of decimals.
// Exchange precision must never be exceeded, so this never rounds.
func TruncateFloat(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Truncate(int32(decimals)).Float64()
	return f
}

// PriceToInt converts a price into the venue's integer representation.
func PriceToInt(price float64, priceDecimals int) int64 {
	return toScaledInt(price, priceDecimals)
}

// BaseToInt converts a base amount into the venue's integer representation.
func BaseToInt(base float64, sizeDecimals int) int64 {
	return toScaledInt(base, sizeDecimals)
}

func toScaledInt(v float64, decimals int) int64 {
	return decimal.NewFromFloat(v).Shift(int32(decimals)).Truncate(0).IntPart()
}
