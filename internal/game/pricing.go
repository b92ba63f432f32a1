package game

import "github.com/shopspring/decimal"

// PriceRule computes the next price from the current one. draw returns
// uniform values in [0, 1).
type PriceRule func(price decimal.Decimal, draw func() float64) decimal.Decimal

// DailyFluctuation is the day-advance rule: a uniform change in
// [-10%, +10%], rounded to cents.
func DailyFluctuation(price decimal.Decimal, draw func() float64) decimal.Decimal {
	pct := (draw()*20 - 10) / 100
	next := RoundCents(price.Mul(decimal.NewFromFloat(1 + pct)))
	if next.LessThan(MinPrice) {
		return MinPrice
	}
	return next
}

// IntradayVolatility is the market-tick rule: a 1-3% move with a random
// sign, replaced by a 3-10% move in the same direction one time in ten.
// Prices never fall below 1.00.
func IntradayVolatility(price decimal.Decimal, draw func() float64) decimal.Decimal {
	magnitude := draw()*0.02 + 0.01
	direction := 1.0
	if draw() < 0.5 {
		direction = -1
	}
	pct := direction * magnitude
	if draw() < 0.1 {
		pct = direction * (draw()*0.07 + 0.03)
	}
	next := RoundCents(price.Mul(decimal.NewFromFloat(1 + pct)))
	if next.LessThan(IntradayMin) {
		return IntradayMin
	}
	return next
}

// appendEvictFront drops the oldest entries one at a time once the cap is
// exceeded. Used by the day-advance rule.
func appendEvictFront(history []decimal.Decimal, price decimal.Decimal) []decimal.Decimal {
	history = append(history, price)
	for len(history) > MaxHistory {
		history = history[1:]
	}
	return history
}

// appendRetainTail keeps a fresh copy of the newest MaxHistory entries.
// Used by the intraday rule.
func appendRetainTail(history []decimal.Decimal, price decimal.Decimal) []decimal.Decimal {
	history = append(history, price)
	if len(history) > MaxHistory {
		history = append([]decimal.Decimal(nil), history[len(history)-MaxHistory:]...)
	}
	return history
}
