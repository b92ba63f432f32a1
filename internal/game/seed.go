package game

import "github.com/shopspring/decimal"

// DefaultStocks is the classroom market listed when no seed file is
// configured.
func DefaultStocks() []Stock {
	seed := []struct {
		Ticker string
		Name   string
		Price  string
	}{
		{"AAPL", "Apple Inc.", "150.00"},
		{"MSFT", "Microsoft Corp.", "310.00"},
		{"GOOGL", "Alphabet Inc.", "135.00"},
		{"AMZN", "Amazon.com Inc.", "128.00"},
		{"TSLA", "Tesla Inc.", "240.00"},
		{"DIS", "Walt Disney Co.", "90.00"},
		{"NKE", "Nike Inc.", "105.00"},
		{"SBUX", "Starbucks Corp.", "95.00"},
	}
	out := make([]Stock, 0, len(seed))
	for _, row := range seed {
		out = append(out, Stock{Ticker: row.Ticker, Name: row.Name, Price: decimal.RequireFromString(row.Price)})
	}
	return out
}
