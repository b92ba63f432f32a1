package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type Stock struct {
	Ticker string          `json:"ticker"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

type Holding struct {
	Ticker   string          `json:"ticker"`
	Shares   int64           `json:"shares"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
}

type Transaction struct {
	ID        string          `json:"id"`
	Type      Side            `json:"type"`
	Ticker    string          `json:"ticker"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Timestamp time.Time       `json:"timestamp"`
}

type Student struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Cash         decimal.Decimal    `json:"cash"`
	Portfolio    map[string]Holding `json:"portfolio"`
	Transactions []Transaction      `json:"transactions"`
}

// Snapshot is the persisted form of the whole game.
type Snapshot struct {
	Students     []Student                    `json:"students"`
	Stocks       []Stock                      `json:"stocks"`
	CurrentDay   int                          `json:"currentDay"`
	StockHistory map[string][]decimal.Decimal `json:"stockHistory"`
}

type TradeResult struct {
	Holding     Holding         `json:"holding"`
	Transaction Transaction     `json:"transaction"`
	Cash        decimal.Decimal `json:"cash"`
}

type LeaderboardRow struct {
	Rank           int             `json:"rank"`
	StudentID      string          `json:"student_id"`
	Name           string          `json:"name"`
	Cash           decimal.Decimal `json:"cash"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	TotalValue     decimal.Decimal `json:"total_value"`
}

type PriceChange struct {
	Ticker  string          `json:"ticker"`
	Price   decimal.Decimal `json:"price"`
	Change  decimal.Decimal `json:"change"`
	Percent decimal.Decimal `json:"percent"`
	Up      bool            `json:"up"`
}

// LedgerEntry is a transaction tagged with the student who made it.
type LedgerEntry struct {
	Transaction
	StudentID   string `json:"student_id"`
	StudentName string `json:"student"`
}

func (s Student) clone() Student {
	out := s
	out.Portfolio = make(map[string]Holding, len(s.Portfolio))
	for k, v := range s.Portfolio {
		out.Portfolio[k] = v
	}
	out.Transactions = append([]Transaction{}, s.Transactions...)
	return out
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		CurrentDay:   s.CurrentDay,
		Students:     make([]Student, 0, len(s.Students)),
		Stocks:       append([]Stock{}, s.Stocks...),
		StockHistory: make(map[string][]decimal.Decimal, len(s.StockHistory)),
	}
	for _, st := range s.Students {
		out.Students = append(out.Students, st.clone())
	}
	for k, v := range s.StockHistory {
		out.StockHistory[k] = append([]decimal.Decimal{}, v...)
	}
	return out
}
