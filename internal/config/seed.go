package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"stockclass/internal/game"
)

type seedFile struct {
	Stocks []seedStock `yaml:"stocks"`
}

type seedStock struct {
	Ticker string  `yaml:"ticker"`
	Name   string  `yaml:"name"`
	Price  float64 `yaml:"price"`
}

// LoadSeedStocks reads a YAML list of starting stocks. ${VAR} references
// are expanded from the environment before parsing.
//
//	stocks:
//	  - ticker: AAPL
//	    name: Apple
//	    price: 150.25
func LoadSeedStocks(path string) ([]game.Stock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var f seedFile
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parse seed yaml: %w", err)
	}
	if len(f.Stocks) == 0 {
		return nil, fmt.Errorf("seed file %s lists no stocks", path)
	}

	out := make([]game.Stock, 0, len(f.Stocks))
	seen := make(map[string]struct{}, len(f.Stocks))
	for i, s := range f.Stocks {
		ticker := game.NormalizeTicker(s.Ticker)
		if err := game.ValidateTicker(ticker); err != nil {
			return nil, fmt.Errorf("stocks[%d].ticker %q: %w", i, s.Ticker, err)
		}
		if _, dup := seen[ticker]; dup {
			return nil, fmt.Errorf("stocks[%d].ticker %q: %w", i, ticker, game.ErrDuplicateTicker)
		}
		seen[ticker] = struct{}{}
		price := game.RoundCents(decimal.NewFromFloat(s.Price))
		if !price.IsPositive() {
			return nil, fmt.Errorf("stocks[%d].price must be > 0", i)
		}
		name := s.Name
		if name == "" {
			name = ticker
		}
		out = append(out, game.Stock{Ticker: ticker, Name: name, Price: price})
	}
	return out, nil
}

// SeedStocks returns the stocks from SeedFile, or the built-in classroom
// set when no file is configured.
func SeedStocks(path string) ([]game.Stock, error) {
	if path == "" {
		return game.DefaultStocks(), nil
	}
	return LoadSeedStocks(path)
}
