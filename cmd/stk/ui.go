package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	cl "stockclass/internal/cli"
	"stockclass/internal/game"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func promptTicker(label string) (string, error) {
	for {
		ticker, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		ticker = game.NormalizeTicker(ticker)
		if err := game.ValidateTicker(ticker); err != nil {
			printWarn(err.Error())
			continue
		}
		return ticker, nil
	}
}

func renderStocks(g *game.GameState) {
	m := cl.Market{Day: g.Day()}
	for _, s := range g.Stocks() {
		ch, _ := g.PriceChange(s.Ticker)
		m.Stocks = append(m.Stocks, cl.Quote{Stock: s, Change: ch.Change, Percent: ch.Percent, Up: ch.Up})
	}
	renderQuotes(m)
}

func renderQuotes(m cl.Market) {
	accent.Printf("\n== STOCK MARKET (Day %d) ==\n", m.Day)
	if len(m.Stocks) == 0 {
		printInfo("No stocks listed.")
		return
	}
	fmt.Printf("%-6s %-24s %12s %12s %9s\n", "TICKER", "NAME", "PRICE", "CHANGE", "CHANGE%")
	for _, q := range m.Stocks {
		fmt.Printf("%-6s %-24s %12s %12s %9s\n",
			q.Ticker,
			truncate(q.Name, 24),
			formatMoney(q.Price),
			colorizeDecimal(q.Change),
			colorizePercent(q.Percent),
		)
	}
	fmt.Println()
}

func renderStockDetail(g *game.GameState, s game.Stock) {
	accent.Printf("\n== %s (%s) ==\n", s.Ticker, s.Name)
	fmt.Printf("Price:   $%s\n", formatMoney(s.Price))
	if ch, ok := g.PriceChange(s.Ticker); ok {
		fmt.Printf("Change:  %s (%s)\n", colorizeDecimal(ch.Change), colorizePercent(ch.Percent))
	}
	hist := g.History(s.Ticker)
	if len(hist) > 0 {
		fmt.Println()
		accent.Println("Recent Closes")
		start := len(hist) - 10
		if start < 0 {
			start = 0
		}
		for i := len(hist) - 1; i >= start; i-- {
			fmt.Printf("  %12s\n", formatMoney(hist[i]))
		}
	}
	fmt.Println()
}

func renderTrade(res game.TradeResult) {
	tx := res.Transaction
	accent.Printf("\n== ORDER %s ==\n", strings.ToUpper(string(tx.Type)))
	fmt.Printf("Ticker:  %s\n", tx.Ticker)
	fmt.Printf("Shares:  %d\n", tx.Quantity)
	fmt.Printf("Price:   $%s\n", formatMoney(tx.Price))
	fmt.Printf("Total:   $%s\n", formatMoney(tx.Total))
	fmt.Printf("Cash:    $%s\n", formatMoney(res.Cash))
	if res.Holding.Shares > 0 {
		fmt.Printf("Holding: %d @ $%s\n", res.Holding.Shares, formatMoney(res.Holding.AvgPrice))
	}
	fmt.Println()
}

func renderPortfolio(g *game.GameState, st game.Student) {
	accent.Printf("\n== PORTFOLIO: %s (Day %d) ==\n", st.Name, g.Day())
	value := g.PortfolioValue(st)
	total := st.Cash.Add(value)
	fmt.Printf("Cash:            $%s\n", formatMoney(st.Cash))
	fmt.Printf("Portfolio Value: $%s\n", formatMoney(value))
	fmt.Printf("Total Value:     $%s\n", formatMoney(total))
	fmt.Printf("P/L vs Start:    %s\n", colorizeDecimal(total.Sub(game.StartingCash)))

	fmt.Println()
	accent.Println("Holdings")
	if len(st.Portfolio) == 0 {
		printInfo("No holdings yet.")
		fmt.Println()
		return
	}
	fmt.Printf("%-6s %8s %12s %12s %14s %14s\n", "TICKER", "SHARES", "AVG", "NOW", "VALUE", "P/L")
	for _, h := range sortedHoldings(st) {
		price, _ := g.StockPrice(h.Ticker)
		qty := decimal.NewFromInt(h.Shares)
		fmt.Printf("%-6s %8d %12s %12s %14s %14s\n",
			h.Ticker,
			h.Shares,
			formatMoney(h.AvgPrice),
			formatMoney(price),
			formatMoney(price.Mul(qty)),
			colorizeDecimal(game.RoundCents(price.Sub(h.AvgPrice).Mul(qty))),
		)
	}
	fmt.Println()
}

func renderTransactions(title string, rows []game.LedgerEntry, showStudent bool) {
	accent.Printf("\n== %s ==\n", title)
	if len(rows) == 0 {
		printInfo("No transactions yet.")
		return
	}
	if showStudent {
		fmt.Printf("%-20s %-16s %-5s %-6s %8s %12s %14s\n", "TIME", "STUDENT", "TYPE", "TICKER", "QTY", "PRICE", "TOTAL")
	} else {
		fmt.Printf("%-20s %-5s %-6s %8s %12s %14s\n", "TIME", "TYPE", "TICKER", "QTY", "PRICE", "TOTAL")
	}
	for _, r := range rows {
		when := r.Timestamp.Local().Format("2006-01-02 15:04")
		side := success.Sprint(strings.ToUpper(string(r.Type)))
		if r.Type == game.SideSell {
			side = danger.Sprint("SELL")
		}
		if showStudent {
			fmt.Printf("%-20s %-16s %-5s %-6s %8d %12s %14s\n", when, truncate(r.StudentName, 16), side, r.Ticker, r.Quantity, formatMoney(r.Price), formatMoney(r.Total))
		} else {
			fmt.Printf("%-20s %-5s %-6s %8d %12s %14s\n", when, side, r.Ticker, r.Quantity, formatMoney(r.Price), formatMoney(r.Total))
		}
	}
	fmt.Println()
}

func renderLeaderboard(rows []game.LeaderboardRow) {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No students yet.")
		return
	}
	fmt.Printf("%-5s %-24s %14s %14s %14s\n", "RANK", "STUDENT", "CASH", "STOCKS", "TOTAL")
	for _, r := range rows {
		fmt.Printf("%-5d %-24s %14s %14s %14s\n",
			r.Rank,
			truncate(r.Name, 24),
			formatMoney(r.Cash),
			formatMoney(r.PortfolioValue),
			colorizeTotal(r.TotalValue),
		)
	}
	fmt.Println()
}

func studentLedger(st game.Student) []game.LedgerEntry {
	out := make([]game.LedgerEntry, 0, len(st.Transactions))
	for _, tx := range st.Transactions {
		out = append(out, game.LedgerEntry{Transaction: tx, StudentID: st.ID, StudentName: st.Name})
	}
	return out
}

func sortedHoldings(st game.Student) []game.Holding {
	out := make([]game.Holding, 0, len(st.Portfolio))
	for _, h := range st.Portfolio {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func colorizeDecimal(v decimal.Decimal) string {
	text := formatMoney(v)
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizeTotal(v decimal.Decimal) string {
	text := formatMoney(v)
	switch v.Cmp(game.StartingCash) {
	case 1:
		return success.Sprint(text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v decimal.Decimal) string {
	text := v.StringFixed(2) + "%"
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

// formatMoney renders v with two decimals and thousands separators.
func formatMoney(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Abs()
	}
	fixed := v.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	return sign + comma(whole) + "." + frac
}

func comma(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	pre := len(digits) % 3
	if pre > 0 {
		b.WriteString(digits[:pre])
	}
	for i := pre; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
