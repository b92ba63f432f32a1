// Package report renders classroom reports as CSV.
package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"stockclass/internal/game"
)

// StudentFilename is the download name for a student's report. Anything
// but letters, digits, '-' and '_' becomes '_' so the name stays a single
// path element.
func StudentFilename(name string) string {
	safe := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, strings.TrimSpace(name))
	if safe == "" {
		safe = "student"
	}
	return safe + "_stock_report.csv"
}

// TeacherFilename is the download name for the full class report.
func TeacherFilename(day int) string {
	return fmt.Sprintf("stock_game_full_report_day_%d.csv", day)
}

// Money formats v as dollars with two decimals.
func Money(v decimal.Decimal) string {
	return "$" + v.StringFixed(2)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

type sheet struct {
	buf *bufio.Writer
	csv *csv.Writer
}

func newSheet(w io.Writer) *sheet {
	buf := bufio.NewWriter(w)
	return &sheet{buf: buf, csv: csv.NewWriter(buf)}
}

func (s *sheet) row(fields ...string) {
	_ = s.csv.Write(fields)
}

func (s *sheet) blank() {
	s.csv.Flush()
	_, _ = s.buf.WriteString("\n")
}

func (s *sheet) close() error {
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	return s.buf.Flush()
}

func (s *sheet) holdings(g *game.GameState, st game.Student) {
	s.row("Ticker", "Quantity", "Current Price", "Total Value")
	tickers := make([]string, 0, len(st.Portfolio))
	for t := range st.Portfolio {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	for _, t := range tickers {
		price, ok := g.StockPrice(t)
		if !ok {
			continue
		}
		h := st.Portfolio[t]
		value := price.Mul(decimal.NewFromInt(h.Shares))
		s.row(t, strconv.FormatInt(h.Shares, 10), Money(price), Money(value))
	}
}

// StudentCSV writes one student's summary, holdings and ledger.
func StudentCSV(w io.Writer, g *game.GameState, studentID string) error {
	st, ok := g.Student(studentID)
	if !ok {
		return fmt.Errorf("%w: %s", game.ErrStudentNotFound, studentID)
	}
	s := newSheet(w)

	pv := g.PortfolioValue(st)
	s.row("PORTFOLIO SUMMARY")
	s.row("Student Name", "Cash Balance", "Portfolio Value", "Total Value")
	s.row(st.Name, Money(st.Cash), Money(pv), Money(st.Cash.Add(pv)))
	s.blank()

	s.row("HOLDINGS")
	s.holdings(g, st)
	s.blank()

	s.row("TRANSACTION HISTORY")
	s.row("Date", "Type", "Ticker", "Quantity", "Price", "Total")
	txs := append([]game.Transaction(nil), st.Transactions...)
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Timestamp.Before(txs[j].Timestamp) })
	for _, tx := range txs {
		s.row(formatTime(tx.Timestamp), string(tx.Type), tx.Ticker, strconv.FormatInt(tx.Quantity, 10), Money(tx.Price), Money(tx.Total))
	}
	return s.close()
}

// TeacherCSV writes the whole-class report.
func TeacherCSV(w io.Writer, g *game.GameState) error {
	s := newSheet(w)

	s.row("STOCK MARKET GAME REPORT")
	s.row(fmt.Sprintf("Day: %d", g.Day()))
	s.blank()

	s.row("LEADERBOARD")
	s.row("Rank", "Student Name", "Cash Balance", "Portfolio Value", "Total Value")
	for _, r := range g.Leaderboard() {
		s.row(strconv.Itoa(r.Rank), r.Name, Money(r.Cash), Money(r.PortfolioValue), Money(r.TotalValue))
	}
	s.blank()

	s.row("CURRENT STOCK PRICES")
	s.row("Ticker", "Name", "Price")
	for _, st := range g.Stocks() {
		s.row(st.Ticker, st.Name, Money(st.Price))
	}
	s.blank()

	for _, st := range g.Students() {
		s.row("STUDENT: " + st.Name)
		s.row("Holdings:")
		s.holdings(g, st)
		s.blank()
	}

	s.row("ALL TRANSACTIONS")
	s.row("Date", "Student", "Type", "Ticker", "Quantity", "Price", "Total")
	for _, e := range g.AllTransactions() {
		s.row(formatTime(e.Timestamp), e.StudentName, string(e.Type), e.Ticker, strconv.FormatInt(e.Quantity, 10), Money(e.Price), Money(e.Total))
	}
	return s.close()
}
