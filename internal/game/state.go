package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockclass/internal/kv"
	"stockclass/internal/metrics"
)

const persistTimeout = 5 * time.Second

// avgPricePlaces bounds the precision kept for volume-weighted averages.
const avgPricePlaces = 4

// GameState owns the classroom roster, the market and its history. It is
// not safe for concurrent use; hosts serialize calls.
type GameState struct {
	store kv.Store
	log   *slog.Logger
	rand  *rand.Rand
	now   func() time.Time
	seed  []Stock

	students  []Student
	stocks    []Stock
	day       int
	history   map[string][]decimal.Decimal
	observers []func(*GameState)
}

type Option func(*GameState)

func WithLogger(logger *slog.Logger) Option {
	return func(g *GameState) {
		if logger != nil {
			g.log = logger
		}
	}
}

// WithRand fixes the random source used by both price rules.
func WithRand(r *rand.Rand) Option {
	return func(g *GameState) {
		if r != nil {
			g.rand = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *GameState) {
		if now != nil {
			g.now = now
		}
	}
}

// WithSeedStocks sets the stocks listed on first run and after a reset.
func WithSeedStocks(stocks []Stock) Option {
	return func(g *GameState) {
		g.seed = append([]Stock(nil), stocks...)
	}
}

// New builds a GameState hydrated from the snapshot in store. A missing or
// unreadable snapshot yields an empty game.
func New(store kv.Store, opts ...Option) *GameState {
	g := &GameState{
		store:   store,
		log:     slog.Default(),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
		seed:    DefaultStocks(),
		history: map[string][]decimal.Decimal{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.load()
	return g
}

func (g *GameState) load() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	raw, err := g.store.Get(ctx, SnapshotKey)
	if errors.Is(err, kv.ErrNotFound) {
		return
	}
	if err != nil {
		g.log.Warn("load game state", "err", err)
		return
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		g.log.Warn("ignoring malformed game state", "key", SnapshotKey, "err", err)
		return
	}
	g.apply(snap)
	g.updateGauges()
}

// apply installs snap, filling defaults for any missing field.
func (g *GameState) apply(snap Snapshot) {
	snap = normalize(snap)
	g.students = snap.Students
	g.stocks = snap.Stocks
	g.day = snap.CurrentDay
	g.history = snap.StockHistory
}

func normalize(snap Snapshot) Snapshot {
	if snap.Students == nil {
		snap.Students = []Student{}
	}
	if snap.Stocks == nil {
		snap.Stocks = []Stock{}
	}
	if snap.StockHistory == nil {
		snap.StockHistory = map[string][]decimal.Decimal{}
	}
	for i := range snap.Students {
		if snap.Students[i].Portfolio == nil {
			snap.Students[i].Portfolio = map[string]Holding{}
		}
		if snap.Students[i].Transactions == nil {
			snap.Students[i].Transactions = []Transaction{}
		}
	}
	return snap
}

func (g *GameState) snapshot() Snapshot {
	return Snapshot{
		Students:     g.students,
		Stocks:       g.stocks,
		CurrentDay:   g.day,
		StockHistory: g.history,
	}
}

// save writes the whole snapshot. Failures are logged and counted, never
// returned.
func (g *GameState) save() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	raw, err := json.Marshal(g.snapshot())
	if err == nil {
		err = g.store.Set(ctx, SnapshotKey, raw)
	}
	if err != nil {
		metrics.PersistenceFailures.Inc()
		g.log.Error("save game state", "err", fmt.Errorf("%w: %v", ErrPersistence, err))
	}
	g.updateGauges()
}

func (g *GameState) updateGauges() {
	metrics.CurrentDay.Set(float64(g.day))
	metrics.Students.Set(float64(len(g.students)))
}

// OnStateChange registers fn to run after every mutation, in registration
// order.
func (g *GameState) OnStateChange(fn func(*GameState)) {
	if fn != nil {
		g.observers = append(g.observers, fn)
	}
}

func (g *GameState) notify() {
	for _, fn := range g.observers {
		fn(g)
	}
}

func (g *GameState) commit() {
	g.save()
	g.notify()
}

func (g *GameState) AddStudent(name string) (Student, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Student{}, ErrInvalidStudentName
	}
	if _, ok := g.studentByName(name); ok {
		return Student{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	st := Student{
		ID:           uuid.NewString(),
		Name:         name,
		Cash:         StartingCash,
		Portfolio:    map[string]Holding{},
		Transactions: []Transaction{},
	}
	g.students = append(g.students, st)
	g.log.Info("student added", "student_id", st.ID, "name", st.Name)
	g.commit()
	return st.clone(), nil
}

func (g *GameState) Buy(studentID, ticker string, quantity int64) (TradeResult, error) {
	idx, stock, err := g.tradeTarget(studentID, ticker, quantity)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(string(SideBuy), "invalid").Inc()
		return TradeResult{}, err
	}
	st := &g.students[idx]
	cost := stock.Price.Mul(decimal.NewFromInt(quantity))
	if st.Cash.LessThan(cost) {
		metrics.TradeRejections.WithLabelValues(string(SideBuy), "funds").Inc()
		return TradeResult{}, fmt.Errorf("%w: cost %s, cash %s", ErrInsufficientFunds, cost.StringFixed(2), st.Cash.StringFixed(2))
	}

	h := st.Portfolio[stock.Ticker]
	h.Ticker = stock.Ticker
	prevValue := h.AvgPrice.Mul(decimal.NewFromInt(h.Shares))
	h.Shares += quantity
	h.AvgPrice = prevValue.Add(cost).DivRound(decimal.NewFromInt(h.Shares), avgPricePlaces)
	st.Portfolio[stock.Ticker] = h
	st.Cash = st.Cash.Sub(cost)

	tx := g.record(st, SideBuy, stock, quantity, cost)
	metrics.TradesTotal.WithLabelValues(string(SideBuy)).Inc()
	g.log.Info("trade executed", "side", SideBuy, "student_id", st.ID, "ticker", stock.Ticker, "quantity", quantity, "price", stock.Price.String())
	out := TradeResult{Holding: h, Transaction: tx, Cash: st.Cash}
	g.commit()
	return out, nil
}

func (g *GameState) Sell(studentID, ticker string, quantity int64) (TradeResult, error) {
	idx, stock, err := g.tradeTarget(studentID, ticker, quantity)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(string(SideSell), "invalid").Inc()
		return TradeResult{}, err
	}
	st := &g.students[idx]
	h, ok := st.Portfolio[stock.Ticker]
	if !ok || h.Shares < quantity {
		metrics.TradeRejections.WithLabelValues(string(SideSell), "shares").Inc()
		return TradeResult{}, fmt.Errorf("%w: hold %d %s, selling %d", ErrInsufficientShares, h.Shares, stock.Ticker, quantity)
	}

	proceeds := stock.Price.Mul(decimal.NewFromInt(quantity))
	h.Shares -= quantity
	if h.Shares == 0 {
		delete(st.Portfolio, stock.Ticker)
	} else {
		st.Portfolio[stock.Ticker] = h
	}
	st.Cash = st.Cash.Add(proceeds)

	tx := g.record(st, SideSell, stock, quantity, proceeds)
	metrics.TradesTotal.WithLabelValues(string(SideSell)).Inc()
	g.log.Info("trade executed", "side", SideSell, "student_id", st.ID, "ticker", stock.Ticker, "quantity", quantity, "price", stock.Price.String())
	out := TradeResult{Holding: h, Transaction: tx, Cash: st.Cash}
	g.commit()
	return out, nil
}

// tradeTarget resolves and validates the common trade inputs without
// touching any state.
func (g *GameState) tradeTarget(studentID, ticker string, quantity int64) (int, Stock, error) {
	idx := g.studentIndex(studentID)
	if idx < 0 {
		return 0, Stock{}, fmt.Errorf("%w: %v %q", ErrInvalidTransaction, ErrStudentNotFound, studentID)
	}
	stock, ok := g.Stock(ticker)
	if !ok {
		return 0, Stock{}, fmt.Errorf("%w: %v %q", ErrInvalidTransaction, ErrStockNotFound, ticker)
	}
	if quantity <= 0 {
		return 0, Stock{}, fmt.Errorf("%w: %v", ErrInvalidTransaction, ErrNonPositiveQuantity)
	}
	return idx, stock, nil
}

func (g *GameState) record(st *Student, side Side, stock Stock, quantity int64, total decimal.Decimal) Transaction {
	tx := Transaction{
		ID:        uuid.NewString(),
		Type:      side,
		Ticker:    stock.Ticker,
		Quantity:  quantity,
		Price:     stock.Price,
		Total:     total,
		Timestamp: g.now().UTC(),
	}
	st.Transactions = append(st.Transactions, tx)
	return tx
}

// AdvanceDay moves every stock by DailyFluctuation and starts the next day.
func (g *GameState) AdvanceDay() {
	for i := range g.stocks {
		s := &g.stocks[i]
		s.Price = DailyFluctuation(s.Price, g.rand.Float64)
		g.history[s.Ticker] = appendEvictFront(g.history[s.Ticker], s.Price)
	}
	g.day++
	metrics.DayAdvances.Inc()
	metrics.PriceUpdates.WithLabelValues("daily").Inc()
	g.log.Info("day advanced", "day", g.day, "stocks", len(g.stocks))
	g.commit()
}

// UpdateStockPrices applies one IntradayVolatility round. The day counter
// is unchanged.
func (g *GameState) UpdateStockPrices() {
	for i := range g.stocks {
		s := &g.stocks[i]
		s.Price = IntradayVolatility(s.Price, g.rand.Float64)
		g.history[s.Ticker] = appendRetainTail(g.history[s.Ticker], s.Price)
	}
	metrics.PriceUpdates.WithLabelValues("intraday").Inc()
	g.log.Debug("intraday prices updated", "day", g.day, "stocks", len(g.stocks))
	g.commit()
}

func (g *GameState) FastForward(days int) {
	for i := 0; i < days; i++ {
		g.AdvanceDay()
	}
}

// ResetGame clears everything and lists the seed stocks again.
func (g *GameState) ResetGame() {
	g.students = []Student{}
	g.stocks = []Stock{}
	g.day = 0
	g.history = map[string][]decimal.Decimal{}
	g.stocks = append(g.stocks, g.seed...)
	g.log.Warn("game reset", "stocks", len(g.stocks))
	g.commit()
}

// SeedStocks lists stocks only when the market is empty. A nil slice uses
// the configured seed set. It reports whether anything was listed.
func (g *GameState) SeedStocks(stocks []Stock) (bool, error) {
	if len(g.stocks) > 0 {
		return false, nil
	}
	if stocks == nil {
		stocks = g.seed
	}
	checked := make([]Stock, 0, len(stocks))
	seen := make(map[string]struct{}, len(stocks))
	for _, s := range stocks {
		s, err := validStock(s.Ticker, s.Name, s.Price)
		if err != nil {
			return false, err
		}
		if _, dup := seen[s.Ticker]; dup {
			return false, fmt.Errorf("%w: %s", ErrDuplicateTicker, s.Ticker)
		}
		seen[s.Ticker] = struct{}{}
		checked = append(checked, s)
	}
	if len(checked) == 0 {
		return false, nil
	}
	g.stocks = checked
	g.log.Info("market seeded", "stocks", len(checked))
	g.commit()
	return true, nil
}

func (g *GameState) AddStock(ticker, name string, price decimal.Decimal) (Stock, error) {
	s, err := validStock(ticker, name, price)
	if err != nil {
		return Stock{}, err
	}
	if _, ok := g.Stock(s.Ticker); ok {
		return Stock{}, fmt.Errorf("%w: %s", ErrDuplicateTicker, s.Ticker)
	}
	g.stocks = append(g.stocks, s)
	g.log.Info("stock listed", "ticker", s.Ticker, "price", s.Price.String())
	g.commit()
	return s, nil
}

func validStock(ticker, name string, price decimal.Decimal) (Stock, error) {
	ticker = NormalizeTicker(ticker)
	if err := ValidateTicker(ticker); err != nil {
		return Stock{}, fmt.Errorf("%w: ticker %q", err, ticker)
	}
	price = RoundCents(price)
	if !price.IsPositive() {
		return Stock{}, fmt.Errorf("%w: %s %s", ErrNonPositivePrice, ticker, price.String())
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = ticker
	}
	return Stock{Ticker: ticker, Name: name, Price: price}, nil
}

// Backup returns the snapshot as JSON.
func (g *GameState) Backup() ([]byte, error) {
	return json.MarshalIndent(g.snapshot(), "", "  ")
}

// Restore replaces the whole game with a previously backed-up snapshot.
// Nothing changes unless data parses and validates.
func (g *GameState) Restore(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	snap = normalize(snap)
	if err := ValidateSnapshot(snap); err != nil {
		return err
	}
	g.apply(snap.clone())
	g.log.Warn("game restored", "day", g.day, "students", len(g.students), "stocks", len(g.stocks))
	g.commit()
	return nil
}

// ValidateSnapshot checks the invariants a restored game must hold.
func ValidateSnapshot(snap Snapshot) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidSnapshot, fmt.Sprintf(format, args...))
	}
	if snap.CurrentDay < 0 {
		return invalid("currentDay %d is negative", snap.CurrentDay)
	}

	tickers := make(map[string]struct{}, len(snap.Stocks))
	for i, s := range snap.Stocks {
		if err := ValidateTicker(s.Ticker); err != nil {
			return invalid("stocks[%d]: ticker %q", i, s.Ticker)
		}
		if _, dup := tickers[s.Ticker]; dup {
			return invalid("stocks[%d]: duplicate ticker %s", i, s.Ticker)
		}
		if !s.Price.IsPositive() {
			return invalid("stocks[%d]: price %s must be > 0", i, s.Price.String())
		}
		tickers[s.Ticker] = struct{}{}
	}

	ids := make(map[string]struct{}, len(snap.Students))
	names := make(map[string]struct{}, len(snap.Students))
	for i, st := range snap.Students {
		if st.ID == "" {
			return invalid("students[%d]: missing id", i)
		}
		if _, dup := ids[st.ID]; dup {
			return invalid("students[%d]: duplicate id %s", i, st.ID)
		}
		ids[st.ID] = struct{}{}
		key := nameKey(st.Name)
		if key == "" {
			return invalid("students[%d]: missing name", i)
		}
		if _, dup := names[key]; dup {
			return invalid("students[%d]: duplicate name %q", i, st.Name)
		}
		names[key] = struct{}{}
		if st.Cash.IsNegative() {
			return invalid("students[%d]: negative cash", i)
		}
		for ticker, h := range st.Portfolio {
			if err := ValidateTicker(ticker); err != nil {
				return invalid("students[%d]: holding key %q is not a ticker", i, ticker)
			}
			if h.Shares <= 0 {
				return invalid("students[%d]: %s holds %d shares", i, ticker, h.Shares)
			}
			if h.Ticker != "" && h.Ticker != ticker {
				return invalid("students[%d]: holding key %s names %s", i, ticker, h.Ticker)
			}
			if h.AvgPrice.IsNegative() {
				return invalid("students[%d]: %s negative average price", i, ticker)
			}
		}
	}

	for ticker, hist := range snap.StockHistory {
		if err := ValidateTicker(ticker); err != nil {
			return invalid("stockHistory: key %q is not a ticker", ticker)
		}
		if len(hist) > MaxHistory {
			return invalid("stockHistory[%s]: %d entries exceeds %d", ticker, len(hist), MaxHistory)
		}
		for _, p := range hist {
			if !p.IsPositive() {
				return invalid("stockHistory[%s]: price %s must be > 0", ticker, p.String())
			}
		}
	}
	return nil
}

func (g *GameState) Day() int { return g.day }

func (g *GameState) Stocks() []Stock {
	return append([]Stock{}, g.stocks...)
}

func (g *GameState) Stock(ticker string) (Stock, bool) {
	ticker = NormalizeTicker(ticker)
	for _, s := range g.stocks {
		if s.Ticker == ticker {
			return s, true
		}
	}
	return Stock{}, false
}

func (g *GameState) StockPrice(ticker string) (decimal.Decimal, bool) {
	s, ok := g.Stock(ticker)
	return s.Price, ok
}

// History returns the recorded prices for ticker, oldest first.
func (g *GameState) History(ticker string) []decimal.Decimal {
	return append([]decimal.Decimal{}, g.history[NormalizeTicker(ticker)]...)
}

// Students returns copies in registration order.
func (g *GameState) Students() []Student {
	out := make([]Student, 0, len(g.students))
	for _, st := range g.students {
		out = append(out, st.clone())
	}
	return out
}

func (g *GameState) Student(id string) (Student, bool) {
	idx := g.studentIndex(id)
	if idx < 0 {
		return Student{}, false
	}
	return g.students[idx].clone(), true
}

// StudentByName finds a student by case-insensitive name.
func (g *GameState) StudentByName(name string) (Student, bool) {
	st, ok := g.studentByName(name)
	if !ok {
		return Student{}, false
	}
	return st.clone(), true
}

// Snapshot returns a deep copy of the whole game.
func (g *GameState) Snapshot() Snapshot {
	return g.snapshot().clone()
}

func (g *GameState) studentIndex(id string) int {
	for i := range g.students {
		if g.students[i].ID == id {
			return i
		}
	}
	return -1
}

func (g *GameState) studentByName(name string) (Student, bool) {
	key := nameKey(name)
	for _, st := range g.students {
		if nameKey(st.Name) == key {
			return st, true
		}
	}
	return Student{}, false
}

// PortfolioValue is the market value of st's holdings at current prices.
// Holdings in delisted tickers count as zero.
func (g *GameState) PortfolioValue(st Student) decimal.Decimal {
	total := decimal.Zero
	for ticker, h := range st.Portfolio {
		price, ok := g.StockPrice(ticker)
		if !ok {
			continue
		}
		total = total.Add(price.Mul(decimal.NewFromInt(h.Shares)))
	}
	return RoundCents(total)
}

// Leaderboard ranks students by cash plus portfolio value, highest first.
// Ties are ordered by name.
func (g *GameState) Leaderboard() []LeaderboardRow {
	rows := make([]LeaderboardRow, 0, len(g.students))
	for _, st := range g.students {
		pv := g.PortfolioValue(st)
		rows = append(rows, LeaderboardRow{
			StudentID:      st.ID,
			Name:           st.Name,
			Cash:           st.Cash,
			PortfolioValue: pv,
			TotalValue:     RoundCents(st.Cash.Add(pv)),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].TotalValue.Cmp(rows[j].TotalValue); c != 0 {
			return c > 0
		}
		return nameKey(rows[i].Name) < nameKey(rows[j].Name)
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}

// PriceChange compares the current price with the previous history entry.
func (g *GameState) PriceChange(ticker string) (PriceChange, bool) {
	stock, ok := g.Stock(ticker)
	if !ok {
		return PriceChange{}, false
	}
	hist := g.history[stock.Ticker]
	prev := stock.Price
	switch {
	case len(hist) > 1:
		prev = hist[len(hist)-2]
	case len(hist) == 1:
		prev = hist[0]
	}
	change := stock.Price.Sub(prev)
	pct := decimal.Zero
	if !prev.IsZero() {
		pct = change.Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return PriceChange{
		Ticker:  stock.Ticker,
		Price:   stock.Price,
		Change:  RoundCents(change),
		Percent: pct,
		Up:      !change.IsNegative(),
	}, true
}

// AllTransactions merges every student's ledger in time order.
func (g *GameState) AllTransactions() []LedgerEntry {
	var out []LedgerEntry
	for _, st := range g.students {
		for _, tx := range st.Transactions {
			out = append(out, LedgerEntry{Transaction: tx, StudentID: st.ID, StudentName: st.Name})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
