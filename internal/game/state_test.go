package game

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockclass/internal/kv"
)

func newTestGame(t *testing.T, store kv.Store) *GameState {
	t.Helper()
	if store == nil {
		store = kv.NewMemoryStore()
	}
	clock := time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)
	g := New(store,
		WithRand(rand.New(rand.NewSource(42))),
		WithClock(func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}),
		WithSeedStocks([]Stock{{Ticker: "AAA", Name: "Triple A", Price: d("100")}}),
	)
	if _, err := g.SeedStocks(nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return g
}

func mustAdd(t *testing.T, g *GameState, name string) Student {
	t.Helper()
	st, err := g.AddStudent(name)
	if err != nil {
		t.Fatalf("add %q: %v", name, err)
	}
	return st
}

func TestBuySellScenario(t *testing.T) {
	g := newTestGame(t, nil)
	ana := mustAdd(t, g, "Ana")

	res, err := g.Buy(ana.ID, "AAA", 5)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !res.Cash.Equal(d("500")) {
		t.Fatalf("cash after buy=%s want 500", res.Cash)
	}
	if res.Holding.Shares != 5 || !res.Holding.AvgPrice.Equal(d("100")) {
		t.Fatalf("holding=%+v want {5, 100}", res.Holding)
	}

	res, err = g.Sell(ana.ID, "AAA", 2)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !res.Cash.Equal(d("700")) {
		t.Fatalf("cash after sell=%s want 700", res.Cash)
	}
	got, _ := g.Student(ana.ID)
	h := got.Portfolio["AAA"]
	if h.Shares != 3 || !h.AvgPrice.Equal(d("100")) {
		t.Fatalf("holding=%+v want {3, 100}", h)
	}
	if len(got.Transactions) != 2 {
		t.Fatalf("transactions=%d want 2", len(got.Transactions))
	}
	if got.Transactions[0].Type != SideBuy || !got.Transactions[0].Total.Equal(d("500")) {
		t.Fatalf("unexpected first transaction %+v", got.Transactions[0])
	}
}

func TestBuyAveragesPrice(t *testing.T) {
	g := newTestGame(t, nil)
	ana := mustAdd(t, g, "Ana")
	if _, err := g.Buy(ana.ID, "AAA", 2); err != nil {
		t.Fatalf("buy: %v", err)
	}
	g.stocks[0].Price = d("130")
	res, err := g.Buy(ana.ID, "AAA", 3)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	// (2*100 + 3*130) / 5 = 118
	if res.Holding.Shares != 5 || !res.Holding.AvgPrice.Equal(d("118")) {
		t.Fatalf("holding=%+v want {5, 118}", res.Holding)
	}
}

func TestSellAllRemovesHolding(t *testing.T) {
	g := newTestGame(t, nil)
	ana := mustAdd(t, g, "Ana")
	if _, err := g.Buy(ana.ID, "AAA", 4); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := g.Sell(ana.ID, "AAA", 4); err != nil {
		t.Fatalf("sell: %v", err)
	}
	got, _ := g.Student(ana.ID)
	if _, ok := got.Portfolio["AAA"]; ok {
		t.Fatalf("expected holding to be removed")
	}
	if !got.Cash.Equal(StartingCash) {
		t.Fatalf("cash=%s want %s", got.Cash, StartingCash)
	}
}

func TestTradeRejections(t *testing.T) {
	g := newTestGame(t, nil)
	ana := mustAdd(t, g, "Ana")
	if _, err := g.Buy(ana.ID, "AAA", 1); err != nil {
		t.Fatalf("buy: %v", err)
	}
	before := g.Snapshot()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"unknown student", func() error { _, err := g.Buy("nope", "AAA", 1); return err }, ErrInvalidTransaction},
		{"unknown stock", func() error { _, err := g.Buy(ana.ID, "ZZZ", 1); return err }, ErrInvalidTransaction},
		{"zero quantity", func() error { _, err := g.Buy(ana.ID, "AAA", 0); return err }, ErrInvalidTransaction},
		{"negative sell", func() error { _, err := g.Sell(ana.ID, "AAA", -1); return err }, ErrInvalidTransaction},
		{"too expensive", func() error { _, err := g.Buy(ana.ID, "AAA", 10); return err }, ErrInsufficientFunds},
		{"oversell", func() error { _, err := g.Sell(ana.ID, "AAA", 2); return err }, ErrInsufficientShares},
		{"sell unheld", func() error {
			if _, err := g.AddStock("BBB", "", d("5")); err != nil && !errors.Is(err, ErrDuplicateTicker) {
				return err
			}
			_, err := g.Sell(ana.ID, "BBB", 1)
			return err
		}, ErrInsufficientShares},
	}
	for _, tc := range tests {
		err := tc.run()
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
	}

	got, _ := g.Student(ana.ID)
	was := before.Students[0]
	if !got.Cash.Equal(was.Cash) || got.Portfolio["AAA"].Shares != was.Portfolio["AAA"].Shares || len(got.Transactions) != len(was.Transactions) {
		t.Fatalf("rejected trades mutated student: before=%+v after=%+v", was, got)
	}
}

func TestCashAndSharesNeverNegative(t *testing.T) {
	g := newTestGame(t, nil)
	ana := mustAdd(t, g, "Ana")
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		qty := int64(r.Intn(8)) - 1
		if r.Intn(2) == 0 {
			_, _ = g.Buy(ana.ID, "AAA", qty)
		} else {
			_, _ = g.Sell(ana.ID, "AAA", qty)
		}
		if i%25 == 0 {
			g.UpdateStockPrices()
		}
		st, _ := g.Student(ana.ID)
		if st.Cash.IsNegative() {
			t.Fatalf("step %d: negative cash %s", i, st.Cash)
		}
		for ticker, h := range st.Portfolio {
			if h.Shares <= 0 {
				t.Fatalf("step %d: %s holding has %d shares", i, ticker, h.Shares)
			}
		}
	}
}

func TestAddStudentDuplicate(t *testing.T) {
	g := newTestGame(t, nil)
	mustAdd(t, g, "Ana")
	for _, name := range []string{"Ana", "ana", "ANA", "  aNa "} {
		if _, err := g.AddStudent(name); !errors.Is(err, ErrDuplicateName) {
			t.Fatalf("add %q: err=%v want ErrDuplicateName", name, err)
		}
	}
	if _, err := g.AddStudent("   "); !errors.Is(err, ErrInvalidStudentName) {
		t.Fatalf("blank name: err=%v", err)
	}
	if n := len(g.Students()); n != 1 {
		t.Fatalf("students=%d want 1", n)
	}
}

func TestAddStudentDefaults(t *testing.T) {
	g := newTestGame(t, nil)
	a := mustAdd(t, g, "Ana")
	b := mustAdd(t, g, "Ben")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids must be unique and non-empty: %q %q", a.ID, b.ID)
	}
	if !a.Cash.Equal(d("1000")) || len(a.Portfolio) != 0 || len(a.Transactions) != 0 {
		t.Fatalf("unexpected new student %+v", a)
	}
}

func TestAdvanceDayHistory(t *testing.T) {
	g := newTestGame(t, nil)
	g.FastForward(3)
	if g.Day() != 3 {
		t.Fatalf("day=%d want 3", g.Day())
	}
	if n := len(g.History("AAA")); n != 3 {
		t.Fatalf("history=%d want 3", n)
	}

	g.FastForward(MaxHistory + 10)
	if g.Day() != MaxHistory+13 {
		t.Fatalf("day=%d", g.Day())
	}
	hist := g.History("AAA")
	if len(hist) != MaxHistory {
		t.Fatalf("history=%d want %d", len(hist), MaxHistory)
	}
	price, _ := g.StockPrice("AAA")
	if !hist[len(hist)-1].Equal(price) {
		t.Fatalf("last history %s != price %s", hist[len(hist)-1], price)
	}
}

func TestUpdateStockPricesKeepsDay(t *testing.T) {
	g := newTestGame(t, nil)
	for i := 0; i < 150; i++ {
		g.UpdateStockPrices()
	}
	if g.Day() != 0 {
		t.Fatalf("day=%d want 0", g.Day())
	}
	if n := len(g.History("AAA")); n != MaxHistory {
		t.Fatalf("history=%d want %d", n, MaxHistory)
	}
	price, _ := g.StockPrice("AAA")
	if price.LessThan(IntradayMin) {
		t.Fatalf("price %s below floor", price)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	g := newTestGame(t, nil)
	ana := mustAdd(t, g, "Ana")
	if _, err := g.Buy(ana.ID, "AAA", 3); err != nil {
		t.Fatalf("buy: %v", err)
	}
	g.FastForward(4)

	raw, err := g.Backup()
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	other := newTestGame(t, nil)
	if err := other.Restore(raw); err != nil {
		t.Fatalf("restore: %v", err)
	}
	again, err := other.Backup()
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if string(raw) != string(again) {
		t.Fatalf("round trip differs:\n%s\n---\n%s", raw, again)
	}
}

func TestRestoreRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"students": [`},
		{"negative cash", `{"students":[{"id":"1","name":"Ana","cash":"-1"}]}`},
		{"duplicate names", `{"students":[{"id":"1","name":"Ana","cash":"1"},{"id":"2","name":"ANA","cash":"1"}]}`},
		{"zero price", `{"stocks":[{"ticker":"AAA","name":"A","price":"0"}]}`},
		{"zero shares", `{"students":[{"id":"1","name":"Ana","cash":"1","portfolio":{"AAA":{"ticker":"AAA","shares":0,"avgPrice":"1"}}}]}`},
		{"negative day", `{"currentDay":-2}`},
		{"lowercase holding key", `{"stocks":[{"ticker":"AAA","name":"A","price":"100"}],"students":[{"id":"1","name":"Ana","cash":"1","portfolio":{"aaa":{"ticker":"aaa","shares":5,"avgPrice":"100"}}}]}`},
		{"lowercase history key", `{"stocks":[{"ticker":"AAA","name":"A","price":"100"}],"stockHistory":{"aaa":["100"]}}`},
		{"long history", `{"stockHistory":{"AAA":[` + strings.TrimSuffix(strings.Repeat(`"1",`, MaxHistory+1), ",") + `]}}`},
	}
	for _, tc := range tests {
		g := newTestGame(t, nil)
		mustAdd(t, g, "Keep")
		before, _ := g.Backup()
		err := g.Restore([]byte(tc.data))
		if !errors.Is(err, ErrInvalidSnapshot) {
			t.Fatalf("%s: err=%v want ErrInvalidSnapshot", tc.name, err)
		}
		after, _ := g.Backup()
		if string(before) != string(after) {
			t.Fatalf("%s: failed restore changed state", tc.name)
		}
	}
}

func TestRestoreFillsDefaults(t *testing.T) {
	g := newTestGame(t, nil)
	if err := g.Restore([]byte(`{"stocks":[{"ticker":"XYZ","name":"X","price":12.5}]}`)); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if g.Day() != 0 || len(g.Students()) != 0 {
		t.Fatalf("expected empty roster on day 0")
	}
	price, ok := g.StockPrice("XYZ")
	if !ok || !price.Equal(d("12.5")) {
		t.Fatalf("price=%s ok=%v", price, ok)
	}
}

func TestPersistsAndHydrates(t *testing.T) {
	store := kv.NewMemoryStore()
	g := newTestGame(t, store)
	ana := mustAdd(t, g, "Ana")
	if _, err := g.Buy(ana.ID, "AAA", 2); err != nil {
		t.Fatalf("buy: %v", err)
	}
	g.AdvanceDay()

	reloaded := New(store)
	if reloaded.Day() != 1 {
		t.Fatalf("day=%d want 1", reloaded.Day())
	}
	st, ok := reloaded.StudentByName("ana")
	if !ok || st.ID != ana.ID {
		t.Fatalf("student not hydrated: %+v", st)
	}
	if st.Portfolio["AAA"].Shares != 2 {
		t.Fatalf("holding not hydrated: %+v", st.Portfolio)
	}
	if len(reloaded.History("AAA")) != 1 {
		t.Fatalf("history not hydrated")
	}
}

func TestHydrateMalformedSnapshot(t *testing.T) {
	store := kv.NewMemoryStore()
	if err := store.Set(context.Background(), SnapshotKey, []byte("{not json")); err != nil {
		t.Fatalf("set: %v", err)
	}
	g := New(store)
	if len(g.Stocks()) != 0 || g.Day() != 0 {
		t.Fatalf("expected empty game from malformed snapshot")
	}
}

type failingStore struct{ kv.Store }

func (failingStore) Set(context.Context, string, []byte) error { return errors.New("disk full") }

func TestPersistenceFailureIsSwallowed(t *testing.T) {
	g := newTestGame(t, failingStore{kv.NewMemoryStore()})
	st, err := g.AddStudent("Ana")
	if err != nil {
		t.Fatalf("add should not surface persistence errors: %v", err)
	}
	if _, err := g.Buy(st.ID, "AAA", 1); err != nil {
		t.Fatalf("buy: %v", err)
	}
}

func TestObserversRunInOrder(t *testing.T) {
	g := newTestGame(t, nil)
	var calls []string
	g.OnStateChange(func(*GameState) { calls = append(calls, "first") })
	g.OnStateChange(func(gs *GameState) { calls = append(calls, "second") })

	g.AdvanceDay()
	if strings.Join(calls, ",") != "first,second" {
		t.Fatalf("calls=%v", calls)
	}

	calls = nil
	ana := mustAdd(t, g, "Ana")
	if _, err := g.Buy(ana.ID, "AAA", 100); err == nil {
		t.Fatalf("expected rejection")
	}
	if len(calls) != 2 {
		t.Fatalf("rejected trade must not notify: calls=%v", calls)
	}
}

func TestSeedStocksOnlyWhenEmpty(t *testing.T) {
	g := newTestGame(t, nil)
	seeded, err := g.SeedStocks(DefaultStocks())
	if err != nil || seeded {
		t.Fatalf("seeded=%v err=%v, want no-op", seeded, err)
	}
	if n := len(g.Stocks()); n != 1 {
		t.Fatalf("stocks=%d want 1", n)
	}

	empty := New(kv.NewMemoryStore())
	if _, err := empty.SeedStocks([]Stock{{Ticker: "aa", Price: d("1")}, {Ticker: "AA", Price: d("2")}}); !errors.Is(err, ErrDuplicateTicker) {
		t.Fatalf("err=%v want ErrDuplicateTicker", err)
	}
	if _, err := empty.SeedStocks([]Stock{{Ticker: "OK", Price: d("0")}}); !errors.Is(err, ErrNonPositivePrice) {
		t.Fatalf("err=%v want ErrNonPositivePrice", err)
	}
}

func TestAddStock(t *testing.T) {
	g := newTestGame(t, nil)
	s, err := g.AddStock(" xyz ", "", d("12.345"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if s.Ticker != "XYZ" || s.Name != "XYZ" || !s.Price.Equal(d("12.35")) {
		t.Fatalf("unexpected stock %+v", s)
	}
	if _, err := g.AddStock("XYZ", "again", d("1")); !errors.Is(err, ErrDuplicateTicker) {
		t.Fatalf("err=%v want ErrDuplicateTicker", err)
	}
	if _, err := g.AddStock("bad ticker", "", d("1")); !errors.Is(err, ErrInvalidStock) {
		t.Fatalf("err=%v want ErrInvalidStock", err)
	}
}

func TestResetGame(t *testing.T) {
	g := newTestGame(t, nil)
	mustAdd(t, g, "Ana")
	if _, err := g.AddStock("BBB", "", d("3")); err != nil {
		t.Fatalf("add: %v", err)
	}
	g.FastForward(2)

	g.ResetGame()
	if g.Day() != 0 || len(g.Students()) != 0 {
		t.Fatalf("reset left day=%d students=%d", g.Day(), len(g.Students()))
	}
	stocks := g.Stocks()
	if len(stocks) != 1 || stocks[0].Ticker != "AAA" || !stocks[0].Price.Equal(d("100")) {
		t.Fatalf("reset stocks=%+v", stocks)
	}
	if len(g.History("AAA")) != 0 {
		t.Fatalf("history not cleared")
	}
}

func TestLeaderboard(t *testing.T) {
	g := newTestGame(t, nil)
	ana := mustAdd(t, g, "Ana")
	mustAdd(t, g, "Cleo")
	mustAdd(t, g, "Ben")
	if _, err := g.Buy(ana.ID, "AAA", 5); err != nil {
		t.Fatalf("buy: %v", err)
	}
	g.stocks[0].Price = d("120")

	rows := g.Leaderboard()
	if len(rows) != 3 {
		t.Fatalf("rows=%d", len(rows))
	}
	if rows[0].Name != "Ana" || !rows[0].TotalValue.Equal(d("1100")) || !rows[0].PortfolioValue.Equal(d("600")) {
		t.Fatalf("leader=%+v", rows[0])
	}
	if rows[1].Name != "Ben" || rows[2].Name != "Cleo" {
		t.Fatalf("ties not ordered by name: %s, %s", rows[1].Name, rows[2].Name)
	}
	for i, r := range rows {
		if r.Rank != i+1 {
			t.Fatalf("row %d rank=%d", i, r.Rank)
		}
	}
}

func TestPriceChange(t *testing.T) {
	g := newTestGame(t, nil)
	pc, ok := g.PriceChange("AAA")
	if !ok || !pc.Change.IsZero() || !pc.Up {
		t.Fatalf("no history: %+v", pc)
	}

	g.history["AAA"] = []decimal.Decimal{d("100"), d("90")}
	g.stocks[0].Price = d("90")
	pc, _ = g.PriceChange("aaa")
	if !pc.Change.Equal(d("-10")) || !pc.Percent.Equal(d("-10")) || pc.Up {
		t.Fatalf("drop: %+v", pc)
	}

	if _, ok := g.PriceChange("NOPE"); ok {
		t.Fatalf("expected unknown ticker")
	}
}

func TestAllTransactionsOrdered(t *testing.T) {
	g := newTestGame(t, nil)
	ana := mustAdd(t, g, "Ana")
	ben := mustAdd(t, g, "Ben")
	_, _ = g.Buy(ana.ID, "AAA", 1)
	_, _ = g.Buy(ben.ID, "AAA", 2)
	_, _ = g.Sell(ana.ID, "AAA", 1)

	all := g.AllTransactions()
	if len(all) != 3 {
		t.Fatalf("entries=%d want 3", len(all))
	}
	want := []string{"Ana", "Ben", "Ana"}
	for i, e := range all {
		if e.StudentName != want[i] {
			t.Fatalf("entry %d student=%s want %s", i, e.StudentName, want[i])
		}
		if i > 0 && e.Timestamp.Before(all[i-1].Timestamp) {
			t.Fatalf("entries out of order")
		}
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	g := newTestGame(t, nil)
	ana := mustAdd(t, g, "Ana")
	_, _ = g.Buy(ana.ID, "AAA", 1)

	snap := g.Snapshot()
	snap.Students[0].Cash = d("0")
	delete(snap.Students[0].Portfolio, "AAA")
	snap.Stocks[0].Price = d("1")

	st, _ := g.Student(ana.ID)
	if st.Cash.IsZero() || st.Portfolio["AAA"].Shares != 1 {
		t.Fatalf("snapshot aliased student state")
	}
	if p, _ := g.StockPrice("AAA"); !p.Equal(d("100")) {
		t.Fatalf("snapshot aliased stock state")
	}
}
