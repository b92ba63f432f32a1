package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"stockclass/internal/access"
	"stockclass/internal/config"
	"stockclass/internal/game"
	"stockclass/internal/metrics"
	"stockclass/internal/report"
)

const (
	maxAdvanceDays = 365
	maxRestoreSize = 8 << 20
)

// Server hosts one classroom session. Every handler holds mu while it
// touches the game or the access manager.
type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	mu     sync.Mutex
	game   *game.GameState
	access *access.Manager
	hub    *Hub
	mux    *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, g *game.GameState, acc *access.Manager, hub *Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		game:   g,
		access: acc,
		hub:    hub,
		mux:    chi.NewRouter(),
	}
	if hub != nil {
		g.OnStateChange(func(gs *game.GameState) {
			hub.Broadcast(stateChangeMessage(gs))
		})
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())
	if s.hub != nil {
		r.Get("/v1/ws", s.hub.ServeWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Route("/v1", func(r chi.Router) {
			r.Post("/session/login", s.handleLogin)
			r.Post("/session/logout", s.handleLogout)
			r.Get("/session", s.handleSession)

			r.Get("/stocks", s.handleStocksList)
			r.Get("/stocks/{ticker}", s.handleStockDetail)
			r.Post("/orders", s.handleOrder)
			r.Get("/portfolio", s.handlePortfolio)
			r.Get("/students", s.handleStudents)
			r.Get("/transactions", s.handleTransactions)
			r.Get("/leaderboard", s.handleLeaderboard)

			r.Post("/market/advance", s.handleAdvance)
			r.Post("/market/tick", s.handleTick)
			r.Post("/market/stocks", s.handleAddStock)
			r.Post("/market/reset", s.handleReset)

			r.Get("/backup", s.handleBackup)
			r.Post("/restore", s.handleRestore)

			r.Get("/reports/student.csv", s.handleStudentReport)
			r.Get("/reports/teacher.csv", s.handleTeacherReport)
		})
	})
}

// RunMarketTicker applies an intraday price update every interval until
// ctx ends.
func (s *Server) RunMarketTicker(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	s.log.Info("market ticker started", "tick_every", every.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("market ticker stopped")
			return
		case <-ticker.C:
			s.mu.Lock()
			s.game.UpdateStockPrices()
			day := s.game.Day()
			s.mu.Unlock()
			s.log.Debug("market tick complete", "day", day)
		}
	}
}

type sessionView struct {
	User    string        `json:"user"`
	Role    access.Role   `json:"role"`
	Student *game.Student `json:"student,omitempty"`
}

func (s *Server) sessionView() sessionView {
	sess := s.access.Session()
	out := sessionView{User: sess.User, Role: sess.Role}
	if st, ok := s.access.CurrentStudent(); ok {
		out.Student = &st
	}
	return out
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.access.Login(in.Username) {
		writeError(w, http.StatusBadRequest, "login failed: a non-empty, unused name is required")
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access.Logout()
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.sessionView())
}

type stockView struct {
	game.Stock
	Change  decimal.Decimal `json:"change"`
	Percent decimal.Decimal `json:"percent"`
	Up      bool            `json:"up"`
}

func (s *Server) stockView(st game.Stock) stockView {
	pc, _ := s.game.PriceChange(st.Ticker)
	return stockView{Stock: st, Change: pc.Change, Percent: pc.Percent, Up: pc.Up}
}

func (s *Server) handleStocksList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stocks := s.game.Stocks()
	out := make([]stockView, 0, len(stocks))
	for _, st := range stocks {
		out = append(out, s.stockView(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"day": s.game.Day(), "stocks": out})
}

func (s *Server) handleStockDetail(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticker := chi.URLParam(r, "ticker")
	st, ok := s.game.Stock(ticker)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%v: %s", game.ErrStockNotFound, ticker))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stock":   s.stockView(st),
		"history": s.game.History(st.Ticker),
	})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Ticker   string `json:"ticker"`
		Side     string `json:"side"`
		Quantity int64  `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access.Require(s.access.CanTrade()); err != nil {
		writeDomainError(w, err)
		return
	}
	studentID := s.access.CurrentUser()

	var (
		result game.TradeResult
		err    error
	)
	switch game.Side(strings.ToLower(strings.TrimSpace(in.Side))) {
	case game.SideBuy:
		result, err = s.game.Buy(studentID, in.Ticker, in.Quantity)
	case game.SideSell:
		result, err = s.game.Sell(studentID, in.Ticker, in.Quantity)
	default:
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access.Require(s.access.CanViewOwnPortfolio()); err != nil {
		writeDomainError(w, err)
		return
	}
	st, ok := s.access.CurrentStudent()
	if !ok {
		writeError(w, http.StatusNotFound, game.ErrStudentNotFound.Error())
		return
	}
	pv := s.game.PortfolioValue(st)
	writeJSON(w, http.StatusOK, map[string]any{
		"student":         st,
		"portfolio_value": pv,
		"total_value":     game.RoundCents(st.Cash.Add(pv)),
	})
}

func (s *Server) handleStudents(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access.Require(s.access.CanViewAllData()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"students": s.game.Students()})
}

func (s *Server) handleTransactions(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access.CanViewAllData() {
		writeJSON(w, http.StatusOK, map[string]any{"transactions": s.game.AllTransactions()})
		return
	}
	if err := s.access.Require(s.access.CanViewOwnPortfolio()); err != nil {
		writeDomainError(w, err)
		return
	}
	st, _ := s.access.CurrentStudent()
	out := make([]game.LedgerEntry, 0, len(st.Transactions))
	for _, tx := range st.Transactions {
		out = append(out, game.LedgerEntry{Transaction: tx, StudentID: st.ID, StudentName: st.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"day": s.game.Day(), "leaderboard": s.game.Leaderboard()})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	in := struct {
		Days int `json:"days"`
	}{Days: 1}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Days < 1 || in.Days > maxAdvanceDays {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxAdvanceDays))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access.Require(s.access.CanModifyMarket()); err != nil {
		writeDomainError(w, err)
		return
	}
	s.game.FastForward(in.Days)
	writeJSON(w, http.StatusOK, map[string]any{"day": s.game.Day(), "stocks": s.game.Stocks()})
}

func (s *Server) handleTick(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access.Require(s.access.CanModifyMarket()); err != nil {
		writeDomainError(w, err)
		return
	}
	s.game.UpdateStockPrices()
	writeJSON(w, http.StatusOK, map[string]any{"day": s.game.Day(), "stocks": s.game.Stocks()})
}

func (s *Server) handleAddStock(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Ticker string          `json:"ticker"`
		Name   string          `json:"name"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access.Require(s.access.CanModifyMarket()); err != nil {
		writeDomainError(w, err)
		return
	}
	st, err := s.game.AddStock(in.Ticker, in.Name, in.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access.Require(s.access.CanResetGame()); err != nil {
		writeDomainError(w, err)
		return
	}
	s.game.ResetGame()
	writeJSON(w, http.StatusOK, map[string]any{"day": s.game.Day(), "stocks": s.game.Stocks()})
}

func (s *Server) handleBackup(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access.Require(s.access.CanAccessTeacherControls()); err != nil {
		writeDomainError(w, err)
		return
	}
	raw, err := s.game.Backup()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="stock_game_backup_day_%d.json"`, s.game.Day()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRestoreSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access.Require(s.access.CanAccessTeacherControls()); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.game.Restore(raw); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":      s.game.Day(),
		"students": len(s.game.Students()),
		"stocks":   len(s.game.Stocks()),
	})
}

func (s *Server) handleStudentReport(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access.Require(s.access.CanViewOwnPortfolio()); err != nil {
		writeDomainError(w, err)
		return
	}
	st, ok := s.access.CurrentStudent()
	if !ok {
		writeError(w, http.StatusNotFound, game.ErrStudentNotFound.Error())
		return
	}
	var buf bytes.Buffer
	if err := report.StudentCSV(&buf, s.game, st.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeCSV(w, report.StudentFilename(st.Name), buf.Bytes())
}

func (s *Server) handleTeacherReport(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access.Require(s.access.CanViewAllData()); err != nil {
		writeDomainError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.TeacherCSV(&buf, s.game); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeCSV(w, report.TeacherFilename(s.game.Day()), buf.Bytes())
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, access.ErrNotLoggedIn):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, access.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrDuplicateName), errors.Is(err, game.ErrDuplicateTicker):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrInsufficientShares):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, game.ErrInvalidTransaction),
		errors.Is(err, game.ErrInvalidSnapshot),
		errors.Is(err, game.ErrInvalidStock),
		errors.Is(err, game.ErrInvalidStudentName),
		errors.Is(err, game.ErrNonPositivePrice),
		errors.Is(err, game.ErrNonPositiveQuantity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrStudentNotFound), errors.Is(err, game.ErrStockNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON that leaves out untouched for an empty
// body.
func decodeOptionalJSON(r *http.Request, out any) error {
	if err := decodeJSON(r, out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func writeCSV(w http.ResponseWriter, filename string, body []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
