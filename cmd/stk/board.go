package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	cl "stockclass/internal/cli"
	"stockclass/internal/game"
)

var (
	boardTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00D7FF")).Padding(0, 1)
	boardFrame  = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	boardStatus = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F"))
	boardHelp   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	boardUp     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F"))
	boardDown   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
)

type boardTickMsg time.Time

type boardModel struct {
	app    *cl.App
	table  table.Model
	every  time.Duration
	status string
}

func newBoardCmd(e *env) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Live market board (teacher keys: a advance day, t tick)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("board needs an interactive terminal; use `stk stocks` instead")
			}
			if every <= 0 {
				return errors.New("--refresh must be positive")
			}
			_, err := tea.NewProgram(newBoardModel(e.app, every), tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&every, "refresh", 2*time.Second, "how often to reload the market")
	return cmd
}

func newBoardModel(app *cl.App, every time.Duration) boardModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Ticker", Width: 7},
			{Title: "Name", Width: 24},
			{Title: "Price", Width: 12},
			{Title: "Change", Width: 11},
			{Title: "Change%", Width: 9},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).BorderBottom(true).Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Bold(false)
	t.SetStyles(s)

	m := boardModel{app: app, table: t, every: every}
	m.refresh()
	return m
}

func (m boardModel) tick() tea.Cmd {
	return tea.Tick(m.every, func(t time.Time) tea.Msg { return boardTickMsg(t) })
}

func (m *boardModel) refresh() {
	m.table.SetRows(boardRows(m.app.Game))
}

func boardRows(g *game.GameState) []table.Row {
	stocks := g.Stocks()
	rows := make([]table.Row, 0, len(stocks))
	for _, s := range stocks {
		ch, _ := g.PriceChange(s.Ticker)
		arrow := "▲"
		if !ch.Up {
			arrow = "▼"
		}
		change := formatMoney(ch.Change)
		if ch.Change.IsPositive() {
			change = "+" + change
		}
		rows = append(rows, table.Row{
			s.Ticker,
			truncate(s.Name, 24),
			formatMoney(s.Price),
			arrow + " " + change,
			ch.Percent.StringFixed(2) + "%",
		})
	}
	return rows
}

func (m boardModel) Init() tea.Cmd {
	return m.tick()
}

func (m boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case boardTickMsg:
		m.app.Reload()
		m.refresh()
		return m, m.tick()

	case tea.WindowSizeMsg:
		if h := msg.Height - 12; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "a", "t":
			if err := m.app.Access.Require(m.app.Access.CanModifyMarket()); err != nil {
				m.status = "teacher only: " + err.Error()
				return m, nil
			}
			if msg.String() == "a" {
				m.app.Game.AdvanceDay()
				m.status = fmt.Sprintf("advanced to day %d", m.app.Game.Day())
			} else {
				m.app.Game.UpdateStockPrices()
				m.status = "intraday prices updated"
			}
			m.refresh()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m boardModel) View() string {
	g := m.app.Game
	var b strings.Builder
	b.WriteString(boardTitle.Render(fmt.Sprintf("STOCK MARKET  Day %d", g.Day())))
	b.WriteString("\n")
	b.WriteString(boardFrame.Render(m.table.View()))
	b.WriteString("\n")

	rows := g.Leaderboard()
	if len(rows) > 5 {
		rows = rows[:5]
	}
	for _, r := range rows {
		style := boardUp
		if r.TotalValue.LessThan(game.StartingCash) {
			style = boardDown
		}
		b.WriteString(fmt.Sprintf(" %d. %-20s %s\n", r.Rank, truncate(r.Name, 20), style.Render("$"+formatMoney(r.TotalValue))))
	}
	if m.status != "" {
		b.WriteString(boardStatus.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(boardHelp.Render("↑/↓ move • a advance day • t tick • q quit"))
	b.WriteString("\n")
	return b.String()
}
