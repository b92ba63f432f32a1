package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stockclass/internal/access"
	cl "stockclass/internal/cli"
	"stockclass/internal/config"
	"stockclass/internal/game"
	"stockclass/internal/report"
)

// env carries the opened app from the root pre-run hook to subcommands.
type env struct {
	cfg    config.CLIConfig
	logger *slog.Logger
	app    *cl.App
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		printError("env file error: " + err.Error())
		os.Exit(1)
	}
	cfg, err := config.LoadCLIFromEnv()
	if err != nil {
		printError("config error: " + err.Error())
		os.Exit(1)
	}
	e := &env{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})),
	}

	root := &cobra.Command{
		Use:          "stk",
		Short:        "Classroom stock market game",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if isRemote(cmd) {
				return nil
			}
			app, err := cl.Open(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			e.app = app
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if e.app == nil {
				return nil
			}
			return e.app.Close()
		},
	}

	root.AddCommand(
		newLoginCmd(e),
		newLogoutCmd(e),
		newWhoamiCmd(e),
		newStocksCmd(e),
		newTradeCmd(e, game.SideBuy),
		newTradeCmd(e, game.SideSell),
		newPortfolioCmd(e),
		newTransactionsCmd(e),
		newLeaderboardCmd(e),
		newStudentsCmd(e),
		newDayCmd(e),
		newMarketCmd(e),
		newResetCmd(e),
		newBackupCmd(e),
		newRestoreCmd(e),
		newReportCmd(e),
		newBoardCmd(e),
		newRemoteCmd(e),
	)

	if err := root.Execute(); err != nil {
		printError("error: " + err.Error())
		os.Exit(1)
	}
}

func newLoginCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "login [name]",
		Short: "Log in as a student, or as the teacher",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			if strings.TrimSpace(name) == "" {
				var err error
				name, err = promptRequired("Name (or '" + access.TeacherKeyword + "')")
				if err != nil {
					return err
				}
			}
			if err := e.app.Login(cmd.Context(), name); err != nil {
				return err
			}
			if e.app.Access.IsTeacher() {
				printSuccess("Logged in as teacher.")
				return nil
			}
			st, _ := e.app.Access.CurrentStudent()
			printSuccess(fmt.Sprintf("Welcome, %s! Cash: $%s", st.Name, formatMoney(st.Cash)))
			return nil
		},
	}
}

func newLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.app.Logout(cmd.Context()); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newWhoamiCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			switch {
			case acc.IsTeacher():
				printInfo("Role: teacher")
			case acc.IsLoggedIn():
				st, _ := acc.CurrentStudent()
				printInfo(fmt.Sprintf("Role: student\nName: %s\nCash: $%s", st.Name, formatMoney(st.Cash)))
			default:
				printWarn("Not logged in. Run `stk login`.")
			}
			return nil
		},
	}
}

func newStocksCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stocks [TICKER]",
		Short: "List the market or show one stock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g := e.app.Game
			if len(args) == 0 {
				renderStocks(g)
				return nil
			}
			s, ok := g.Stock(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", game.ErrStockNotFound, game.NormalizeTicker(args[0]))
			}
			renderStockDetail(g, s)
			return nil
		},
	}
}

func newTradeCmd(e *env, side game.Side) *cobra.Command {
	return &cobra.Command{
		Use:   string(side) + " [TICKER] [QTY]",
		Short: strings.ToUpper(string(side[:1])) + string(side[1:]) + " whole shares at the current price",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			if err := acc.Require(acc.CanTrade()); err != nil {
				return err
			}
			ticker, qty, err := tradeArgs(args)
			if err != nil {
				return err
			}
			var res game.TradeResult
			if side == game.SideBuy {
				res, err = e.app.Game.Buy(acc.CurrentUser(), ticker, qty)
			} else {
				res, err = e.app.Game.Sell(acc.CurrentUser(), ticker, qty)
			}
			if err != nil {
				return err
			}
			renderTrade(res)
			return nil
		},
	}
}

func tradeArgs(args []string) (string, int64, error) {
	var (
		ticker string
		qty    int64
		err    error
	)
	if len(args) > 0 {
		ticker = game.NormalizeTicker(args[0])
	} else if ticker, err = promptTicker("Ticker"); err != nil {
		return "", 0, err
	}
	if len(args) > 1 {
		qty, err = strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "", 0, fmt.Errorf("quantity must be a whole number: %q", args[1])
		}
	} else if qty, err = promptInt64("Quantity", 1); err != nil {
		return "", 0, err
	}
	return ticker, qty, nil
}

func newPortfolioCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show your cash and holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			if err := acc.Require(acc.CanViewOwnPortfolio()); err != nil {
				return err
			}
			st, _ := acc.CurrentStudent()
			renderPortfolio(e.app.Game, st)
			return nil
		},
	}
}

func newTransactionsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "transactions",
		Short: "Show your trades, or every trade for the teacher",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			if acc.CanViewAllData() {
				renderTransactions("ALL TRANSACTIONS", e.app.Game.AllTransactions(), true)
				return nil
			}
			if err := acc.Require(acc.CanViewOwnPortfolio()); err != nil {
				return err
			}
			st, _ := acc.CurrentStudent()
			renderTransactions("TRANSACTIONS: "+st.Name, studentLedger(st), false)
			return nil
		},
	}
}

func newLeaderboardCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank students by total value",
		RunE: func(cmd *cobra.Command, args []string) error {
			renderLeaderboard(e.app.Game.Leaderboard())
			return nil
		},
	}
}

func newStudentsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "students",
		Short: "Show every student's portfolio (teacher)",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			if err := acc.Require(acc.CanViewAllData()); err != nil {
				return err
			}
			students := e.app.Game.Students()
			if len(students) == 0 {
				printInfo("No students yet.")
			}
			for _, st := range students {
				renderPortfolio(e.app.Game, st)
			}
			return nil
		},
	}
}

func newDayCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "day",
		Short: "Show or move the trading day",
		RunE: func(cmd *cobra.Command, args []string) error {
			printInfo(fmt.Sprintf("Day %d", e.app.Game.Day()))
			return nil
		},
	}

	advance := &cobra.Command{
		Use:   "advance [DAYS]",
		Short: "Close the day and move prices (teacher)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			if err := acc.Require(acc.CanModifyMarket()); err != nil {
				return err
			}
			days := 1
			if len(args) > 0 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 || n > 365 {
					return fmt.Errorf("days must be between 1 and 365")
				}
				days = n
			}
			e.app.Game.FastForward(days)
			printSuccess(fmt.Sprintf("Advanced to day %d.", e.app.Game.Day()))
			renderStocks(e.app.Game)
			return nil
		},
	}

	tick := &cobra.Command{
		Use:   "tick",
		Short: "Apply one intraday price move (teacher)",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			if err := acc.Require(acc.CanModifyMarket()); err != nil {
				return err
			}
			e.app.Game.UpdateStockPrices()
			renderStocks(e.app.Game)
			return nil
		},
	}

	cmd.AddCommand(advance, tick)
	return cmd
}

func newMarketCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Teacher market controls",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add TICKER NAME PRICE",
		Short: "List a new stock",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			if err := acc.Require(acc.CanModifyMarket()); err != nil {
				return err
			}
			price, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("price must be a number: %q", args[2])
			}
			s, err := e.app.Game.AddStock(args[0], args[1], price)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Listed %s (%s) at $%s", s.Ticker, s.Name, formatMoney(s.Price)))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Load the seed stocks into an empty market",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			if err := acc.Require(acc.CanModifyMarket()); err != nil {
				return err
			}
			seeded, err := e.app.Game.SeedStocks(nil)
			if err != nil {
				return err
			}
			if !seeded {
				printWarn("Market already has stocks; nothing seeded.")
				return nil
			}
			printSuccess(fmt.Sprintf("Seeded %d stocks.", len(e.app.Game.Stocks())))
			return nil
		},
	})
	return cmd
}

func newResetCmd(e *env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe all students and restore the seed market (teacher)",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			if err := acc.Require(acc.CanResetGame()); err != nil {
				return err
			}
			if !yes {
				answer, err := promptChoice("Reset the whole game? All student data will be lost", []string{"yes", "no"}, "no")
				if err != nil {
					return err
				}
				if answer != "yes" {
					printInfo("Reset cancelled.")
					return nil
				}
			}
			e.app.Game.ResetGame()
			printSuccess("Game reset to day 0.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func newBackupCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "backup [FILE]",
		Short: "Write the full game state as JSON (teacher)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			if err := acc.Require(acc.CanViewAllData()); err != nil {
				return err
			}
			data, err := e.app.Game.Backup()
			if err != nil {
				return err
			}
			path := fmt.Sprintf("stock_game_backup_day_%d.json", e.app.Game.Day())
			if len(args) > 0 {
				path = args[0]
			}
			if path == "-" {
				_, err := os.Stdout.Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return err
			}
			printSuccess("Backup written to " + path)
			return nil
		},
	}
}

func newRestoreCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "restore FILE",
		Short: "Replace the game state from a backup (teacher)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			if err := acc.Require(acc.CanResetGame()); err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := e.app.Game.Restore(data); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Restored day %d with %d students.", e.app.Game.Day(), len(e.app.Game.Students())))
			return nil
		},
	}
}

func newReportCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "report [FILE]",
		Short: "Export a CSV report: your own, or the whole class for the teacher",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := e.app.Access
			g := e.app.Game
			var (
				buf  bytes.Buffer
				path string
			)
			switch {
			case acc.CanViewAllData():
				if err := report.TeacherCSV(&buf, g); err != nil {
					return err
				}
				path = report.TeacherFilename(g.Day())
			case acc.CanViewOwnPortfolio():
				st, _ := acc.CurrentStudent()
				if err := report.StudentCSV(&buf, g, st.ID); err != nil {
					return err
				}
				path = report.StudentFilename(st.Name)
			default:
				return acc.Require(false)
			}
			if len(args) > 0 {
				path = args[0]
			}
			if path == "-" {
				_, err := os.Stdout.Write(buf.Bytes())
				return err
			}
			if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
				return err
			}
			printSuccess("Report written to " + path)
			return nil
		},
	}
}
