package game

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

const (
	// SnapshotKey is the key-value entry holding the whole game.
	SnapshotKey = "stockGameState"

	MaxHistory = 100
)

var (
	StartingCash = decimal.NewFromInt(1000)
	MinPrice     = decimal.New(1, -2) // 0.01
	IntradayMin  = decimal.NewFromInt(1)
)

var (
	ErrDuplicateName       = errors.New("student name already exists")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientShares  = errors.New("not enough shares")
	ErrPersistence         = errors.New("persist game state")
	ErrInvalidSnapshot     = errors.New("invalid snapshot")
	ErrInvalidStock        = errors.New("invalid stock")
	ErrStudentNotFound     = errors.New("student not found")
	ErrStockNotFound       = errors.New("stock not found")
	ErrInvalidStudentName  = errors.New("student name is required")
	ErrDuplicateTicker     = errors.New("ticker already listed")
	ErrNonPositivePrice    = errors.New("price must be > 0")
	ErrNonPositiveQuantity = errors.New("quantity must be > 0")
)

var tickerRE = regexp.MustCompile(`^[A-Z0-9.]{1,8}$`)

func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func ValidateTicker(ticker string) error {
	if !tickerRE.MatchString(ticker) {
		return ErrInvalidStock
	}
	return nil
}

// RoundCents rounds half away from zero, matching how prices are displayed.
func RoundCents(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

var folder = cases.Fold()

// nameKey is the identity used for case-insensitive name comparison.
func nameKey(name string) string {
	return folder.String(strings.TrimSpace(name))
}

// SameName reports whether two display names collide.
func SameName(a, b string) bool {
	return nameKey(a) == nameKey(b)
}
