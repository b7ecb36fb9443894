package pricing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/digkill/QuickDatePay/internal/config"
	"github.com/digkill/QuickDatePay/internal/models"
)

var (
	ErrInvalidType   = errors.New("invalid purchase type")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidPrice  = errors.New("invalid price")
)

// Entry is a single catalog item: either a pro plan granting a tier, or a credit pack
// granting a quantity of credits.
type Entry struct {
	Name    string
	Price   int
	Kind    models.PaymentKind
	Tier    models.ProTier
	Credits int
}

// Table resolves submitted prices to catalog entries by exact equality.
type Table struct {
	entries []Entry
	pro     map[int]Entry
	credits map[int]Entry
}

func NewTable(cfg config.Pricing) *Table {
	entries := []Entry{
		{Name: "weekly_pro_plan", Price: cfg.WeeklyProPlan, Kind: models.KindPro, Tier: models.ProWeekly},
		{Name: "monthly_pro_plan", Price: cfg.MonthlyProPlan, Kind: models.KindPro, Tier: models.ProMonthly},
		{Name: "yearly_pro_plan", Price: cfg.YearlyProPlan, Kind: models.KindPro, Tier: models.ProYearly},
		{Name: "lifetime_pro_plan", Price: cfg.LifetimeProPlan, Kind: models.KindPro, Tier: models.ProLifetime},
		{Name: "bag_of_credits", Price: cfg.BagOfCreditsPrice, Kind: models.KindCredits, Credits: cfg.BagOfCreditsAmount},
		{Name: "box_of_credits", Price: cfg.BoxOfCreditsPrice, Kind: models.KindCredits, Credits: cfg.BoxOfCreditsAmount},
		{Name: "chest_of_credits", Price: cfg.ChestOfCreditsPrice, Kind: models.KindCredits, Credits: cfg.ChestOfCreditsAmount},
	}

	t := &Table{
		entries: entries,
		pro:     make(map[int]Entry),
		credits: make(map[int]Entry),
	}
	for _, e := range entries {
		target := t.credits
		if e.Kind == models.KindPro {
			target = t.pro
		}
		// First configured entry wins when two share a price.
		if _, exists := target[e.Price]; !exists {
			target[e.Price] = e
		}
	}
	return t
}

// Resolve maps a purchase type and price to exactly one catalog entry.
func (t *Table) Resolve(purchaseType string, price int) (Entry, error) {
	switch purchaseType {
	case models.TypeGoPro:
		if e, ok := t.pro[price]; ok {
			return e, nil
		}
		return Entry{}, fmt.Errorf("%w: no pro plan priced %d", ErrInvalidAmount, price)
	case models.TypeCredit:
		if e, ok := t.credits[price]; ok {
			return e, nil
		}
		return Entry{}, fmt.Errorf("%w: no credit pack priced %d", ErrInvalidAmount, price)
	default:
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidType, purchaseType)
	}
}

// Entries returns a copy of the catalog in configuration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ParsePrice accepts a positive decimal number and truncates it to whole units.
func ParsePrice(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, raw)
	}
	if f <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidPrice, raw)
	}
	if f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidPrice, raw)
	}
	return int(f), nil
}
