package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind selects how a code reduces a total.
type Kind string

const (
	KindPercent Kind = "percent"
	KindFixed   Kind = "fixed"
)

var hundred = decimal.NewFromInt(100)

// Code is a promotional code definition. Value is in percentage points for
// KindPercent and in currency units for KindFixed. A nil ExpiresAt and a zero
// UsageLimit mean the corresponding check is skipped.
type Code struct {
	Code       string
	Kind       Kind
	Value      decimal.Decimal
	ExpiresAt  *time.Time
	UsageLimit int
	Used       int
}

// IsValid reports whether c can be applied at now.
func IsValid(c Code, now time.Time) bool {
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return false
	}
	if c.UsageLimit > 0 && c.Used >= c.UsageLimit {
		return false
	}
	return true
}

// Apply returns total reduced by c. Fixed discounts never go below zero.
func Apply(total decimal.Decimal, c Code) decimal.Decimal {
	switch c.Kind {
	case KindPercent:
		return total.Mul(decimal.NewFromInt(1).Sub(c.Value.Div(hundred)))
	case KindFixed:
		return decimal.Max(decimal.Zero, total.Sub(c.Value))
	default:
		return total
	}
}

// Percent is the percentage shown for c, zero for non-percent kinds.
func Percent(c Code) decimal.Decimal {
	if c.Kind == KindPercent {
		return c.Value
	}
	return decimal.Zero
}
