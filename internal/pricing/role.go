package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Role is the purchasing role of the current user, supplied by the
// authentication layer.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleBuyer   Role = "buyer"
)

var (
	neutral = decimal.NewFromInt(1)

	multipliers = map[Role]decimal.Decimal{
		RoleAdmin:   decimal.RequireFromString("0.90"),
		RoleManager: decimal.RequireFromString("1.00"),
		RoleBuyer:   decimal.RequireFromString("1.20"),
	}
)

// ParseRole normalizes s into a Role. The second result is false when the
// role is not one of the known roles; such a role still prices neutrally.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := multipliers[r]
	return r, ok
}

// Multiplier returns the price factor for role. Unknown roles get 1.
func Multiplier(role Role) decimal.Decimal {
	if m, ok := multipliers[role]; ok {
		return m
	}
	return neutral
}

// EffectivePrice applies the role multiplier to a base price.
func EffectivePrice(base decimal.Decimal, role Role) decimal.Decimal {
	return base.Mul(Multiplier(role))
}
