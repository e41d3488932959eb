package discount

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Registry is a fixed list of discount codes. It is safe for concurrent use
// because it is never mutated after construction.
type Registry struct {
	codes []Code
}

// NewRegistry builds a registry over codes. The slice is copied.
func NewRegistry(codes []Code) *Registry {
	c := make([]Code, len(codes))
	copy(c, codes)
	return &Registry{codes: c}
}

// DefaultCodes is the compiled-in code list.
func DefaultCodes() []Code {
	welcomeExpiry := time.Date(2099, time.December, 31, 0, 0, 0, 0, time.UTC)
	return []Code{
		{Code: "SAVE10", Kind: KindPercent, Value: decimal.NewFromInt(10)},
		{Code: "SAVE20", Kind: KindPercent, Value: decimal.NewFromInt(20)},
		{Code: "WELCOME5", Kind: KindFixed, Value: decimal.NewFromInt(5), ExpiresAt: &welcomeExpiry},
	}
}

// FindCode looks code up case-insensitively. A miss is reported through the
// boolean, never as an error.
func (r *Registry) FindCode(code string) (Code, bool) {
	for _, c := range r.codes {
		if strings.EqualFold(c.Code, code) {
			return c, true
		}
	}
	return Code{}, false
}

// Codes returns a copy of the registered codes.
func (r *Registry) Codes() []Code {
	c := make([]Code, len(r.codes))
	copy(c, r.codes)
	return c
}
