package domain

import "github.com/shopspring/decimal"

// LineItem is one product entry in the cart. Price is the role-adjusted unit
// price captured when the product was first added and is never repriced.
type LineItem struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	ImageURL   string          `json:"imageUrl,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// CartState is the full cart as seen by the UI layer.
type CartState struct {
	Items           []LineItem      `json:"items"`
	IsOpen          bool            `json:"isOpen"`
	TotalItems      int             `json:"totalItems"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	DiscountCode    string          `json:"discountCode,omitempty"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	DiscountedTotal decimal.Decimal `json:"discountedTotal"`
}

// Clone returns a copy that shares no memory with s.
func (s CartState) Clone() CartState {
	c := s
	c.Items = make([]LineItem, len(s.Items))
	copy(c.Items, s.Items)
	return c
}

// HasDiscount reports whether a discount code is active.
func (s CartState) HasDiscount() bool {
	return s.DiscountCode != ""
}

// Product is the add-to-cart payload. Price is the base price before any role
// multiplier. ID is optional; a line ID is generated when it is empty.
// Quantity of zero or less means one.
type Product struct {
	ID        string
	ProductID string
	Name      string
	ImageURL  string
	Price     decimal.Decimal
	Quantity  int
}
