package store

import (
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/pricing"
)

// Action is a cart mutation that can be passed around as a value, for UI
// bindings that dispatch rather than call methods.
type Action interface {
	// Name identifies the action in logs and metrics.
	Name() string
	apply(s *Store)
}

type AddItemAction struct {
	Product domain.Product
	Role    pricing.Role
}

type RemoveItemAction struct {
	LineID string
}

type UpdateQuantityAction struct {
	LineID   string
	Quantity int
}

type ClearCartAction struct{}

type ApplyDiscountAction struct {
	Code string
}

type RemoveDiscountAction struct{}

type ToggleCartAction struct{}

type OpenCartAction struct{}

type CloseCartAction struct{}

func (AddItemAction) Name() string        { return "add_item" }
func (RemoveItemAction) Name() string     { return "remove_item" }
func (UpdateQuantityAction) Name() string { return "update_quantity" }
func (ClearCartAction) Name() string      { return "clear_cart" }
func (ApplyDiscountAction) Name() string  { return "apply_discount" }
func (RemoveDiscountAction) Name() string { return "remove_discount" }
func (ToggleCartAction) Name() string     { return "toggle_cart" }
func (OpenCartAction) Name() string       { return "open_cart" }
func (CloseCartAction) Name() string      { return "close_cart" }

func (a AddItemAction) apply(s *Store)        { s.AddItem(a.Product, a.Role) }
func (a RemoveItemAction) apply(s *Store)     { s.RemoveItem(a.LineID) }
func (a UpdateQuantityAction) apply(s *Store) { s.UpdateQuantity(a.LineID, a.Quantity) }
func (ClearCartAction) apply(s *Store)        { s.ClearCart() }
func (a ApplyDiscountAction) apply(s *Store)  { s.ApplyDiscountCode(a.Code) }
func (RemoveDiscountAction) apply(s *Store)   { s.RemoveDiscountCode() }
func (ToggleCartAction) apply(s *Store)       { s.ToggleCart() }
func (OpenCartAction) apply(s *Store)         { s.OpenCart() }
func (CloseCartAction) apply(s *Store)        { s.CloseCart() }

// Dispatch applies a and returns the state right after it.
//
// The returned state reflects a alone only when no other goroutine mutates
// the store concurrently.
func (s *Store) Dispatch(a Action) domain.CartState {
	a.apply(s)
	return s.Snapshot()
}
