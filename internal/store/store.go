package store

import (
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/discount"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CodeFinder resolves discount codes. *discount.Registry implements it.
type CodeFinder interface {
	FindCode(code string) (discount.Code, bool)
}

// Listener receives the cart state after every action. Listeners run in
// mutation order and must not call mutating Store methods.
type Listener func(domain.CartState)

// Store owns one cart. Every action is applied atomically and leaves the
// derived totals exact before it returns; no action fails.
type Store struct {
	mu     sync.RWMutex
	state  domain.CartState
	active *discount.Code // live discount, nil when none

	codes     CodeFinder
	now       func() time.Time
	newLineID func(productID string) string

	// notifyMu keeps listener calls in the same order as mutations.
	notifyMu  sync.Mutex
	listeners map[uint64]Listener
	order     []uint64
	nextID    uint64
}

type Option func(*Store)

// WithClock overrides the time used for discount validity checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLineIDs overrides how line IDs are generated for products added
// without one.
func WithLineIDs(fn func(productID string) string) Option {
	return func(s *Store) { s.newLineID = fn }
}

// WithSnapshot seeds the store with a rehydrated snapshot.
func WithSnapshot(snap Snapshot) Option {
	return func(s *Store) {
		s.state.Items = make([]domain.LineItem, len(snap.Items))
		copy(s.state.Items, snap.Items)
	}
}

func New(codes CodeFinder, opts ...Option) *Store {
	s := &Store{
		state:     emptyState(),
		codes:     codes,
		now:       time.Now,
		newLineID: defaultLineID,
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recalculate()
	return s
}

func emptyState() domain.CartState {
	return domain.CartState{
		Items:           []domain.LineItem{},
		TotalPrice:      decimal.Zero,
		DiscountPercent: decimal.Zero,
		DiscountedTotal: decimal.Zero,
	}
}

func defaultLineID(productID string) string {
	return productID + "-" + uuid.NewString()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() domain.CartState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.order = append(s.order, id)

	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		delete(s.listeners, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// mutate applies fn under the write lock and then notifies listeners with
// the resulting state. notifyMu is taken before the state lock is released
// so concurrent mutations are observed in order.
func (s *Store) mutate(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.state.Clone()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, id := range s.order {
		s.listeners[id](snap)
	}
}

// AddItem adds product at the price role pays for it. Adding a product that
// is already in the cart increases that line's quantity and keeps the price
// captured on first add. A supplied ID already held by another line is
// replaced with a generated one.
func (s *Store) AddItem(product domain.Product, role pricing.Role) {
	qty := product.Quantity
	if qty <= 0 {
		qty = 1
	}

	s.mutate(func() {
		for i := range s.state.Items {
			if s.state.Items[i].ProductID == product.ProductID {
				s.state.Items[i].Quantity += qty
				s.recalculate()
				return
			}
		}

		id := product.ID
		if id == "" || s.hasLine(id) {
			id = s.newLineID(product.ProductID)
		}
		s.state.Items = append(s.state.Items, domain.LineItem{
			ID:        id,
			ProductID: product.ProductID,
			Name:      product.Name,
			ImageURL:  product.ImageURL,
			Price:     pricing.EffectivePrice(product.Price, role),
			Quantity:  qty,
		})
		s.recalculate()
	})
}

// RemoveItem drops the line with the given line ID. Unknown IDs are ignored.
func (s *Store) RemoveItem(lineID string) {
	s.mutate(func() {
		s.removeLine(lineID)
		s.recalculate()
	})
}

// UpdateQuantity sets a line's quantity. A quantity of zero or less removes
// the line.
func (s *Store) UpdateQuantity(lineID string, quantity int) {
	s.mutate(func() {
		if quantity <= 0 {
			s.removeLine(lineID)
		} else {
			for i := range s.state.Items {
				if s.state.Items[i].ID == lineID {
					s.state.Items[i].Quantity = quantity
					break
				}
			}
		}
		s.recalculate()
	})
}

// ClearCart empties the cart and drops any active discount.
func (s *Store) ClearCart() {
	s.mutate(func() {
		s.state.Items = []domain.LineItem{}
		s.clearDiscount()
		s.recalculate()
	})
}

// ApplyDiscountCode activates code against the current subtotal. An unknown
// or invalid code clears any active discount; callers detect the rejection
// from the empty DiscountCode in the resulting state.
func (s *Store) ApplyDiscountCode(code string) {
	s.mutate(func() {
		c, ok := s.codes.FindCode(code)
		if !ok || !discount.IsValid(c, s.now()) {
			s.clearDiscount()
			return
		}

		s.active = &c
		s.state.DiscountCode = code
		s.state.DiscountPercent = discount.Percent(c)
		s.state.DiscountedTotal = discount.Apply(s.state.TotalPrice, c)
	})
}

func (s *Store) RemoveDiscountCode() {
	s.mutate(s.clearDiscount)
}

func (s *Store) ToggleCart() {
	s.mutate(func() { s.state.IsOpen = !s.state.IsOpen })
}

func (s *Store) OpenCart() {
	s.mutate(func() { s.state.IsOpen = true })
}

func (s *Store) CloseCart() {
	s.mutate(func() { s.state.IsOpen = false })
}

// GetItemCount returns the quantity held for productID, zero if absent.
func (s *Store) GetItemCount(productID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.state.Items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}

func (s *Store) IsInCart(productID string) bool {
	return s.GetItemCount(productID) > 0
}

func (s *Store) hasLine(lineID string) bool {
	for _, item := range s.state.Items {
		if item.ID == lineID {
			return true
		}
	}
	return false
}

func (s *Store) removeLine(lineID string) {
	for i := range s.state.Items {
		if s.state.Items[i].ID == lineID {
			s.state.Items = append(s.state.Items[:i], s.state.Items[i+1:]...)
			return
		}
	}
}

func (s *Store) clearDiscount() {
	s.active = nil
	s.state.DiscountCode = ""
	s.state.DiscountPercent = decimal.Zero
	s.state.DiscountedTotal = decimal.Zero
}

// recalculate rebuilds every derived field from the item list.
func (s *Store) recalculate() {
	totalItems := 0
	totalPrice := decimal.Zero
	for i := range s.state.Items {
		item := &s.state.Items[i]
		item.TotalPrice = item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		totalItems += item.Quantity
		totalPrice = totalPrice.Add(item.TotalPrice)
	}
	s.state.TotalItems = totalItems
	s.state.TotalPrice = totalPrice

	if s.active != nil {
		s.state.DiscountedTotal = discount.Apply(totalPrice, *s.active)
	}
}
