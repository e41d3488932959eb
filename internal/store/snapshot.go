package store

import (
	"encoding/json"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrMalformedSnapshot is returned by DecodeSnapshot for blobs that cannot be
// trusted. Callers start from an empty cart instead.
var ErrMalformedSnapshot = errors.New("malformed cart snapshot")

// Snapshot is the persisted part of a cart. IsOpen and every discount field
// are left out on purpose; they reset each session.
type Snapshot struct {
	Items      []domain.LineItem `json:"items"`
	TotalItems int               `json:"totalItems"`
	TotalPrice decimal.Decimal   `json:"totalPrice"`
}

// envelope is the stored layout: {"state": {...}, "version": 0}.
type envelope struct {
	State   *Snapshot `json:"state"`
	Version int       `json:"version"`
}

func SnapshotOf(state domain.CartState) Snapshot {
	items := make([]domain.LineItem, len(state.Items))
	copy(items, state.Items)
	return Snapshot{
		Items:      items,
		TotalItems: state.TotalItems,
		TotalPrice: state.TotalPrice,
	}
}

func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(envelope{State: &snap})
	if err != nil {
		return nil, errors.Wrap(err, "marshal snapshot")
	}
	return data, nil
}

// DecodeSnapshot parses a stored blob. A blob with lines that break the cart
// invariants (non-positive quantity, duplicate product or line ID, empty
// IDs) is
// rejected as malformed.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Snapshot{}, errors.Wrap(ErrMalformedSnapshot, err.Error())
	}
	if env.State == nil {
		return Snapshot{}, errors.Wrap(ErrMalformedSnapshot, "missing state")
	}

	seen := make(map[string]struct{}, len(env.State.Items))
	lineIDs := make(map[string]struct{}, len(env.State.Items))
	for _, item := range env.State.Items {
		if item.ID == "" || item.ProductID == "" {
			return Snapshot{}, errors.Wrap(ErrMalformedSnapshot, "line without id")
		}
		if item.Quantity <= 0 {
			return Snapshot{}, errors.Wrapf(ErrMalformedSnapshot, "line %s has quantity %d", item.ID, item.Quantity)
		}
		if _, dup := seen[item.ProductID]; dup {
			return Snapshot{}, errors.Wrapf(ErrMalformedSnapshot, "duplicate product %s", item.ProductID)
		}
		if _, dup := lineIDs[item.ID]; dup {
			return Snapshot{}, errors.Wrapf(ErrMalformedSnapshot, "duplicate line id %s", item.ID)
		}
		seen[item.ProductID] = struct{}{}
		lineIDs[item.ID] = struct{}{}
	}

	if env.State.Items == nil {
		env.State.Items = []domain.LineItem{}
	}
	return *env.State, nil
}
