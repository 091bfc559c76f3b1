// Package order keeps lead_cadence_order dense and unique within a cadence.
package order

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cadence-import/internal/model"
)

// LinkStore is the store surface the reconciler reads and writes.
type LinkStore interface {
	ActiveLinks(ctx context.Context, cadenceID int64) ([]model.Link, error)
	SetLinkOrders(ctx context.Context, orders []model.LinkOrder) error
}

// Assign sorts links by creation time, ties broken by lead id, and returns
// the order 1..N for every link in that sequence.
func Assign(links []model.Link) []model.LinkOrder {
	sorted := make([]model.Link, len(links))
	copy(sorted, links)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].LeadID < sorted[j].LeadID
	})

	out := make([]model.LinkOrder, len(sorted))
	for i, l := range sorted {
		out[i] = model.LinkOrder{LinkID: l.ID, Order: i + 1}
	}
	return out
}

// Changes returns the assignments from Assign whose order differs from the
// stored value.
func Changes(links []model.Link) []model.LinkOrder {
	current := make(map[int64]int, len(links))
	for _, l := range links {
		current[l.ID] = l.Order
	}
	var changed []model.LinkOrder
	for _, o := range Assign(links) {
		if current[o.LinkID] != o.Order {
			changed = append(changed, o)
		}
	}
	return changed
}

// Reconciler rewrites cadence order from persisted rows only. It holds no
// state, so concurrent runs for the same cadence converge on the same result.
type Reconciler struct {
	store LinkStore
}

// NewReconciler creates a Reconciler.
func NewReconciler(store LinkStore) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile restores orders 1..N over the active links of a cadence.
func (r *Reconciler) Reconcile(ctx context.Context, cadenceID int64) error {
	links, err := r.store.ActiveLinks(ctx, cadenceID)
	if err != nil {
		return eris.Wrapf(err, "order: load links for cadence %d", cadenceID)
	}

	changed := Changes(links)
	if len(changed) == 0 {
		return nil
	}
	if err := r.store.SetLinkOrders(ctx, changed); err != nil {
		return eris.Wrapf(err, "order: write orders for cadence %d", cadenceID)
	}

	zap.L().Debug("order: reconciled cadence",
		zap.Int64("cadence_id", cadenceID),
		zap.Int("links", len(links)),
		zap.Int("changed", len(changed)),
	)
	return nil
}
