// Package fieldmap resolves the per-company mapping from external field names
// to canonical lead attributes.
package fieldmap

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cadence-import/internal/model"
)

// ErrNotConfigured is returned when a company has no mapping for an
// integration type. No record of the batch can be normalized without one.
var ErrNotConfigured = eris.New("fieldmap: not configured")

// Getter is the read side of the field map store.
type Getter interface {
	GetFieldMap(ctx context.Context, companyID int64, integrationType model.IntegrationType) (*model.FieldMap, error)
}

// Resolver loads field maps from a store.
type Resolver struct {
	store Getter
}

// NewResolver creates a Resolver backed by store.
func NewResolver(store Getter) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the field map for a company and integration type, or an
// error wrapping ErrNotConfigured.
func (r *Resolver) Resolve(ctx context.Context, companyID int64, integrationType model.IntegrationType) (*model.FieldMap, error) {
	if !integrationType.Valid() {
		return nil, eris.Wrapf(ErrNotConfigured, "fieldmap: unknown integration type %q", integrationType)
	}

	fm, err := r.store.GetFieldMap(ctx, companyID, integrationType)
	if err != nil {
		return nil, eris.Wrapf(err, "fieldmap: resolve %d/%s", companyID, integrationType)
	}
	if fm == nil || (len(fm.Scalars) == 0 && len(fm.Phones) == 0 && len(fm.Emails) == 0) {
		return nil, eris.Wrapf(ErrNotConfigured, "fieldmap: company %d has no %s mapping", companyID, integrationType)
	}
	return fm, nil
}
