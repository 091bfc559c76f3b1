package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cadence-import/internal/model"
)

// ErrAlreadyPresent is returned when a create collides with a uniqueness
// constraint (lead triple, account triple, or lead/cadence link).
var ErrAlreadyPresent = eris.New("store: record already present")

// Store defines the persistence interface for the import pipeline. Lookups
// return (nil, nil) when nothing matches.
type Store interface {
	// Field maps
	GetFieldMap(ctx context.Context, companyID int64, integrationType model.IntegrationType) (*model.FieldMap, error)
	SaveFieldMap(ctx context.Context, fm *model.FieldMap) error

	// Cadences and users
	GetCadence(ctx context.Context, cadenceID int64) (*model.Cadence, error)
	GetUserByIntegrationID(ctx context.Context, companyID int64, integrationID string) (*model.User, error)

	// Accounts
	FindAccount(ctx context.Context, companyID int64, integrationType model.IntegrationType, integrationID string) (*model.Account, error)
	CreateAccount(ctx context.Context, a *model.Account) error

	// Leads
	FindLead(ctx context.Context, companyID int64, integrationID string, integrationType model.IntegrationType) (*model.Lead, error)
	CreateLead(ctx context.Context, l *model.Lead) error
	UpdateLeadOwner(ctx context.Context, leadID, userID int64) error

	// Links
	GetLink(ctx context.Context, leadID, cadenceID int64) (*model.Link, error)
	CreateLink(ctx context.Context, l *model.Link) error
	StopOtherLinks(ctx context.Context, leadID, keepCadenceID int64) (int64, error)
	MaxLinkOrder(ctx context.Context, cadenceID int64) (int, error)
	ActiveLinks(ctx context.Context, cadenceID int64) ([]model.Link, error)
	SetLinkOrders(ctx context.Context, orders []model.LinkOrder) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
