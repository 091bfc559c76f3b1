// Package access decides whether a draft record creates a new lead, links an
// existing one, or is refused for the target cadence.
package access

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cadence-import/internal/model"
)

// ErrAccessDenied is the error form of an AccessDenied decision.
var ErrAccessDenied = eris.New("access: owner cannot link leads into cadence")

// DecisionKind enumerates link decisions.
type DecisionKind int

const (
	// AbsentCreateNew means no lead exists and the owner may create one.
	AbsentCreateNew DecisionKind = iota
	// PresentLinkExisting means the lead exists and should be linked.
	PresentLinkExisting
	// AccessDenied means the owner may not link into the cadence.
	AccessDenied
)

func (k DecisionKind) String() string {
	switch k {
	case AbsentCreateNew:
		return "absent_create_new"
	case PresentLinkExisting:
		return "present_link_existing"
	case AccessDenied:
		return "access_denied"
	default:
		return "unknown"
	}
}

// Decision is the checker's verdict for one draft.
type Decision struct {
	Kind DecisionKind
	// Lead is set for PresentLinkExisting.
	Lead *model.Lead
	// Link is the existing link into the target cadence, if any.
	Link *model.Link
	// AlreadyLinked is true when Link is set.
	AlreadyLinked bool
}

// Lookup is the store surface the checker reads.
type Lookup interface {
	FindLead(ctx context.Context, companyID int64, integrationID string, integrationType model.IntegrationType) (*model.Lead, error)
	GetLink(ctx context.Context, leadID, cadenceID int64) (*model.Link, error)
}

// Checker runs the duplicate and access checks.
type Checker struct {
	store Lookup
}

// NewChecker creates a Checker.
func NewChecker(store Lookup) *Checker {
	return &Checker{store: store}
}

// Check looks the draft up by (company, integration id, integration type).
// A lead already linked to the cadence is reported as present without
// re-evaluating access, since that link already exists. Otherwise the owner
// must be allowed into the cadence before anything is written.
func (c *Checker) Check(ctx context.Context, draft model.DraftRecord, owner *model.User, cadence *model.Cadence) (Decision, error) {
	if owner == nil || cadence == nil {
		return Decision{}, eris.New("access: owner and cadence are required")
	}

	lead, err := c.store.FindLead(ctx, cadence.CompanyID, draft.IntegrationID, draft.IntegrationType)
	if err != nil {
		return Decision{}, eris.Wrapf(err, "access: find lead %s", draft.IntegrationID)
	}

	if lead != nil {
		link, err := c.store.GetLink(ctx, lead.ID, cadence.ID)
		if err != nil {
			return Decision{}, eris.Wrapf(err, "access: get link %d/%d", lead.ID, cadence.ID)
		}
		if link != nil {
			return Decision{Kind: PresentLinkExisting, Lead: lead, Link: link, AlreadyLinked: true}, nil
		}
	}

	if !Allowed(owner, cadence) {
		return Decision{Kind: AccessDenied, Lead: lead}, nil
	}
	if lead != nil {
		return Decision{Kind: PresentLinkExisting, Lead: lead}, nil
	}
	return Decision{Kind: AbsentCreateNew}, nil
}

// Allowed applies the cadence visibility rule to an owner. Personal cadences
// admit only their creator, team cadences the creator's sub-department, and
// company cadences any user of the company.
func Allowed(owner *model.User, cadence *model.Cadence) bool {
	if owner.CompanyID != cadence.CompanyID {
		return false
	}
	switch cadence.Type {
	case model.CadencePersonal:
		return owner.ID == cadence.UserID
	case model.CadenceTeam:
		return owner.SdID == cadence.SdID
	case model.CadenceCompany:
		return true
	default:
		return false
	}
}
