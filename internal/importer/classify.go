package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/cadence-import/internal/access"
	"github.com/sells-group/cadence-import/internal/model"
	"github.com/sells-group/cadence-import/internal/normalize"
	"github.com/sells-group/cadence-import/internal/owner"
	"github.com/sells-group/cadence-import/internal/resilience"
	"github.com/sells-group/cadence-import/internal/store"
)

// classify maps a record error to its outcome kind and message. Storage
// uniqueness violations become "already present", never a raw error.
func classify(draft model.DraftRecord, err error) (model.ErrorKind, string) {
	if ve, ok := normalize.AsValidationError(err); ok {
		return ve.Kind, ve.Error()
	}
	switch {
	case errors.Is(err, owner.ErrUserNotFound):
		return model.ErrKindOwnerNotFound, fmt.Sprintf("owner %q not found in company", draft.OwnerID)
	case errors.Is(err, access.ErrAccessDenied):
		return model.ErrKindAccessDenied, "owner does not have access to this cadence"
	case errors.Is(err, store.ErrAlreadyPresent):
		return model.ErrKindAlreadyPresent, "lead already present in tool"
	case isUpstream(err):
		return model.ErrKindUpstream, "upstream service unavailable, retry the import later"
	default:
		return model.ErrKindInternal, "internal error while importing record"
	}
}

func isUpstream(err error) bool {
	return resilience.IsTransient(err) ||
		errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded)
}
