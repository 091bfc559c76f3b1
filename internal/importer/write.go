package importer

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/cadence-import/internal/access"
	"github.com/sells-group/cadence-import/internal/model"
	"github.com/sells-group/cadence-import/internal/store"
	"github.com/sells-group/cadence-import/internal/tasks"
)

// linkExisting attaches an existing lead to the cadence. The lead is
// reassigned to the resolved owner; an existing link is left as is.
func (im *Importer) linkExisting(ctx context.Context, b *batch, d access.Decision, user *model.User) (model.Action, error) {
	if d.Lead.UserID != user.ID {
		if err := im.store.UpdateLeadOwner(ctx, d.Lead.ID, user.ID); err != nil {
			return "", eris.Wrapf(err, "importer: reassign lead %d", d.Lead.ID)
		}
	}

	if d.AlreadyLinked {
		if b.StopPreviousCadences {
			im.stopOthers(ctx, b, d.Lead.ID)
		}
		return model.ActionPresent, nil
	}

	created, err := im.link(ctx, b, d.Lead.ID, user)
	if err != nil {
		return "", err
	}
	if !created {
		return model.ActionPresent, nil
	}
	return model.ActionLinked, nil
}

// createNew writes account, lead and link for a record with no lead yet.
func (im *Importer) createNew(ctx context.Context, b *batch, draft model.DraftRecord, user *model.User) (int64, error) {
	var accountID *int64
	if !draft.Account.Empty() && (draft.Account.Name != "" || draft.Account.IntegrationID != "") {
		id, err := im.account(ctx, b, draft, user)
		if err != nil {
			return 0, err
		}
		accountID = &id
	}

	lead := &model.Lead{
		CompanyID:       b.CompanyID,
		UserID:          user.ID,
		AccountID:       accountID,
		IntegrationID:   draft.IntegrationID,
		IntegrationType: draft.IntegrationType,
		FirstName:       draft.FirstName,
		LastName:        draft.LastName,
		JobPosition:     draft.JobPosition,
		LinkedinURL:     draft.LinkedinURL,
		URL:             draft.URL,
		Phones:          draft.Phones,
		Emails:          draft.Emails,
	}
	if err := im.store.CreateLead(ctx, lead); err != nil {
		return 0, err
	}

	if _, err := im.link(ctx, b, lead.ID, user); err != nil {
		return lead.ID, err
	}
	return lead.ID, nil
}

// link creates the lead/cadence link with the next batch order. It reports
// false when a concurrent import created the same link first.
func (im *Importer) link(ctx context.Context, b *batch, leadID int64, user *model.User) (bool, error) {
	l := &model.Link{
		LeadID:    leadID,
		CadenceID: b.Cadence.ID,
		Status:    model.LinkActive,
		Order:     int(b.nextOrder.Add(1)),
	}
	err := im.store.CreateLink(ctx, l)
	if errors.Is(err, store.ErrAlreadyPresent) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "importer: link lead %d", leadID)
	}

	if b.StopPreviousCadences {
		im.stopOthers(ctx, b, leadID)
	}
	if b.Cadence.Status == model.CadenceInProgress {
		im.notifyLinked(ctx, b, leadID, user.ID)
	}
	return true, nil
}

func (im *Importer) stopOthers(ctx context.Context, b *batch, leadID int64) {
	n, err := im.store.StopOtherLinks(ctx, leadID, b.Cadence.ID)
	if err != nil {
		b.log.Warn("importer: stop previous cadences", zap.Int64("lead_id", leadID), zap.Error(err))
		return
	}
	if n > 0 {
		b.log.Debug("importer: stopped previous cadences", zap.Int64("lead_id", leadID), zap.Int64("links", n))
	}
}

// notifyLinked asks the task engine for the first task and a daily count
// refresh. Failures are logged and never change the record outcome.
func (im *Importer) notifyLinked(ctx context.Context, b *batch, leadID, userID int64) {
	if err := im.notifier.LeadLinked(ctx, tasks.FirstTask{LeadID: leadID, CadenceID: b.Cadence.ID, UserID: userID}); err != nil {
		b.log.Warn("importer: first task notification", zap.Int64("lead_id", leadID), zap.Error(err))
	}
	if err := im.notifier.RecalculateDailyTasks(ctx, userID); err != nil {
		b.log.Warn("importer: recalculate notification", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// accountCache maps account keys to ids for one batch, so rows sharing a
// company create it once.
type accountCache struct {
	mu    sync.RWMutex
	ids   map[string]int64
	group singleflight.Group
}

func newAccountCache() *accountCache {
	return &accountCache{ids: make(map[string]int64)}
}

func accountKey(a model.AccountDraft) string {
	if a.IntegrationID != "" {
		return "id:" + a.IntegrationID
	}
	return "name:" + strings.ToLower(a.Name)
}

// account finds or creates the draft's account.
func (im *Importer) account(ctx context.Context, b *batch, draft model.DraftRecord, user *model.User) (int64, error) {
	key := accountKey(draft.Account)

	b.accounts.mu.RLock()
	id, ok := b.accounts.ids[key]
	b.accounts.mu.RUnlock()
	if ok {
		return id, nil
	}

	v, err, _ := b.accounts.group.Do(key, func() (any, error) {
		b.accounts.mu.RLock()
		id, ok := b.accounts.ids[key]
		b.accounts.mu.RUnlock()
		if ok {
			return id, nil
		}

		id, err := im.findOrCreateAccount(ctx, b, draft, user)
		if err != nil {
			return int64(0), err
		}
		b.accounts.mu.Lock()
		b.accounts.ids[key] = id
		b.accounts.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (im *Importer) findOrCreateAccount(ctx context.Context, b *batch, draft model.DraftRecord, user *model.User) (int64, error) {
	extID := draft.Account.IntegrationID
	if extID != "" {
		existing, err := im.store.FindAccount(ctx, b.CompanyID, draft.IntegrationType, extID)
		if err != nil {
			return 0, eris.Wrapf(err, "importer: find account %s", extID)
		}
		if existing != nil {
			return existing.ID, nil
		}
	}

	name := draft.Account.Name
	if name == "" {
		name = extID
	}
	acc := &model.Account{
		CompanyID:       b.CompanyID,
		UserID:          user.ID,
		IntegrationID:   extID,
		IntegrationType: draft.IntegrationType,
		Name:            name,
		Size:            draft.Account.Size,
		Country:         draft.Account.Country,
		Zipcode:         draft.Account.Zipcode,
		PhoneNumber:     draft.Account.PhoneNumber,
		URL:             draft.Account.URL,
	}
	err := im.store.CreateAccount(ctx, acc)
	if errors.Is(err, store.ErrAlreadyPresent) && extID != "" {
		// Created by a concurrent batch since the lookup.
		existing, ferr := im.store.FindAccount(ctx, b.CompanyID, draft.IntegrationType, extID)
		if ferr == nil && existing != nil {
			return existing.ID, nil
		}
	}
	if err != nil {
		return 0, eris.Wrap(err, "importer: create account")
	}
	return acc.ID, nil
}
