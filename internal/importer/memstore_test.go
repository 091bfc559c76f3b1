package importer

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cadence-import/internal/model"
	"github.com/sells-group/cadence-import/internal/store"
)

// memStore is an in-memory store.Store with the same uniqueness rules as the
// SQL schemas. Hooks let tests inject failures.
type memStore struct {
	mu   sync.Mutex
	seq  int64
	tick int64

	fieldMaps map[string]*model.FieldMap
	users     []model.User
	cadences  map[int64]*model.Cadence
	accounts  map[int64]*model.Account
	leads     map[int64]*model.Lead
	links     map[int64]*model.Link

	createLeadHook func(l *model.Lead) error
	findLeadHook   func(integrationID string) error
}

var _ store.Store = (*memStore)(nil)

var memEpoch = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func newMemStore() *memStore {
	return &memStore{
		fieldMaps: make(map[string]*model.FieldMap),
		cadences:  make(map[int64]*model.Cadence),
		accounts:  make(map[int64]*model.Account),
		leads:     make(map[int64]*model.Lead),
		links:     make(map[int64]*model.Link),
	}
}

func (m *memStore) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *memStore) now() time.Time {
	m.tick++
	return memEpoch.Add(time.Duration(m.tick) * time.Millisecond)
}

func fmKey(companyID int64, it model.IntegrationType) string {
	return string(it) + "/" + strconv.FormatInt(companyID, 10)
}

func (m *memStore) GetFieldMap(_ context.Context, companyID int64, it model.IntegrationType) (*model.FieldMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fieldMaps[fmKey(companyID, it)], nil
}

func (m *memStore) SaveFieldMap(_ context.Context, fm *model.FieldMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fieldMaps[fmKey(fm.CompanyID, fm.IntegrationType)] = fm
	return nil
}

func (m *memStore) GetCadence(_ context.Context, id int64) (*model.Cadence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cadences[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetUserByIntegrationID(_ context.Context, companyID int64, integrationID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.CompanyID == companyID && u.IntegrationID == integrationID {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindAccount(_ context.Context, companyID int64, it model.IntegrationType, integrationID string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.CompanyID == companyID && a.IntegrationType == it && a.IntegrationID == integrationID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateAccount(_ context.Context, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.IntegrationID != "" {
		for _, existing := range m.accounts {
			if existing.CompanyID == a.CompanyID && existing.IntegrationType == a.IntegrationType && existing.IntegrationID == a.IntegrationID {
				return eris.Wrap(store.ErrAlreadyPresent, "mem: account")
			}
		}
	}
	a.ID = m.nextID()
	a.CreatedAt = m.now()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memStore) FindLead(_ context.Context, companyID int64, integrationID string, it model.IntegrationType) (*model.Lead, error) {
	if m.findLeadHook != nil {
		if err := m.findLeadHook(integrationID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.leads {
		if l.CompanyID == companyID && l.IntegrationID == integrationID && l.IntegrationType == it {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateLead(_ context.Context, l *model.Lead) error {
	if m.createLeadHook != nil {
		if err := m.createLeadHook(l); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.leads {
		if existing.CompanyID == l.CompanyID && existing.IntegrationID == l.IntegrationID && existing.IntegrationType == l.IntegrationType {
			return eris.Wrap(store.ErrAlreadyPresent, "mem: lead")
		}
	}
	l.ID = m.nextID()
	l.CreatedAt = m.now()
	cp := *l
	m.leads[l.ID] = &cp
	return nil
}

func (m *memStore) UpdateLeadOwner(_ context.Context, leadID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leads[leadID]; ok {
		l.UserID = userID
	}
	return nil
}

func (m *memStore) GetLink(_ context.Context, leadID, cadenceID int64) (*model.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.LeadID == leadID && l.CadenceID == cadenceID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateLink(_ context.Context, l *model.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.links {
		if existing.LeadID == l.LeadID && existing.CadenceID == l.CadenceID {
			return eris.Wrap(store.ErrAlreadyPresent, "mem: link")
		}
	}
	if l.Status == "" {
		l.Status = model.LinkActive
	}
	l.ID = m.nextID()
	l.CreatedAt = m.now()
	cp := *l
	m.links[l.ID] = &cp
	return nil
}

func (m *memStore) StopOtherLinks(_ context.Context, leadID, keepCadenceID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, l := range m.links {
		if l.LeadID == leadID && l.CadenceID != keepCadenceID && l.Status == model.LinkActive {
			l.Status = model.LinkStopped
			n++
		}
	}
	return n, nil
}

func (m *memStore) MaxLinkOrder(_ context.Context, cadenceID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	maxOrder := 0
	for _, l := range m.links {
		if l.CadenceID == cadenceID && l.Status == model.LinkActive && l.Order > maxOrder {
			maxOrder = l.Order
		}
	}
	return maxOrder, nil
}

func (m *memStore) ActiveLinks(_ context.Context, cadenceID int64) ([]model.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Link
	for _, l := range m.links {
		if l.CadenceID == cadenceID && l.Status == model.LinkActive {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].LeadID < out[j].LeadID
	})
	return out, nil
}

func (m *memStore) SetLinkOrders(_ context.Context, orders []model.LinkOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range orders {
		if l, ok := m.links[o.LinkID]; ok {
			l.Order = o.Order
		}
	}
	return nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

// seedLead inserts a lead directly, bypassing hooks.
func (m *memStore) seedLead(l model.Lead) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.nextID()
	l.CreatedAt = m.now()
	m.leads[l.ID] = &l
	return l.ID
}

// seedLink inserts a link directly.
func (m *memStore) seedLink(l model.Link) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.nextID()
	l.CreatedAt = m.now()
	if l.Status == "" {
		l.Status = model.LinkActive
	}
	m.links[l.ID] = &l
	return l.ID
}

func (m *memStore) leadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leads)
}

func (m *memStore) accountCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// orders returns active link orders of a cadence keyed by lead id.
func (m *memStore) orders(cadenceID int64) map[int64]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]int)
	for _, l := range m.links {
		if l.CadenceID == cadenceID && l.Status == model.LinkActive {
			out[l.LeadID] = l.Order
		}
	}
	return out
}
