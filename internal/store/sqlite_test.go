package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cadence-import/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedUser(t *testing.T, st *SQLiteStore, companyID, sdID int64, integrationID string) int64 {
	t.Helper()
	res, err := st.db.Exec(`INSERT INTO users (company_id, sd_id, integration_id, first_name) VALUES (?, ?, ?, ?)`,
		companyID, sdID, integrationID, "Owner")
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func seedCadence(t *testing.T, st *SQLiteStore, companyID, userID int64, typ model.CadenceType, status model.CadenceStatus) int64 {
	t.Helper()
	res, err := st.db.Exec(`INSERT INTO cadences (company_id, user_id, sd_id, name, type, status) VALUES (?, ?, ?, ?, ?, ?)`,
		companyID, userID, 0, "Outbound", string(typ), string(status))
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestSQLiteStore_ImplementsStore(t *testing.T) {
	var _ Store = (*SQLiteStore)(nil)
}

func TestSQLite_FieldMap_SaveAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	fm := &model.FieldMap{
		CompanyID:       1,
		IntegrationType: model.IntegrationCSV,
		Scalars: map[model.Attribute]string{
			model.AttrFirstName: "First Name",
			model.AttrOwnerID:   "Owner",
		},
		Emails: []model.Slot{{Type: "work", Column: "Email"}},
	}
	require.NoError(t, st.SaveFieldMap(ctx, fm))

	got, err := st.GetFieldMap(ctx, 1, model.IntegrationCSV)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "First Name", got.Column(model.AttrFirstName))
	assert.Equal(t, fm.Emails, got.Emails)

	// Saving again replaces the mapping.
	fm.Scalars[model.AttrFirstName] = "Prenom"
	require.NoError(t, st.SaveFieldMap(ctx, fm))
	got, err = st.GetFieldMap(ctx, 1, model.IntegrationCSV)
	require.NoError(t, err)
	assert.Equal(t, "Prenom", got.Column(model.AttrFirstName))
}

func TestSQLite_FieldMap_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetFieldMap(context.Background(), 1, model.IntegrationExcel)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_GetUserAndCadence(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	userID := seedUser(t, st, 1, 3, "005A")
	cadenceID := seedCadence(t, st, 1, userID, model.CadenceTeam, model.CadenceInProgress)

	u, err := st.GetUserByIntegrationID(ctx, 1, "005A")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, userID, u.ID)
	assert.Equal(t, int64(3), u.SdID)

	missing, err := st.GetUserByIntegrationID(ctx, 2, "005A")
	require.NoError(t, err)
	assert.Nil(t, missing)

	c, err := st.GetCadence(ctx, cadenceID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, model.CadenceTeam, c.Type)
	assert.Equal(t, model.CadenceInProgress, c.Status)
}

func TestSQLite_CreateLead_Unique(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	userID := seedUser(t, st, 1, 0, "005A")

	lead := &model.Lead{
		CompanyID:       1,
		UserID:          userID,
		IntegrationID:   "00Q1",
		IntegrationType: model.IntegrationSalesforceLead,
		FirstName:       "Jane",
		Phones:          []model.TypedValue{{Type: "mobile", Value: "0612345678"}},
		Emails:          []model.TypedValue{{Type: "work", Value: "jane@acme.com"}},
	}
	require.NoError(t, st.CreateLead(ctx, lead))
	assert.NotZero(t, lead.ID)

	dup := &model.Lead{
		CompanyID:       1,
		UserID:          userID,
		IntegrationID:   "00Q1",
		IntegrationType: model.IntegrationSalesforceLead,
		FirstName:       "Jane",
	}
	err := st.CreateLead(ctx, dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyPresent)

	// Same integration id under another integration type is a different lead.
	other := &model.Lead{
		CompanyID:       1,
		UserID:          userID,
		IntegrationID:   "00Q1",
		IntegrationType: model.IntegrationSalesforceContact,
		FirstName:       "Jane",
	}
	require.NoError(t, st.CreateLead(ctx, other))

	found, err := st.FindLead(ctx, 1, "00Q1", model.IntegrationSalesforceLead)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, lead.ID, found.ID)
	assert.Nil(t, found.AccountID)

	var phones int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM lead_phone_numbers WHERE lead_id = ?`, lead.ID).Scan(&phones))
	assert.Equal(t, 1, phones)
}

func TestSQLite_Account_CreateAndFind(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	acc := &model.Account{
		CompanyID:       1,
		UserID:          1,
		IntegrationID:   "001A",
		IntegrationType: model.IntegrationSalesforceContact,
		Name:            "Acme",
	}
	require.NoError(t, st.CreateAccount(ctx, acc))
	assert.NotZero(t, acc.ID)

	found, err := st.FindAccount(ctx, 1, model.IntegrationSalesforceContact, "001A")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Acme", found.Name)

	err = st.CreateAccount(ctx, &model.Account{
		CompanyID:       1,
		UserID:          1,
		IntegrationID:   "001A",
		IntegrationType: model.IntegrationSalesforceContact,
		Name:            "Acme again",
	})
	assert.ErrorIs(t, err, ErrAlreadyPresent)

	// Accounts without an integration id never collide.
	require.NoError(t, st.CreateAccount(ctx, &model.Account{CompanyID: 1, UserID: 1, IntegrationType: model.IntegrationCSV, Name: "A"}))
	require.NoError(t, st.CreateAccount(ctx, &model.Account{CompanyID: 1, UserID: 1, IntegrationType: model.IntegrationCSV, Name: "A"}))
}

func TestSQLite_Links(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	userID := seedUser(t, st, 1, 0, "005A")
	cadenceID := seedCadence(t, st, 1, userID, model.CadencePersonal, model.CadenceNotStarted)
	otherCadenceID := seedCadence(t, st, 1, userID, model.CadencePersonal, model.CadenceInProgress)

	var leadIDs []int64
	for _, id := range []string{"a", "b", "c"} {
		l := &model.Lead{CompanyID: 1, UserID: userID, IntegrationID: id, IntegrationType: model.IntegrationCSV, FirstName: id}
		require.NoError(t, st.CreateLead(ctx, l))
		leadIDs = append(leadIDs, l.ID)
	}

	for i, leadID := range leadIDs {
		require.NoError(t, st.CreateLink(ctx, &model.Link{LeadID: leadID, CadenceID: cadenceID, Order: i + 5}))
	}
	require.NoError(t, st.CreateLink(ctx, &model.Link{LeadID: leadIDs[0], CadenceID: otherCadenceID, Order: 1}))

	err := st.CreateLink(ctx, &model.Link{LeadID: leadIDs[0], CadenceID: cadenceID, Order: 99})
	assert.ErrorIs(t, err, ErrAlreadyPresent)

	maxOrder, err := st.MaxLinkOrder(ctx, cadenceID)
	require.NoError(t, err)
	assert.Equal(t, 7, maxOrder)

	links, err := st.ActiveLinks(ctx, cadenceID)
	require.NoError(t, err)
	require.Len(t, links, 3)

	orders := make([]model.LinkOrder, 0, len(links))
	for i, l := range links {
		orders = append(orders, model.LinkOrder{LinkID: l.ID, Order: i + 1})
	}
	require.NoError(t, st.SetLinkOrders(ctx, orders))

	link, err := st.GetLink(ctx, leadIDs[2], cadenceID)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, 3, link.Order)
	assert.Equal(t, model.LinkActive, link.Status)

	n, err := st.StopOtherLinks(ctx, leadIDs[0], cadenceID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stopped, err := st.GetLink(ctx, leadIDs[0], otherCadenceID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkStopped, stopped.Status)

	missing, err := st.GetLink(ctx, leadIDs[1], otherCadenceID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_UpdateLeadOwner(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	l := &model.Lead{CompanyID: 1, UserID: 1, IntegrationID: "x", IntegrationType: model.IntegrationExtension, FirstName: "X"}
	require.NoError(t, st.CreateLead(ctx, l))
	require.NoError(t, st.UpdateLeadOwner(ctx, l.ID, 9))

	found, err := st.FindLead(ctx, 1, "x", model.IntegrationExtension)
	require.NoError(t, err)
	assert.Equal(t, int64(9), found.UserID)
}
