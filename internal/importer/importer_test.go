package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/cadence-import/internal/fieldmap"
	"github.com/sells-group/cadence-import/internal/model"
	"github.com/sells-group/cadence-import/internal/resilience"
	"github.com/sells-group/cadence-import/internal/tasks"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const (
	testCompany = int64(10)
	testCadence = int64(50)
)

type progressTick struct{ index, size int }

type fakeReporter struct {
	mu       sync.Mutex
	ticks    []progressTick
	results  []model.BatchResult
	sessions []string
}

func (r *fakeReporter) Progress(_ context.Context, sessionID string, index, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, progressTick{index, size})
	r.sessions = append(r.sessions, sessionID)
}

func (r *fakeReporter) Result(_ context.Context, sessionID string, result model.BatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.sessions = append(r.sessions, sessionID)
}

type fakeNotifier struct {
	mu      sync.Mutex
	first   []tasks.FirstTask
	recalcs []int64
	err     error
}

func (n *fakeNotifier) LeadLinked(_ context.Context, t tasks.FirstTask) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.first = append(n.first, t)
	return n.err
}

func (n *fakeNotifier) RecalculateDailyTasks(_ context.Context, userID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recalcs = append(n.recalcs, userID)
	return n.err
}

type fixture struct {
	store    *memStore
	reporter *fakeReporter
	notifier *fakeNotifier
	imp      *Importer
}

func newFixture(t *testing.T, cadenceType model.CadenceType, status model.CadenceStatus) *fixture {
	t.Helper()
	st := newMemStore()
	st.users = []model.User{
		{ID: 1, CompanyID: testCompany, SdID: 100, IntegrationID: "own-1"},
		{ID: 2, CompanyID: testCompany, SdID: 200, IntegrationID: "own-2"},
	}
	st.cadences[testCadence] = &model.Cadence{
		ID: testCadence, CompanyID: testCompany, UserID: 1, SdID: 100,
		Name: "Q3 outbound", Type: cadenceType, Status: status,
	}
	require.NoError(t, st.SaveFieldMap(context.Background(), &model.FieldMap{
		CompanyID:       testCompany,
		IntegrationType: model.IntegrationCSV,
		Scalars: map[model.Attribute]string{
			model.AttrID:          "Id",
			model.AttrFirstName:   "First",
			model.AttrLastName:    "Last",
			model.AttrOwnerID:     "Owner",
			model.AttrAccountName: "Company",
		},
		Emails: []model.Slot{{Type: "work", Column: "Email"}},
	}))

	rep := &fakeReporter{}
	not := &fakeNotifier{}
	imp := New(st, rep, not, Config{
		Concurrency:        4,
		CheckpointInterval: 10,
		Retry:              resilience.RetryConfig{MaxAttempts: 1},
	})
	return &fixture{store: st, reporter: rep, notifier: not, imp: imp}
}

func (f *fixture) job(t *testing.T, records []model.RawRecord) Job {
	t.Helper()
	job, err := f.imp.Prepare(context.Background(), Request{
		CompanyID:       testCompany,
		CadenceID:       testCadence,
		IntegrationType: model.IntegrationCSV,
		SessionID:       "sess-1",
		Records:         records,
	})
	require.NoError(t, err)
	return job
}

func record(i int) model.RawRecord {
	return model.RawRecord{
		"Id":      fmt.Sprintf("ext-%d", i),
		"First":   fmt.Sprintf("Person%d", i),
		"Last":    "Doe",
		"Owner":   "own-1",
		"Company": "Acme",
		"Email":   fmt.Sprintf("p%d@acme.example", i),
	}
}

func records(n int) []model.RawRecord {
	out := make([]model.RawRecord, n)
	for i := range out {
		out[i] = record(i)
	}
	return out
}

func assertDense(t *testing.T, orders map[int64]int) {
	t.Helper()
	got := make([]int, 0, len(orders))
	for _, o := range orders {
		got = append(got, o)
	}
	sort.Ints(got)
	for i, o := range got {
		assert.Equal(t, i+1, o)
	}
}

func TestPrepare_InvalidRequests(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"no cadence", Request{CompanyID: testCompany, IntegrationType: model.IntegrationCSV, Records: records(1)}},
		{"no company", Request{CadenceID: testCadence, IntegrationType: model.IntegrationCSV, Records: records(1)}},
		{"no records", Request{CompanyID: testCompany, CadenceID: testCadence, IntegrationType: model.IntegrationCSV}},
		{"no integration", Request{CompanyID: testCompany, CadenceID: testCadence, Records: records(1)}},
		{"unknown integration", Request{CompanyID: testCompany, CadenceID: testCadence, IntegrationType: "salesloft", Records: records(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.imp.Prepare(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestStart_NoFieldMapIsFatal(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)

	ack, err := f.imp.Start(context.Background(), Request{
		CompanyID: testCompany, CadenceID: testCadence,
		IntegrationType: model.IntegrationExcel, Records: records(3),
	})
	assert.Nil(t, ack)
	assert.ErrorIs(t, err, fieldmap.ErrNotConfigured)

	f.imp.Wait()
	assert.Empty(t, f.reporter.results)
	assert.Zero(t, f.store.leadCount())
}

func TestStart_CadenceNotFound(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)
	f.store.cadences[77] = &model.Cadence{ID: 77, CompanyID: 99, Type: model.CadenceCompany}

	for _, id := range []int64{404, 77} {
		_, err := f.imp.Start(context.Background(), Request{
			CompanyID: testCompany, CadenceID: id,
			IntegrationType: model.IntegrationCSV, Records: records(1),
		})
		assert.ErrorIs(t, err, ErrCadenceNotFound, "cadence %d", id)
	}
}

func TestStart_AcknowledgesThenRuns(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)

	ctx, cancel := context.WithCancel(context.Background())
	ack, err := f.imp.Start(ctx, Request{
		CompanyID: testCompany, CadenceID: testCadence,
		IntegrationType: model.IntegrationCSV, Records: records(3),
	})
	require.NoError(t, err)
	// The batch keeps running after the caller goes away.
	cancel()

	assert.Equal(t, StatusStarted, ack.Status)
	assert.NotEmpty(t, ack.SessionID)
	assert.Equal(t, 3, ack.Size)

	f.imp.Wait()
	require.Len(t, f.reporter.results, 1)
	assert.Equal(t, 3, f.reporter.results[0].TotalSuccess)
	for _, s := range f.reporter.sessions {
		assert.Equal(t, ack.SessionID, s)
	}
}

func TestRun_TwelveIntoInProgressCompanyCadence(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceInProgress)

	res := f.imp.Run(context.Background(), f.job(t, records(12)))

	assert.Equal(t, 12, res.TotalSuccess)
	assert.Equal(t, 0, res.TotalError)
	assert.Empty(t, res.ElementError)
	for i, s := range res.ElementSuccess {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, fmt.Sprintf("ext-%d", i), s.ExternalID)
		assert.Equal(t, model.ActionCreated, s.Action)
		assert.Equal(t, testCadence, s.CadenceID)
	}

	assert.Len(t, f.notifier.first, 12)
	assert.Len(t, f.notifier.recalcs, 12)
	leads := make(map[int64]bool)
	for _, ft := range f.notifier.first {
		assert.Equal(t, testCadence, ft.CadenceID)
		assert.Equal(t, int64(1), ft.UserID)
		leads[ft.LeadID] = true
	}
	assert.Len(t, leads, 12)

	orders := f.store.orders(testCadence)
	assert.Len(t, orders, 12)
	assertDense(t, orders)

	assert.Equal(t, []progressTick{{10, 12}, {12, 12}}, f.reporter.ticks)
	require.Len(t, f.reporter.results, 1)
	assert.Equal(t, res, f.reporter.results[0])
}

func TestRun_CountInvariantWithBlankRows(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)

	recs := records(10)
	recs = append(recs,
		model.RawRecord{"Id": "blank-1"},
		model.RawRecord{"First": "  ", "Email": ""},
		model.RawRecord{},
		model.RawRecord{"Id": "no-owner", "First": "Solo", "Company": "Acme"},
	)
	res := f.imp.Run(context.Background(), f.job(t, recs))

	assert.Equal(t, 3, res.TotalSkipped)
	assert.Equal(t, len(recs)-res.TotalSkipped, res.TotalSuccess+res.TotalError)
	assert.Equal(t, 10, res.TotalSuccess)
	assert.Equal(t, 1, res.TotalError)
}

func TestRun_ReimportIsPresent(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceInProgress)
	ctx := context.Background()

	first := f.imp.Run(ctx, f.job(t, records(5)))
	require.Equal(t, 5, first.TotalSuccess)
	before := f.store.orders(testCadence)

	second := f.imp.Run(ctx, f.job(t, records(5)))
	assert.Equal(t, 5, second.TotalSuccess)
	assert.Zero(t, second.TotalError)
	for _, s := range second.ElementSuccess {
		assert.Equal(t, model.ActionPresent, s.Action)
	}
	assert.Equal(t, 5, f.store.leadCount())
	assert.Equal(t, before, f.store.orders(testCadence))
	// No new tasks for links that already existed.
	assert.Len(t, f.notifier.first, 5)
}

func TestRun_MissingFirstNameAndOwner(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)

	res := f.imp.Run(context.Background(), f.job(t, []model.RawRecord{
		{"Id": "x1", "Last": "Doe", "Company": "Acme"},
	}))

	require.Len(t, res.ElementError, 1)
	e := res.ElementError[0]
	assert.Equal(t, model.ErrKindMissingFields, e.Kind)
	assert.Equal(t, "missing required fields: first name, owner id", e.Message)
	require.NotNil(t, e.ExternalID)
	assert.Equal(t, "x1", *e.ExternalID)
}

func TestRun_OneInvalidEmail(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)

	recs := records(6)
	recs[2]["Email"] = "not-an-email"
	res := f.imp.Run(context.Background(), f.job(t, recs))

	assert.Equal(t, 5, res.TotalSuccess)
	require.Equal(t, 1, res.TotalError)
	assert.Equal(t, model.ErrKindInvalidEmail, res.ElementError[0].Kind)
	assert.Equal(t, 2, res.ElementError[0].Index)

	var indexes []int
	for _, s := range res.ElementSuccess {
		indexes = append(indexes, s.Index)
	}
	assert.Equal(t, []int{0, 1, 3, 4, 5}, indexes)
}

func TestRun_ExistingActiveLinkKeepsOrder(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)

	existing := f.store.seedLead(model.Lead{
		CompanyID: testCompany, UserID: 1, IntegrationID: "ext-0",
		IntegrationType: model.IntegrationCSV, FirstName: "Person0",
	})
	other := f.store.seedLead(model.Lead{
		CompanyID: testCompany, UserID: 1, IntegrationID: "manual",
		IntegrationType: model.IntegrationCSV, FirstName: "Manual",
	})
	f.store.seedLink(model.Link{LeadID: existing, CadenceID: testCadence, Order: 1})
	f.store.seedLink(model.Link{LeadID: other, CadenceID: testCadence, Order: 2})

	res := f.imp.Run(context.Background(), f.job(t, records(2)))

	require.Equal(t, 2, res.TotalSuccess)
	assert.Equal(t, model.ActionPresent, res.ElementSuccess[0].Action)
	assert.Equal(t, existing, res.ElementSuccess[0].LeadID)
	assert.Equal(t, model.ActionCreated, res.ElementSuccess[1].Action)

	orders := f.store.orders(testCadence)
	assert.Equal(t, 1, orders[existing])
	assert.Equal(t, 2, orders[other])
	assert.Equal(t, 3, orders[res.ElementSuccess[1].LeadID])
}

func TestRun_ExistingLeadLinkedAndReassigned(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceInProgress)
	leadID := f.store.seedLead(model.Lead{
		CompanyID: testCompany, UserID: 2, IntegrationID: "ext-0",
		IntegrationType: model.IntegrationCSV, FirstName: "Person0",
	})

	res := f.imp.Run(context.Background(), f.job(t, records(1)))

	require.Equal(t, 1, res.TotalSuccess)
	assert.Equal(t, model.ActionLinked, res.ElementSuccess[0].Action)
	assert.Equal(t, leadID, res.ElementSuccess[0].LeadID)
	assert.Equal(t, int64(1), f.store.leads[leadID].UserID)
	assert.Len(t, f.notifier.first, 1)
}

func TestRun_OwnerNotFound(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)

	recs := records(3)
	recs[1]["Owner"] = "left-the-company"
	res := f.imp.Run(context.Background(), f.job(t, recs))

	assert.Equal(t, 2, res.TotalSuccess)
	require.Len(t, res.ElementError, 1)
	assert.Equal(t, model.ErrKindOwnerNotFound, res.ElementError[0].Kind)
	assert.Contains(t, res.ElementError[0].Message, "left-the-company")
}

func TestRun_AccessDeniedBeforeWrite(t *testing.T) {
	f := newFixture(t, model.CadencePersonal, model.CadenceNotStarted)

	recs := records(2)
	recs[1]["Owner"] = "own-2"
	res := f.imp.Run(context.Background(), f.job(t, recs))

	assert.Equal(t, 1, res.TotalSuccess)
	require.Len(t, res.ElementError, 1)
	assert.Equal(t, model.ErrKindAccessDenied, res.ElementError[0].Kind)
	assert.Equal(t, 1, f.store.leadCount())
}

func TestRun_TeamCadence(t *testing.T) {
	f := newFixture(t, model.CadenceTeam, model.CadenceNotStarted)

	recs := records(2)
	recs[1]["Owner"] = "own-2"
	res := f.imp.Run(context.Background(), f.job(t, recs))

	assert.Equal(t, 1, res.TotalSuccess)
	assert.Equal(t, model.ErrKindAccessDenied, res.ElementError[0].Kind)
}

func TestRun_UniqueViolationRemapped(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)
	f.store.createLeadHook = func(l *model.Lead) error {
		if l.IntegrationID == "ext-1" {
			// Another batch inserted the same lead between check and write.
			f.store.seedLead(model.Lead{
				CompanyID: l.CompanyID, UserID: l.UserID, IntegrationID: l.IntegrationID,
				IntegrationType: l.IntegrationType, FirstName: l.FirstName,
			})
		}
		return nil
	}

	res := f.imp.Run(context.Background(), f.job(t, records(3)))

	assert.Equal(t, 2, res.TotalSuccess)
	require.Len(t, res.ElementError, 1)
	assert.Equal(t, model.ErrKindAlreadyPresent, res.ElementError[0].Kind)
	assert.Equal(t, "lead already present in tool", res.ElementError[0].Message)
}

func TestRun_UpstreamErrorContinues(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)
	f.store.findLeadHook = func(id string) error {
		if id == "ext-0" {
			return resilience.NewTransientError(errors.New("salesforce: 503"), 503)
		}
		return nil
	}

	res := f.imp.Run(context.Background(), f.job(t, records(4)))

	assert.Equal(t, 3, res.TotalSuccess)
	require.Len(t, res.ElementError, 1)
	assert.Equal(t, model.ErrKindUpstream, res.ElementError[0].Kind)
	assert.Equal(t, 0, res.ElementError[0].Index)
}

func TestRun_InternalAndPanicRecovered(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)
	f.store.createLeadHook = func(l *model.Lead) error {
		switch l.IntegrationID {
		case "ext-1":
			panic("driver bug")
		case "ext-2":
			return errors.New("syntax error at or near")
		}
		return nil
	}

	res := f.imp.Run(context.Background(), f.job(t, records(4)))

	assert.Equal(t, 2, res.TotalSuccess)
	require.Len(t, res.ElementError, 2)
	for _, e := range res.ElementError {
		assert.Equal(t, model.ErrKindInternal, e.Kind)
		require.NotNil(t, e.ExternalID)
	}
	assert.Equal(t, "ext-1", *res.ElementError[0].ExternalID)
}

func TestRun_StopPreviousCadences(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)
	f.store.cadences[60] = &model.Cadence{ID: 60, CompanyID: testCompany, Type: model.CadenceCompany}
	leadID := f.store.seedLead(model.Lead{
		CompanyID: testCompany, UserID: 1, IntegrationID: "ext-0",
		IntegrationType: model.IntegrationCSV, FirstName: "Person0",
	})
	f.store.seedLink(model.Link{LeadID: leadID, CadenceID: 60, Order: 1})

	job := f.job(t, records(1))
	job.StopPreviousCadences = true
	res := f.imp.Run(context.Background(), job)

	require.Equal(t, 1, res.TotalSuccess)
	link, err := f.store.GetLink(context.Background(), leadID, 60)
	require.NoError(t, err)
	assert.Equal(t, model.LinkStopped, link.Status)
}

func TestRun_PreviousCadencesKeptByDefault(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)
	f.store.cadences[60] = &model.Cadence{ID: 60, CompanyID: testCompany, Type: model.CadenceCompany}
	leadID := f.store.seedLead(model.Lead{
		CompanyID: testCompany, UserID: 1, IntegrationID: "ext-0",
		IntegrationType: model.IntegrationCSV, FirstName: "Person0",
	})
	f.store.seedLink(model.Link{LeadID: leadID, CadenceID: 60, Order: 1})

	f.imp.Run(context.Background(), f.job(t, records(1)))

	link, err := f.store.GetLink(context.Background(), leadID, 60)
	require.NoError(t, err)
	assert.Equal(t, model.LinkActive, link.Status)
}

func TestRun_DraftCadenceCreatesNoTasks(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)

	res := f.imp.Run(context.Background(), f.job(t, records(3)))

	assert.Equal(t, 3, res.TotalSuccess)
	assert.Empty(t, f.notifier.first)
	assert.Empty(t, f.notifier.recalcs)
}

func TestRun_NotifierFailureDoesNotFailRecord(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceInProgress)
	f.notifier.err = errors.New("amqp: channel closed")

	res := f.imp.Run(context.Background(), f.job(t, records(2)))

	assert.Equal(t, 2, res.TotalSuccess)
	assert.Len(t, f.notifier.first, 2)
}

func TestRun_AccountSharedWithinBatch(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)

	recs := records(6)
	recs[4]["Company"] = "Globex"
	recs[5]["Company"] = "globex"
	res := f.imp.Run(context.Background(), f.job(t, recs))

	assert.Equal(t, 6, res.TotalSuccess)
	assert.Equal(t, 2, f.store.accountCount())

	accounts := make(map[int64]bool)
	for _, l := range f.store.leads {
		require.NotNil(t, l.AccountID)
		accounts[*l.AccountID] = true
	}
	assert.Len(t, accounts, 2)
}

func TestRun_LargeBatchRollingCheckpoints(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)

	res := f.imp.Run(context.Background(), f.job(t, records(35)))

	assert.Equal(t, 35, res.TotalSuccess)
	assert.Equal(t, []progressTick{{10, 35}, {20, 35}, {30, 35}, {35, 35}}, f.reporter.ticks)
	assertDense(t, f.store.orders(testCadence))
	assert.Len(t, f.store.orders(testCadence), 35)
}

func TestRun_ConcurrentBatchesSameCadence(t *testing.T) {
	f := newFixture(t, model.CadenceCompany, model.CadenceNotStarted)

	var wg sync.WaitGroup
	for b := range 3 {
		recs := make([]model.RawRecord, 8)
		for i := range recs {
			recs[i] = record(b*100 + i)
		}
		job := f.job(t, recs)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.imp.Run(context.Background(), job)
		}()
	}
	wg.Wait()

	// A final pass settles any stale ordering left by overlapping batches.
	require.NoError(t, f.imp.reconciler.Reconcile(context.Background(), testCadence))
	orders := f.store.orders(testCadence)
	assert.Len(t, orders, 24)
	assertDense(t, orders)
}

func TestClassify(t *testing.T) {
	draft := model.DraftRecord{OwnerID: "005X"}
	tests := []struct {
		name string
		err  error
		kind model.ErrorKind
	}{
		{"circuit open", resilience.ErrCircuitOpen, model.ErrKindUpstream},
		{"deadline", context.DeadlineExceeded, model.ErrKindUpstream},
		{"generic", errors.New("boom"), model.ErrKindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, msg := classify(draft, tt.err)
			assert.Equal(t, tt.kind, kind)
			assert.NotEmpty(t, msg)
		})
	}
}
