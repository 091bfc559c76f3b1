package source

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cadence-import/internal/model"
	"github.com/sells-group/cadence-import/internal/resilience"
	sfpkg "github.com/sells-group/cadence-import/pkg/salesforce"
)

// ErrUnsupportedObject is returned for Salesforce objects other than Lead and
// Contact.
var ErrUnsupportedObject = eris.New("source: unsupported salesforce object")

// ObjectType maps a Salesforce object name to its integration type.
func ObjectType(object string) (model.IntegrationType, error) {
	switch object {
	case sfpkg.ObjectLead:
		return model.IntegrationSalesforceLead, nil
	case sfpkg.ObjectContact:
		return model.IntegrationSalesforceContact, nil
	default:
		return "", eris.Wrapf(ErrUnsupportedObject, "source: %q", object)
	}
}

func objectFor(t model.IntegrationType) (string, error) {
	switch t {
	case model.IntegrationSalesforceLead:
		return sfpkg.ObjectLead, nil
	case model.IntegrationSalesforceContact:
		return sfpkg.ObjectContact, nil
	default:
		return "", eris.Wrapf(ErrUnsupportedObject, "source: integration type %q", t)
	}
}

// Salesforce fetches Lead and Contact records by id, selecting the columns a
// field map reads.
type Salesforce struct {
	client  sfpkg.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewSalesforce wraps client with retries and a circuit breaker. A nil
// breaker gets the defaults.
func NewSalesforce(client sfpkg.Client, retry resilience.RetryConfig, breaker *resilience.CircuitBreaker) *Salesforce {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("salesforce", "fetch")
	}
	return &Salesforce{client: client, retry: retry, breaker: breaker}
}

// Fetch returns records for ids in the order given. Mapped columns the
// object does not have are skipped so one stale mapping does not fail the
// query. Ids Salesforce does not return are left out.
func (s *Salesforce) Fetch(ctx context.Context, t model.IntegrationType, fm *model.FieldMap, ids []string) ([]model.RawRecord, error) {
	object, err := objectFor(t)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("object", object), zap.Int("ids", len(ids)))

	desc, err := call(ctx, s, func(ctx context.Context) (*sfpkg.SObjectDescription, error) {
		return s.client.DescribeSObject(ctx, object)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: describe %s", object)
	}

	var fields []string
	for _, col := range fm.Columns() {
		if !desc.Has(col) {
			log.Warn("skipping unknown salesforce field", zap.String("field", col))
			continue
		}
		fields = append(fields, col)
	}

	rows, err := call(ctx, s, func(ctx context.Context) ([]map[string]any, error) {
		return sfpkg.FetchByIDs(ctx, s.client, object, fields, ids)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: fetch %s", object)
	}

	byID := make(map[string]model.RawRecord, len(rows))
	for _, row := range rows {
		if id, ok := row["Id"].(string); ok {
			byID[id] = model.RawRecord(row)
		}
	}
	out := make([]model.RawRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	if missing := len(ids) - len(out); missing > 0 {
		log.Warn("salesforce records not found", zap.Int("missing", missing))
	}
	return out, nil
}

func call[T any](ctx context.Context, s *Salesforce, fn func(context.Context) (T, error)) (T, error) {
	return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (T, error) {
		return resilience.ExecuteVal(ctx, s.breaker, fn)
	})
}
