// Package normalize turns raw external records into validated DraftRecords.
// Each integration type has its own Strategy; For selects it.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/cadence-import/internal/model"
)

var (
	// ErrUnsupportedIntegration is returned by For for unknown integration types.
	ErrUnsupportedIntegration = eris.New("normalize: unsupported integration type")

	// ErrBlankRecord marks a record whose canonical fields are all empty.
	// Blank records are skipped, not reported as errors.
	ErrBlankRecord = eris.New("normalize: blank record")
)

// Strategy extracts a DraftRecord from one raw record of a given integration.
type Strategy interface {
	Type() model.IntegrationType
	Normalize(raw model.RawRecord, fm *model.FieldMap) (model.DraftRecord, error)
}

// For returns the strategy for an integration type.
func For(t model.IntegrationType) (Strategy, error) {
	switch t {
	case model.IntegrationSalesforceLead, model.IntegrationSalesforceContact,
		model.IntegrationZohoLead, model.IntegrationZohoContact,
		model.IntegrationDynamicsLead, model.IntegrationDynamicsContact,
		model.IntegrationHubspotContact:
		return crmStrategy{t: t}, nil
	case model.IntegrationPipedrivePerson:
		return pipedriveStrategy{}, nil
	case model.IntegrationExcel, model.IntegrationCSV, model.IntegrationGoogleSheets:
		return spreadsheetStrategy{t: t}, nil
	case model.IntegrationExtension:
		return extensionStrategy{}, nil
	default:
		return nil, eris.Wrapf(ErrUnsupportedIntegration, "normalize: %q", t)
	}
}

// Normalize extracts and validates one record. It returns ErrBlankRecord for
// blank rows and a *ValidationError when required fields are missing or
// present values are malformed. The draft is returned in every case so
// callers can report its external id.
func Normalize(t model.IntegrationType, raw model.RawRecord, fm *model.FieldMap) (model.DraftRecord, error) {
	s, err := For(t)
	if err != nil {
		return model.DraftRecord{}, err
	}
	d, err := s.Normalize(raw, fm)
	if err != nil {
		return d, err
	}
	d.IntegrationType = t
	if d.Blank() {
		return d, ErrBlankRecord
	}
	if err := Validate(d); err != nil {
		return d, err
	}
	return d, nil
}

// extractCommon fills every field whose lookup is the same across
// integrations: scalar attributes and simple (non-array) phone/email slots.
func extractCommon(raw model.RawRecord, fm *model.FieldMap) model.DraftRecord {
	get := func(attr model.Attribute) string {
		return stringValue(raw.Lookup(fm.Column(attr)))
	}

	d := model.DraftRecord{
		IntegrationID: get(model.AttrID),
		FirstName:     get(model.AttrFirstName),
		LastName:      get(model.AttrLastName),
		JobPosition:   get(model.AttrJobPosition),
		LinkedinURL:   get(model.AttrLinkedinURL),
		URL:           get(model.AttrURL),
		OwnerID:       get(model.AttrOwnerID),
		Account: model.AccountDraft{
			IntegrationID: get(model.AttrAccountID),
			Name:          get(model.AttrAccountName),
			Size:          get(model.AttrAccountSize),
			Country:       get(model.AttrAccountCountry),
			Zipcode:       get(model.AttrAccountZipcode),
			PhoneNumber:   get(model.AttrAccountPhoneNumber),
			URL:           get(model.AttrAccountURL),
		},
	}
	if fm != nil {
		d.Phones = slotValues(raw, fm.Phones)
		d.Emails = slotValues(raw, fm.Emails)
	}
	return d
}

func slotValues(raw model.RawRecord, slots []model.Slot) []model.TypedValue {
	var out []model.TypedValue
	for _, slot := range slots {
		if v := stringValue(raw.Lookup(slot.Column)); v != "" {
			out = append(out, model.TypedValue{Type: slot.Type, Value: v})
		}
	}
	return out
}

// firstNonEmpty returns the first key of raw holding a non-empty value.
func firstNonEmpty(raw model.RawRecord, keys ...string) string {
	for _, k := range keys {
		if v := stringValue(raw.Lookup(k)); v != "" {
			return v
		}
	}
	return ""
}

// stringValue renders a decoded JSON or spreadsheet value as trimmed,
// NFC-normalized text. Objects and arrays are not scalar values and yield "".
func stringValue(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	case json.Number:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	case bool:
		s = strconv.FormatBool(x)
	case map[string]any, model.RawRecord, []any:
		return ""
	default:
		s = fmt.Sprint(x)
	}
	return strings.TrimSpace(norm.NFC.String(s))
}
