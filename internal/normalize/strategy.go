package normalize

import (
	"strings"

	"github.com/sells-group/cadence-import/internal/model"
)

// RowKey is the key spreadsheet sources use to carry the 1-based row number.
const RowKey = "_row"

// crmStrategy covers CRMs that return flat (or dotted) JSON objects:
// Salesforce, Zoho, Dynamics and HubSpot.
type crmStrategy struct {
	t model.IntegrationType
}

func (s crmStrategy) Type() model.IntegrationType { return s.t }

func (s crmStrategy) Normalize(raw model.RawRecord, fm *model.FieldMap) (model.DraftRecord, error) {
	d := extractCommon(raw, fm)
	if d.IntegrationID == "" {
		d.IntegrationID = firstNonEmpty(raw, "Id", "id")
	}
	return d, nil
}

// pipedriveStrategy handles Pipedrive persons, whose phones and emails are
// arrays of {label, value} and whose owner is an object.
type pipedriveStrategy struct{}

func (pipedriveStrategy) Type() model.IntegrationType { return model.IntegrationPipedrivePerson }

func (pipedriveStrategy) Normalize(raw model.RawRecord, fm *model.FieldMap) (model.DraftRecord, error) {
	d := extractCommon(raw, fm)
	if d.IntegrationID == "" {
		d.IntegrationID = firstNonEmpty(raw, "id")
	}
	if fm == nil {
		return d, nil
	}

	if d.OwnerID == "" {
		switch owner := raw.Lookup(fm.Column(model.AttrOwnerID)).(type) {
		case map[string]any:
			d.OwnerID = firstNonEmpty(model.RawRecord(owner), "id", "value")
		case model.RawRecord:
			d.OwnerID = firstNonEmpty(owner, "id", "value")
		}
	}
	if d.Account.Name == "" {
		if org, ok := raw.Lookup(fm.Column(model.AttrAccountName)).(map[string]any); ok {
			d.Account.Name = firstNonEmpty(model.RawRecord(org), "name")
			if d.Account.IntegrationID == "" {
				d.Account.IntegrationID = firstNonEmpty(model.RawRecord(org), "value", "id")
			}
		}
	}

	d.Phones = labeledValues(raw, fm.Phones)
	d.Emails = labeledValues(raw, fm.Emails)
	return d, nil
}

// labeledValues builds typed values from Pipedrive label/value arrays. Each
// slot takes the entry whose label matches its type. A plain string column is
// taken as is.
func labeledValues(raw model.RawRecord, slots []model.Slot) []model.TypedValue {
	var out []model.TypedValue
	for _, slot := range slots {
		switch v := raw.Lookup(slot.Column).(type) {
		case []any:
			for _, item := range v {
				entry, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if !strings.EqualFold(stringValue(entry["label"]), slot.Type) {
					continue
				}
				if val := stringValue(entry["value"]); val != "" {
					out = append(out, model.TypedValue{Type: slot.Type, Value: val})
					break
				}
			}
		default:
			if val := stringValue(v); val != "" {
				out = append(out, model.TypedValue{Type: slot.Type, Value: val})
			}
		}
	}
	return out
}

// spreadsheetStrategy handles Excel, CSV and Google Sheets rows keyed by
// header. Rows without a mapped id get "row-<n>".
type spreadsheetStrategy struct {
	t model.IntegrationType
}

func (s spreadsheetStrategy) Type() model.IntegrationType { return s.t }

func (s spreadsheetStrategy) Normalize(raw model.RawRecord, fm *model.FieldMap) (model.DraftRecord, error) {
	d := extractCommon(raw, fm)
	if d.IntegrationID == "" {
		if row := stringValue(raw[RowKey]); row != "" {
			d.IntegrationID = "row-" + row
		}
	}
	return d, nil
}

// extensionStrategy handles browser-extension captures of social profiles.
// The profile URL doubles as the external id.
type extensionStrategy struct{}

func (extensionStrategy) Type() model.IntegrationType { return model.IntegrationExtension }

func (extensionStrategy) Normalize(raw model.RawRecord, fm *model.FieldMap) (model.DraftRecord, error) {
	d := extractCommon(raw, fm)
	if d.IntegrationID == "" {
		d.IntegrationID = d.LinkedinURL
	}
	return d, nil
}
