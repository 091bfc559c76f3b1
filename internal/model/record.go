package model

import (
	"strings"
)

// RawRecord is one record as received from a CRM, spreadsheet, or extension.
// Nested objects are allowed and addressed with dotted paths.
type RawRecord map[string]any

// Lookup resolves a dotted path (e.g. "Account.Name") against the record.
// It returns nil when any segment is missing.
func (r RawRecord) Lookup(path string) any {
	if path == "" || r == nil {
		return nil
	}
	if v, ok := r[path]; ok {
		return v
	}

	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			cur = m[part]
		case RawRecord:
			cur = m[part]
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

// TypedValue is a phone number or email tagged with a semantic type such as
// "mobile" or "work".
type TypedValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// AccountDraft is the organization part of a DraftRecord.
type AccountDraft struct {
	IntegrationID string `json:"integration_id,omitempty"`
	Name          string `json:"name,omitempty"`
	Size          string `json:"size,omitempty"`
	Country       string `json:"country,omitempty"`
	Zipcode       string `json:"zipcode,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	URL           string `json:"url,omitempty"`
}

// Empty reports whether no account attribute is set.
func (a AccountDraft) Empty() bool {
	return a == AccountDraft{}
}

// DraftRecord is the canonical, not yet persisted form of an imported record.
// It is owned by a single pipeline run.
type DraftRecord struct {
	IntegrationID   string          `json:"integration_id"`
	IntegrationType IntegrationType `json:"integration_type"`
	FirstName       string          `json:"first_name,omitempty"`
	LastName        string          `json:"last_name,omitempty"`
	JobPosition     string          `json:"job_position,omitempty"`
	LinkedinURL     string          `json:"linkedin_url,omitempty"`
	URL             string          `json:"url,omitempty"`
	Phones          []TypedValue    `json:"phones,omitempty"`
	Emails          []TypedValue    `json:"emails,omitempty"`
	Account         AccountDraft    `json:"account"`
	OwnerID         string          `json:"owner_id,omitempty"`
	CadenceID       int64           `json:"cadence_id"`
	Index           int             `json:"index"`
}

// Blank reports whether every canonical attribute is empty. The external id
// is ignored because spreadsheet sources synthesize one for every row.
func (d DraftRecord) Blank() bool {
	return d.FirstName == "" &&
		d.LastName == "" &&
		d.JobPosition == "" &&
		d.LinkedinURL == "" &&
		d.URL == "" &&
		d.OwnerID == "" &&
		len(d.Phones) == 0 &&
		len(d.Emails) == 0 &&
		d.Account.Empty()
}
