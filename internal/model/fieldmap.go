package model

import "sort"

// Attribute is a canonical scalar attribute a field map can target.
type Attribute string

const (
	AttrID                 Attribute = "id"
	AttrFirstName          Attribute = "first_name"
	AttrLastName           Attribute = "last_name"
	AttrJobPosition        Attribute = "job_position"
	AttrLinkedinURL        Attribute = "linkedin_url"
	AttrURL                Attribute = "url"
	AttrOwnerID            Attribute = "owner_id"
	AttrAccountID          Attribute = "account_id"
	AttrAccountName        Attribute = "account_name"
	AttrAccountSize        Attribute = "account_size"
	AttrAccountCountry     Attribute = "account_country"
	AttrAccountZipcode     Attribute = "account_zipcode"
	AttrAccountPhoneNumber Attribute = "account_phone_number"
	AttrAccountURL         Attribute = "account_url"
)

// Slot maps one repeated attribute value (a phone or email) to an external
// column, tagged with its semantic type.
type Slot struct {
	Type   string `json:"type" yaml:"type"`
	Column string `json:"column" yaml:"column"`
}

// FieldMap translates external field names into canonical attributes for one
// company and integration type.
type FieldMap struct {
	CompanyID       int64                `json:"company_id" yaml:"company_id"`
	IntegrationType IntegrationType      `json:"integration_type" yaml:"integration_type"`
	Scalars         map[Attribute]string `json:"scalars" yaml:"scalars"`
	Phones          []Slot               `json:"phones,omitempty" yaml:"phones,omitempty"`
	Emails          []Slot               `json:"emails,omitempty" yaml:"emails,omitempty"`
}

// Column returns the external column mapped to attr, or "" when unmapped.
func (m *FieldMap) Column(attr Attribute) string {
	if m == nil || m.Scalars == nil {
		return ""
	}
	return m.Scalars[attr]
}

// Columns returns every distinct external column the map reads, in a stable
// order: scalars sorted by attribute, then phone and email slots.
func (m *FieldMap) Columns() []string {
	if m == nil {
		return nil
	}
	attrs := make([]string, 0, len(m.Scalars))
	for attr := range m.Scalars {
		attrs = append(attrs, string(attr))
	}
	sort.Strings(attrs)

	seen := make(map[string]bool)
	var cols []string
	add := func(c string) {
		if c != "" && !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	for _, a := range attrs {
		add(m.Scalars[Attribute(a)])
	}
	for _, s := range m.Phones {
		add(s.Column)
	}
	for _, s := range m.Emails {
		add(s.Column)
	}
	return cols
}
