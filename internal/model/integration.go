// Package model defines the shared types of the import pipeline.
package model

// IntegrationType identifies the external source system and record kind.
type IntegrationType string

const (
	IntegrationSalesforceLead    IntegrationType = "salesforce_lead"
	IntegrationSalesforceContact IntegrationType = "salesforce_contact"
	IntegrationZohoLead          IntegrationType = "zoho_lead"
	IntegrationZohoContact       IntegrationType = "zoho_contact"
	IntegrationDynamicsLead      IntegrationType = "dynamics_lead"
	IntegrationDynamicsContact   IntegrationType = "dynamics_contact"
	IntegrationPipedrivePerson   IntegrationType = "pipedrive_person"
	IntegrationHubspotContact    IntegrationType = "hubspot_contact"
	IntegrationExcel             IntegrationType = "excel"
	IntegrationCSV               IntegrationType = "csv"
	IntegrationGoogleSheets      IntegrationType = "google_sheets"
	IntegrationExtension         IntegrationType = "extension"
)

// IntegrationTypes lists every supported integration type.
var IntegrationTypes = []IntegrationType{
	IntegrationSalesforceLead,
	IntegrationSalesforceContact,
	IntegrationZohoLead,
	IntegrationZohoContact,
	IntegrationDynamicsLead,
	IntegrationDynamicsContact,
	IntegrationPipedrivePerson,
	IntegrationHubspotContact,
	IntegrationExcel,
	IntegrationCSV,
	IntegrationGoogleSheets,
	IntegrationExtension,
}

// RecordKind separates CRM "lead" objects, which must carry a company name,
// from "contact" objects, which may hang off an existing account.
type RecordKind string

const (
	KindLead    RecordKind = "lead"
	KindContact RecordKind = "contact"
)

// Valid reports whether t is a known integration type.
func (t IntegrationType) Valid() bool {
	for _, known := range IntegrationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Kind returns the record kind for the integration type.
func (t IntegrationType) Kind() RecordKind {
	switch t {
	case IntegrationSalesforceLead, IntegrationZohoLead, IntegrationDynamicsLead,
		IntegrationExcel, IntegrationCSV, IntegrationGoogleSheets:
		return KindLead
	default:
		return KindContact
	}
}

// IsSpreadsheet reports whether records of this type come from a file or sheet.
func (t IntegrationType) IsSpreadsheet() bool {
	return t == IntegrationExcel || t == IntegrationCSV || t == IntegrationGoogleSheets
}
