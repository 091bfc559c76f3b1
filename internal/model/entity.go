package model

import (
	"time"
)

// CadenceType gates which owners may link leads into a cadence.
type CadenceType string

const (
	CadencePersonal CadenceType = "personal"
	CadenceTeam     CadenceType = "team"
	CadenceCompany  CadenceType = "company"
)

// CadenceStatus is the lifecycle state of a cadence. NotStarted is the draft
// state: linking into it never creates tasks.
type CadenceStatus string

const (
	CadenceNotStarted CadenceStatus = "not_started"
	CadenceInProgress CadenceStatus = "in_progress"
	CadencePaused     CadenceStatus = "paused"
	CadenceCompleted  CadenceStatus = "completed"
)

// LinkStatus is the state of a lead inside a cadence.
type LinkStatus string

const (
	LinkActive    LinkStatus = "active"
	LinkCompleted LinkStatus = "completed"
	LinkStopped   LinkStatus = "stopped"
)

// User is an internal user that can own leads.
type User struct {
	ID            int64  `json:"id" db:"id"`
	CompanyID     int64  `json:"company_id" db:"company_id"`
	SdID          int64  `json:"sd_id" db:"sd_id"`
	IntegrationID string `json:"integration_id,omitempty" db:"integration_id"`
	FirstName     string `json:"first_name,omitempty" db:"first_name"`
	LastName      string `json:"last_name,omitempty" db:"last_name"`
}

// Cadence is an outbound contact sequence.
type Cadence struct {
	ID        int64         `json:"id" db:"id"`
	CompanyID int64         `json:"company_id" db:"company_id"`
	UserID    int64         `json:"user_id" db:"user_id"`
	SdID      int64         `json:"sd_id" db:"sd_id"`
	Name      string        `json:"name" db:"name"`
	Type      CadenceType   `json:"type" db:"type"`
	Status    CadenceStatus `json:"status" db:"status"`
}

// Account is an organization a lead belongs to.
type Account struct {
	ID              int64           `json:"id" db:"id"`
	CompanyID       int64           `json:"company_id" db:"company_id"`
	UserID          int64           `json:"user_id" db:"user_id"`
	IntegrationID   string          `json:"integration_id,omitempty" db:"integration_id"`
	IntegrationType IntegrationType `json:"integration_type" db:"integration_type"`
	Name            string          `json:"name" db:"name"`
	Size            string          `json:"size,omitempty" db:"size"`
	Country         string          `json:"country,omitempty" db:"country"`
	Zipcode         string          `json:"zipcode,omitempty" db:"zipcode"`
	PhoneNumber     string          `json:"phone_number,omitempty" db:"phone_number"`
	URL             string          `json:"url,omitempty" db:"url"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Lead is the persisted canonical record of a prospect. The triple
// (CompanyID, IntegrationID, IntegrationType) is unique.
type Lead struct {
	ID              int64           `json:"id" db:"id"`
	CompanyID       int64           `json:"company_id" db:"company_id"`
	UserID          int64           `json:"user_id" db:"user_id"`
	AccountID       *int64          `json:"account_id,omitempty" db:"account_id"`
	IntegrationID   string          `json:"integration_id" db:"integration_id"`
	IntegrationType IntegrationType `json:"integration_type" db:"integration_type"`
	FirstName       string          `json:"first_name" db:"first_name"`
	LastName        string          `json:"last_name,omitempty" db:"last_name"`
	JobPosition     string          `json:"job_position,omitempty" db:"job_position"`
	LinkedinURL     string          `json:"linkedin_url,omitempty" db:"linkedin_url"`
	URL             string          `json:"url,omitempty" db:"url"`
	Phones          []TypedValue    `json:"phones,omitempty"`
	Emails          []TypedValue    `json:"emails,omitempty"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Link is the LeadToCadence join row.
type Link struct {
	ID        int64      `json:"id" db:"id"`
	LeadID    int64      `json:"lead_id" db:"lead_id"`
	CadenceID int64      `json:"cadence_id" db:"cadence_id"`
	Status    LinkStatus `json:"status" db:"status"`
	Order     int        `json:"lead_cadence_order" db:"lead_cadence_order"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// LinkOrder is a single order assignment produced by the reconciler.
type LinkOrder struct {
	LinkID int64 `json:"link_id"`
	Order  int   `json:"order"`
}
