// Package models defines the shared domain types for the coordination service.
package models

import "time"

// IncidentStatus is the lifecycle state of an SOS incident.
type IncidentStatus string

const (
	StatusPending           IncidentStatus = "Pending"
	StatusPendingAssignment IncidentStatus = "Pending Assignment"
	StatusInProgress        IncidentStatus = "In Progress"
	StatusDone              IncidentStatus = "Done"
	StatusCancelled         IncidentStatus = "Cancelled"
)

// OrgStatus reflects an organization's availability for new assignments.
type OrgStatus string

const (
	OrgActive     OrgStatus = "Active"
	OrgAvailable  OrgStatus = "Available"
	OrgOverloaded OrgStatus = "Overloaded"
	OrgInactive   OrgStatus = "Inactive"
)

// StaffStatus reflects a responder's availability.
type StaffStatus string

const (
	StaffAvailable StaffStatus = "Available"
	StaffBusy      StaffStatus = "Busy"
	StaffOffDuty   StaffStatus = "Off-duty"
)

// Role identifies what a principal may do on the API surface.
type Role string

const (
	RoleCitizen        Role = "citizen"
	RoleOrgAdmin       Role = "org_admin"
	RoleAuthorityAdmin Role = "authority_admin"
)

// Incident categories recognized by triage.
const (
	CategoryFloodRescue    = "Flood Rescue"
	CategoryMedical        = "Medical Emergency"
	CategoryFire           = "Fire Emergency"
	CategoryFoodShelter    = "Food and Shelter"
	CategoryInfrastructure = "Power and Infrastructure"
)

// Urgency labels derived from triage priority.
const (
	UrgencyCritical = "Critical"
	UrgencyHigh     = "High"
	UrgencyMedium   = "Medium"
	UrgencyLow      = "Low"
)

// Triage is the classification attached to an incident at intake.
type Triage struct {
	Category       string   `json:"category"`
	Priority       int      `json:"priority"`
	Urgency        string   `json:"urgency"`
	PeopleCount    int      `json:"people_count"`
	RequiredSkills []string `json:"required_skills"`
	Division       string   `json:"division"`
	Confidence     float64  `json:"confidence"`
	Source         string   `json:"source"` // "rules" or "gemini"
}

// Incident is an SOS report moving through the lifecycle.
type Incident struct {
	ID          string         `json:"id"`
	ReporterID  string         `json:"reporter_id"`
	Description string         `json:"description"`
	Latitude    float64        `json:"latitude"`
	Longitude   float64        `json:"longitude"`
	Status      IncidentStatus `json:"status"`
	Triage      Triage         `json:"triage"`

	AssignedOrgID      string     `json:"assigned_org_id,omitempty"`
	AssignedDivisionID string     `json:"assigned_division_id,omitempty"`
	AssignedStaffID    string     `json:"assigned_staff_id,omitempty"`
	AcceptDeadline     *time.Time `json:"accept_deadline,omitempty"`
	Overflow           bool       `json:"overflow,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Organization is a responding org (NGO, department, hospital network).
type Organization struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"` // e.g. "rescue", "medical", "fire", "relief", "infrastructure"
	Categories []string  `json:"categories"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Capacity   int       `json:"capacity"`
	Load       int       `json:"load"`
	Status     OrgStatus `json:"status"`
}

// Division is a unit within an organization.
type Division struct {
	ID       string   `json:"id"`
	OrgID    string   `json:"org_id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Skills   []string `json:"skills"`
	Capacity int      `json:"capacity"`
	Load     int      `json:"load"`
}

// Staff is an individual responder attached to a division.
type Staff struct {
	ID         string      `json:"id"`
	OrgID      string      `json:"org_id"`
	DivisionID string      `json:"division_id"`
	Name       string      `json:"name"`
	Skills     []string    `json:"skills"`
	Status     StaffStatus `json:"status"`
	Latitude   float64     `json:"latitude"`
	Longitude  float64     `json:"longitude"`
}

// Facility is a static point of interest for nearest-facility lookups.
type Facility struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"` // "hospital", "shelter", "police"
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// User is an authenticated account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	OrgID        string    `json:"org_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Rejection records that an org declined an incident; it drives the
// re-ranking cooldown.
type Rejection struct {
	IncidentID string    `json:"incident_id"`
	OrgID      string    `json:"org_id"`
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejected_at"`
}

// DispatchState is the durable state of a ticket-delivery job.
type DispatchState string

const (
	DispatchQueued    DispatchState = "Queued"
	DispatchInFlight  DispatchState = "InFlight"
	DispatchDelivered DispatchState = "Delivered"
	DispatchFailed    DispatchState = "Failed"
)

// DispatchJob is one queued mobile-ticket delivery.
type DispatchJob struct {
	ID             string        `json:"id"`
	TicketID       string        `json:"ticket_id"`
	Lane           int           `json:"lane"` // 0 (highest) .. 3
	State          DispatchState `json:"state"`
	Attempts       int           `json:"attempts"`
	NextAttemptAt  time.Time     `json:"next_attempt_at"`
	LastError      string        `json:"last_error,omitempty"`
	IdempotencyKey string        `json:"idempotency_key"`
	Payload        string        `json:"payload"` // JSON body delivered downstream
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// DispatchAttempt records one delivery try.
type DispatchAttempt struct {
	JobID      string    `json:"job_id"`
	Attempt    int       `json:"attempt"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Ticket is a normalized mobile submission after the ingestion pipeline.
type Ticket struct {
	ID             string    `json:"id"`
	SubmissionKey  string    `json:"submission_key"`
	Channel        string    `json:"channel"` // "sos", "voice", "image", "video", "text"
	Text           string    `json:"text"`
	Transcript     string    `json:"transcript,omitempty"`
	DeviceID       string    `json:"device_id"`
	ClientIP       string    `json:"client_ip"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Triage         Triage    `json:"triage"`
	WeatherScore   float64   `json:"weather_score"`
	WeatherStatus  string    `json:"weather_status"`
	DensityScore   float64   `json:"density_score"`
	LikelyDup      bool      `json:"likely_duplicate"`
	FraudScore     float64   `json:"fraud_score"`
	NeedsReview    bool      `json:"needs_review"`
	PriorityScore  float64   `json:"priority_score"`
	Lane           int       `json:"lane"`
	IncidentID     string    `json:"incident_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// UrgencyFor maps a triage priority onto its urgency label.
func UrgencyFor(priority int) string {
	switch {
	case priority >= 5:
		return UrgencyCritical
	case priority == 4:
		return UrgencyHigh
	case priority == 3:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}
