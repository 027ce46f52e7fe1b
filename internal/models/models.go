package models

import "time"

// BloodGroup is one of the eight ABO/Rh types. Matching is exact-match on this
// value; there is no compatibility expansion (an O- donor is not considered for
// an A+ request).
type BloodGroup string

const (
	APos  BloodGroup = "A+"
	ANeg  BloodGroup = "A-"
	BPos  BloodGroup = "B+"
	BNeg  BloodGroup = "B-"
	ABPos BloodGroup = "AB+"
	ABNeg BloodGroup = "AB-"
	OPos  BloodGroup = "O+"
	ONeg  BloodGroup = "O-"
)

func (b BloodGroup) Valid() bool {
	switch b {
	case APos, ANeg, BPos, BNeg, ABPos, ABNeg, OPos, ONeg:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyCritical Urgency = "critical"
)

type RequestStatus string

const (
	StatusActive    RequestStatus = "active"
	StatusFulfilled RequestStatus = "fulfilled"
	StatusClosed    RequestStatus = "closed"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusFulfilled || s == StatusClosed
}

// GeoTarget is a located point. Coordinates are always stored and serialized
// with explicit lat/lon fields; persistence keeps [longitude, latitude] order.
type GeoTarget struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Donor is a user eligible to be matched against requests.
type Donor struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	BloodGroup BloodGroup `json:"blood_group"`
	Available  bool       `json:"available"`
	Location   *GeoTarget `json:"location,omitempty"`
	Verified   bool       `json:"verified"`
	Updated    time.Time  `json:"updated"`
}

// Target returns the donor's location and whether one is set. A donor without
// coordinates is invisible to spatial queries, never an error.
func (d *Donor) Target() (GeoTarget, bool) {
	if d.Location == nil {
		return GeoTarget{}, false
	}
	return *d.Location, true
}

// Request is an emergency blood request. Location is optional: an unlocated
// request is persisted normally and simply skips matching.
type Request struct {
	ID            string        `json:"id"`
	RequesterID   string        `json:"requester_id"`
	PatientName   string        `json:"patient_name"`
	BloodGroup    BloodGroup    `json:"blood_group"`
	Units         int           `json:"units"`
	HospitalName  string        `json:"hospital_name"`
	LocationLabel string        `json:"location_label"`
	Location      *GeoTarget    `json:"location,omitempty"`
	Urgency       Urgency       `json:"urgency"`
	ContactNumber string        `json:"contact_number"`
	Note          string        `json:"note,omitempty"`
	Status        RequestStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (r *Request) Target() (GeoTarget, bool) {
	if r.Location == nil {
		return GeoTarget{}, false
	}
	return *r.Location, true
}

type NotificationType string

const (
	NotificationEmergency NotificationType = "emergency"
	NotificationInfo      NotificationType = "info"
	NotificationDrive     NotificationType = "drive"
)

// Notification is the persisted in-app record created as a side effect of a
// match. Donors never create these directly.
type Notification struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	SenderID    string            `json:"sender_id,omitempty"`
	Type        NotificationType  `json:"type"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Read        bool              `json:"read"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// MatchResult is the transient candidate set produced for one request. It is
// never persisted.
type MatchResult struct {
	RequestID string
	Donors    []Donor
}

func (m MatchResult) Empty() bool { return len(m.Donors) == 0 }
