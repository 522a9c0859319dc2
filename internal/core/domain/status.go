package domain

import "time"

// StatusValue is the health state published for a dependency
type StatusValue string

const (
	StatusAvailable  StatusValue = "Available"
	StatusInProgress StatusValue = "InProgress"
	StatusComplete   StatusValue = "Complete"
	StatusIncomplete StatusValue = "Incomplete"
)

// IsValid reports whether s is one of the known status values
func (s StatusValue) IsValid() bool {
	switch s {
	case StatusAvailable, StatusInProgress, StatusComplete, StatusIncomplete:
		return true
	}
	return false
}

// StatusRecord is the stored status of a (service, dependency) pair.
// At most one record exists per pair.
type StatusRecord struct {
	ID          string      `json:"id"`
	Service     string      `json:"service"`
	Dependency  string      `json:"dependency"`
	Status      StatusValue `json:"status"`
	Description string      `json:"description"`
	Error       string      `json:"error"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// StatusUpdate is a notification to upsert a status record
type StatusUpdate struct {
	Service     string
	Dependency  string
	Status      StatusValue
	Description string
	Error       string
}

// Apply copies the mutable fields of u onto r
func (r *StatusRecord) Apply(u StatusUpdate) {
	r.Status = u.Status
	r.Description = u.Description
	r.Error = u.Error
}
