package model

import "time"

// -------------------- EMPLOYER MODEL --------------------

// Employer is the persistent record owned by the identity store.
type Employer struct {
	EmployerID   int64     `json:"employerId" db:"employer_id"`
	BranchID     int64     `json:"branchId" db:"branch_id"`
	Email        string    `json:"employerEmail" db:"employer_email"`
	NicName      string    `json:"employerNicName" db:"nic_name"`
	FirstName    string    `json:"employerFirstName" db:"first_name"`
	LastName     string    `json:"employerLastName" db:"last_name"`
	Phone        string    `json:"employerPhone" db:"phone"`
	Address      string    `json:"employerAddress" db:"address"`
	Salary       float64   `json:"employerSalary" db:"salary"`
	NIC          string    `json:"employerNic" db:"nic"`
	Role         Role      `json:"role" db:"role"`
	Gender       string    `json:"gender" db:"gender"`
	DateOfBirth  string    `json:"dateOfBirth" db:"date_of_birth"` // YYYY-MM-DD
	Pin          int       `json:"pin" db:"pin"`
	ActiveStatus bool      `json:"activeStatus" db:"active_status"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// -------------------- SESSION EVENT MODEL --------------------

type SessionEventType string

const (
	EventSessionCached        SessionEventType = "session_cached"
	EventTemporaryLogout      SessionEventType = "temporary_logout"
	EventPermanentLogout      SessionEventType = "permanent_logout"
	EventCacheAuthenticated   SessionEventType = "cache_authenticated"
	EventStoreAuthenticated   SessionEventType = "store_authenticated"
	EventAuthenticationDenied SessionEventType = "authentication_denied"
)

// SessionEvent is an audit record for one session lifecycle transition.
type SessionEvent struct {
	EventID       string           `json:"event_id" ch:"event_id"`
	EventType     SessionEventType `json:"event_type" ch:"event_type"`
	EmployerEmail string           `json:"employer_email" ch:"employer_email"`
	EmployerID    int64            `json:"employer_id" ch:"employer_id"`
	BranchID      int64            `json:"branch_id" ch:"branch_id"`
	Role          string           `json:"role" ch:"role"`
	Reason        string           `json:"reason,omitempty" ch:"reason"`
	OccurredAt    time.Time        `json:"occurred_at" ch:"occurred_at"`
}
