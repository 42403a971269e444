package model

import "time"

// CachedSession is the denormalized snapshot kept in the session cache under
// session:<email>. Instants are Unix milliseconds so entries written by the
// older JVM services decode without translation.
type CachedSession struct {
	EmployerID            int64   `json:"employerId"`
	BranchID              int64   `json:"branchId"`
	NicName               string  `json:"employerNicName"`
	FirstName             string  `json:"employerFirstName"`
	LastName              string  `json:"employerLastName"`
	Email                 string  `json:"employerEmail"`
	Phone                 string  `json:"employerPhone"`
	Address               string  `json:"employerAddress"`
	Salary                float64 `json:"employerSalary"`
	NIC                   string  `json:"employerNic"`
	Role                  Role    `json:"role"`
	Gender                string  `json:"gender"`
	DateOfBirth           string  `json:"dateOfBirth"`
	Pin                   int     `json:"pin"`
	ActiveStatus          bool    `json:"activeStatus"`
	AccessToken           string  `json:"accessToken"`
	RefreshToken          string  `json:"refreshToken"`
	LoginTimestamp        int64   `json:"loginTimestamp"`
	LastActivityTimestamp int64   `json:"lastActivityTimestamp"`
	ExpiresAt             int64   `json:"expiresAt"`
	Revoked               bool    `json:"revoked"`
}

// NewCachedSession snapshots an employer at login time.
func NewCachedSession(emp *Employer, accessToken, refreshToken string, now time.Time, ttl time.Duration) *CachedSession {
	nowMs := now.UnixMilli()
	return &CachedSession{
		EmployerID:            emp.EmployerID,
		BranchID:              emp.BranchID,
		NicName:               emp.NicName,
		FirstName:             emp.FirstName,
		LastName:              emp.LastName,
		Email:                 emp.Email,
		Phone:                 emp.Phone,
		Address:               emp.Address,
		Salary:                emp.Salary,
		NIC:                   emp.NIC,
		Role:                  emp.Role,
		Gender:                emp.Gender,
		DateOfBirth:           emp.DateOfBirth,
		Pin:                   emp.Pin,
		ActiveStatus:          emp.ActiveStatus,
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		LoginTimestamp:        nowMs,
		LastActivityTimestamp: nowMs,
		ExpiresAt:             now.Add(ttl).UnixMilli(),
	}
}

// IsUsable reports whether the session may stand in for a full login at now.
// It is derived on every call and never stored.
func (s *CachedSession) IsUsable(now time.Time) bool {
	return s != nil && !s.Revoked && s.ExpiresAt > now.UnixMilli()
}

func (s *CachedSession) ExpiresAtTime() time.Time {
	return time.UnixMilli(s.ExpiresAt)
}

// Touch records activity and slides the expiry window; every rewrite of the
// entry goes through here so ExpiresAt tracks the key TTL.
func (s *CachedSession) Touch(now time.Time, ttl time.Duration) {
	s.LastActivityTimestamp = now.UnixMilli()
	s.ExpiresAt = now.Add(ttl).UnixMilli()
}

// -------------------- SESSION VIEW --------------------

// SessionView is what clients receive for a cached session. The PIN never
// leaves the service.
type SessionView struct {
	AuthenticationResponse AuthenticationPart `json:"authenticationResponse"`
	EmployerDetails        EmployerDetails    `json:"employerDetails"`
	Revoked                bool               `json:"revoked"`
	ExpiresAt              int64              `json:"expiresAt"`
}

type AuthenticationPart struct {
	Message      string `json:"message"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type EmployerDetails struct {
	EmployerID   int64        `json:"employerId"`
	BranchID     int64        `json:"branchId"`
	NicName      string       `json:"employerNicName"`
	FirstName    string       `json:"employerFirstName"`
	LastName     string       `json:"employerLastName"`
	Email        string       `json:"employerEmail"`
	Phone        string       `json:"employerPhone"`
	Address      string       `json:"employerAddress"`
	Salary       float64      `json:"employerSalary"`
	NIC          string       `json:"employerNic"`
	Gender       string       `json:"gender"`
	DateOfBirth  string       `json:"dateOfBirth"`
	Role         Role         `json:"role"`
	Permissions  []Permission `json:"permissions"`
	ActiveStatus bool         `json:"activeStatus"`
}

// View projects the session for clients.
func (s *CachedSession) View(message string) *SessionView {
	return &SessionView{
		AuthenticationResponse: AuthenticationPart{
			Message:      message,
			AccessToken:  s.AccessToken,
			RefreshToken: s.RefreshToken,
		},
		EmployerDetails: EmployerDetails{
			EmployerID:   s.EmployerID,
			BranchID:     s.BranchID,
			NicName:      s.NicName,
			FirstName:    s.FirstName,
			LastName:     s.LastName,
			Email:        s.Email,
			Phone:        s.Phone,
			Address:      s.Address,
			Salary:       s.Salary,
			NIC:          s.NIC,
			Gender:       s.Gender,
			DateOfBirth:  s.DateOfBirth,
			Role:         s.Role,
			Permissions:  s.Role.Permissions(),
			ActiveStatus: s.ActiveStatus,
		},
		Revoked:   s.Revoked,
		ExpiresAt: s.ExpiresAt,
	}
}
