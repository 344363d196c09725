package model

import (
	"errors"
	"regexp"
	"time"
)

type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "active"
	AccountStatusRetired AccountStatus = "retired"
	AccountStatusError   AccountStatus = "error"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusRetired, AccountStatusError:
		return true
	}
	return false
}

// Account is an underlying phone session that backs Numbers and receives codes.
type Account struct {
	Phone        string        `json:"phone"`
	SessionName  string        `json:"session_name"`
	APIID        int64         `json:"api_id"`
	APIHash      string        `json:"-"`
	FirstName    string        `json:"first_name,omitempty"`
	LastName     string        `json:"last_name,omitempty"`
	Username     string        `json:"username,omitempty"`
	UserID       int64         `json:"user_id,omitempty"`
	Status       AccountStatus `json:"status"`
	AddedBy      int64         `json:"added_by"`
	AddedAt      time.Time     `json:"added_at"`
	LastUsed     *time.Time    `json:"last_used,omitempty"`
	LastCode     string        `json:"last_code,omitempty"`
	LastCodeTime *time.Time    `json:"last_code_time,omitempty"`
	IsBanned     bool          `json:"is_banned"`
	SpamBlock    bool          `json:"spam_block"`
	OwnerID      int64         `json:"owner_id,omitempty"`
	OwnerHandle  string        `json:"owner_handle,omitempty"`
	OwnerChecked bool          `json:"owner_checked"`
	Notes        string        `json:"notes,omitempty"`
}

// Healthy reports whether the account may back an available Number.
func (a *Account) Healthy() bool {
	return a.Status == AccountStatusActive && !a.IsBanned && !a.SpamBlock
}

// UnhealthyReason is empty for healthy accounts.
func (a *Account) UnhealthyReason() string {
	switch {
	case a.IsBanned:
		return "banned"
	case a.SpamBlock:
		return "spam blocked"
	case a.Status != AccountStatusActive:
		return "status " + string(a.Status)
	}
	return ""
}

var apiHashPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

type AccountCreateRequest struct {
	Phone       string
	SessionName string
	APIID       int64
	APIHash     string
	FirstName   string
	LastName    string
	Username    string
	UserID      int64
	Notes       string
}

func (p AccountCreateRequest) Validate() error {
	if p.Phone == "" {
		return errors.New("phone is required")
	}
	if p.SessionName == "" {
		return errors.New("session_name is required")
	}
	if p.APIID <= 0 {
		return errors.New("api_id must be positive")
	}
	if !apiHashPattern.MatchString(p.APIHash) {
		return errors.New("api_hash must be 32 lowercase hex characters")
	}
	return nil
}

// Owner is the result of an owner check against the session runtime.
type Owner struct {
	UserID int64
	Handle string
}
