package model

import "time"

type SessionAction string

const (
	SessionActionAdd          SessionAction = "add"
	SessionActionOwnerCheck   SessionAction = "owner_check"
	SessionActionCodeReceived SessionAction = "code_received"
	SessionActionBanned       SessionAction = "banned_detected"
	SessionActionError        SessionAction = "error"
	SessionActionStatus       SessionAction = "status_changed"
	SessionActionUse          SessionAction = "use"
)

type SessionResult string

const (
	SessionResultSuccess SessionResult = "success"
	SessionResultFailure SessionResult = "failure"
	// SessionResultFlagged marks platform verdicts such as bans. They are
	// not operation failures.
	SessionResultFlagged SessionResult = "flagged"
)

type SessionLog struct {
	ID        int64         `json:"id"`
	Phone     string        `json:"phone"`
	Action    SessionAction `json:"action"`
	Result    SessionResult `json:"result"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type SystemLog struct {
	ID        int64     `json:"id"`
	Level     Level     `json:"level"`
	Module    string    `json:"module"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
