package model

import "time"

// CodeDelivery records a code attached to a sold Number. There is one per
// (number, code); the delivery event for it is emitted when it is created.
type CodeDelivery struct {
	ID        int64     `json:"id"`
	NumberID  int64     `json:"number_id"`
	UserID    int64     `json:"user_id"`
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

// DeliveryEvent is sent to the chat front-end.
type DeliveryEvent struct {
	DeliveryID int64     `json:"delivery_id"`
	NumberID   int64     `json:"number_id"`
	UserID     int64     `json:"user_id"`
	Phone      string    `json:"phone"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
	Redelivery bool      `json:"redelivery,omitempty"`
}

// IncomingCode is what the phone-session runtime reports for an Account.
type IncomingCode struct {
	Phone      string    `json:"phone"`
	Code       string    `json:"code"`
	ReceivedAt time.Time `json:"received_at"`
}
