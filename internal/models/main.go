// Package models defines the core data structures for users, credential
// generations and payment orders.
package models

import "time"

// User represents a registered identity together with its usage counters.
type User struct {
	// Login is the stable user identity (the client certificate CN).
	Login string `json:"login"`
	// CreatedAt is the registration time.
	CreatedAt time.Time `json:"createdAt"`
	// Stats holds the per-user usage counters.
	Stats UserStats `json:"stats"`
}

// UserStats holds the usage counters maintained by the generator.
type UserStats struct {
	// TotalGenerations counts successful generations.
	TotalGenerations int64 `json:"totalGenerations"`
	// Services lists distinct services used, in first-use order.
	Services []string `json:"favoriteServices"`
	// LastActivity is the time of the last login or generation.
	LastActivity time.Time `json:"lastActivity"`
}

// Generation is the immutable record of one issued credential.
type Generation struct {
	// ID equals the id of the stock reservation the line was taken from.
	ID string `json:"id"`
	// UserID is the login of the user the credential was issued to.
	UserID string `json:"userId"`
	// Service is the pool the line was taken from.
	Service string `json:"service"`
	// Account is the parsed credential line.
	Account Account `json:"account"`
	// CreatedAt is the issuance time.
	CreatedAt time.Time `json:"createdAt"`
}

// StatsReport is what the stats endpoint returns for a user.
type StatsReport struct {
	UserStats
	RecentGenerations []Generation `json:"recentGenerations"`
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	// OrderPending is the state of a freshly registered order.
	OrderPending OrderStatus = "pending"
	// OrderPaid is terminal.
	OrderPaid OrderStatus = "paid"
	// OrderUnknown is reported for order ids that were never registered.
	OrderUnknown OrderStatus = "unknown"
)

// Order is a payment intent reconciled against provider notifications.
type Order struct {
	OrderID    string      `json:"orderId"`
	Tag        string      `json:"discordTag,omitempty"`
	Total      string      `json:"total"`
	Currency   string      `json:"currency"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	TxnID      string      `json:"txn_id,omitempty"`
	PayerEmail string      `json:"payer_email,omitempty"`
	PaidAt     *time.Time  `json:"paidAt,omitempty"`
}

// Notification holds the IPN fields the reconciler consumes.
type Notification struct {
	Receiver      string
	PaymentStatus string
	TxnID         string
	PayerEmail    string
	Gross         string
	Currency      string
	Custom        string
	Invoice       string
	Memo          string
}

// Capture is the result of capturing a checkout order.
type Capture struct {
	Status string         `json:"status"`
	Raw    map[string]any `json:"details"`
}

// Reservation is a stock line taken out of the available pool but not yet
// confirmed as delivered.
type Reservation struct {
	ID         string
	Service    string
	Line       string
	ReservedAt time.Time

	// Delivered is set once the line was handed out without being recorded.
	Delivered bool
}

// ServiceStock is a catalogue entry: a service and its available lines.
type ServiceStock struct {
	Name      string `json:"name"`
	Available int    `json:"stock"`
}
