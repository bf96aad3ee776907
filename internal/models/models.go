package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RequestStatus is the lifecycle state of a delivery request. Once a
// request leaves pending it never returns to it.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestExpired   RequestStatus = "expired"
	RequestCancelled RequestStatus = "cancelled"
	RequestCompleted RequestStatus = "completed"
)

// Terminal reports whether no further transition is permitted.
func (s RequestStatus) Terminal() bool {
	return s == RequestExpired || s == RequestCancelled || s == RequestCompleted
}

// DeliveryRequest is a customer's ask for a courier. AssignedDriverID is
// set if and only if the status is accepted or completed.
type DeliveryRequest struct {
	ID               int64         `json:"id"`
	CustomerID       int64         `json:"customer_id"`
	PreferredDriver  int64         `json:"preferred_driver_id,omitempty"`
	Pickup           Coord         `json:"pickup"`
	Dropoff          Coord         `json:"dropoff"`
	PickupAddress    string        `json:"pickup_address"`
	DropoffAddress   string        `json:"dropoff_address"`
	VehicleType      string        `json:"vehicle_type"`
	DistanceMeters   float64       `json:"distance_meters"`
	FareCents        int64         `json:"fare_cents"`
	RecipientPhone   string        `json:"recipient_phone,omitempty"`
	PackageNotes     string        `json:"package_notes,omitempty"`
	Status           RequestStatus `json:"status"`
	AssignedDriverID int64         `json:"assigned_driver_id,omitempty"`
	ExpiresAt        time.Time     `json:"expires_at"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type ResponseKind string

const (
	ResponseAccepted ResponseKind = "accepted"
	ResponseRejected ResponseKind = "rejected"
)

// DriverResponse is append-only evidence of a driver's reply to a
// broadcast request. It never decides the assignment by itself.
type DriverResponse struct {
	RequestID int64        `json:"request_id"`
	DriverID  int64        `json:"driver_id"`
	Response  ResponseKind `json:"response"`
	CreatedAt time.Time    `json:"created_at"`
}

type ReferenceStatus string

const (
	ReferencePending   ReferenceStatus = "pending"
	ReferenceCompleted ReferenceStatus = "completed"
	ReferenceFailed    ReferenceStatus = "failed"
)

// PaymentReference correlates every gateway signal back to one driver.
// It is created before the gateway is asked to collect funds and its
// status only ever moves pending -> completed|failed.
type PaymentReference struct {
	Reference   string          `json:"reference"`
	DriverID    int64           `json:"driver_id"`
	AmountCents int64           `json:"amount_cents"`
	Method      string          `json:"method"`
	PollURL     string          `json:"poll_url,omitempty"`
	Status      ReferenceStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// DriverTransaction is one append-only wallet ledger row. At most one
// completed row may exist per payment reference; that is the idempotency
// boundary for wallet credit.
type DriverTransaction struct {
	ID          int64             `json:"id"`
	DriverID    int64             `json:"driver_id"`
	AmountCents int64             `json:"amount_cents"`
	Reference   string            `json:"reference"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Driver carries the wallet balance in integer minor units. Balance is
// written only through the wallet ledger's Apply.
type Driver struct {
	ID           int64     `json:"id"`
	VehicleType  string    `json:"vehicle_type"`
	Loc          Coord     `json:"loc"`
	Online       bool      `json:"online"`
	BalanceCents int64     `json:"balance_cents"`
	Updated      time.Time `json:"updated"`
}

// BookingOffer is the message broadcast to a candidate driver. It carries
// enough for the driver app to render and decide without a second fetch.
type BookingOffer struct {
	RequestID      int64     `json:"request_id"`
	CustomerID     int64     `json:"customer_id"`
	Pickup         Coord     `json:"pickup"`
	Dropoff        Coord     `json:"dropoff"`
	PickupAddress  string    `json:"pickup_address"`
	DropoffAddress string    `json:"dropoff_address"`
	VehicleType    string    `json:"vehicle_type"`
	DistanceMeters float64   `json:"distance_meters"`
	FareCents      int64     `json:"fare_cents"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// FeedEvent is a privacy-redacted live-feed entry: area label, never the
// exact address.
type FeedEvent struct {
	Type      string    `json:"type"`
	RequestID int64     `json:"request_id"`
	Area      string    `json:"area"`
	FareCents int64     `json:"fare_cents,omitempty"`
	DriverID  int64     `json:"driver_id,omitempty"`
	At        time.Time `json:"at"`
}

const (
	FeedNewRequest      = "new_request"
	FeedRequestAccepted = "request_accepted"
	FeedRequestRejected = "request_rejected"
)

// CustomerNotice is the direct message to a customer channel with the
// outcome of their request.
type CustomerNotice struct {
	Type      string `json:"type"`
	RequestID int64  `json:"request_id"`
	DriverID  int64  `json:"driver_id,omitempty"`
}

const (
	NoticeBookingAccepted = "BOOKING_ACCEPTED"
	NoticeBookingRejected = "BOOKING_REJECTED"
)

// TransactionUpdate is published on the driver channel after every
// reconcile branch so wallet UIs can refresh live.
type TransactionUpdate struct {
	Type         string            `json:"type"`
	Reference    string            `json:"reference"`
	DriverID     int64             `json:"driver_id"`
	AmountCents  int64             `json:"amount_cents"`
	Status       TransactionStatus `json:"status"`
	BalanceCents int64             `json:"balance_cents,omitempty"`
}
