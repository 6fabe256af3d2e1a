package models

import (
	"time"
)

// PlotStatus is the reservation status of a plot.
type PlotStatus string

// Valid plot statuses. Any other value arriving from the source is
// normalized to StatusPending so an unknown status can never be ordered.
const (
	StatusAvailable PlotStatus = "available"
	StatusPending   PlotStatus = "pending"
	StatusTaken     PlotStatus = "taken"
)

// KnownStatus reports whether s is one of the recognized plot statuses.
func KnownStatus(s PlotStatus) bool {
	switch s {
	case StatusAvailable, StatusPending, StatusTaken:
		return true
	}
	return false
}

// Plot represents a land parcel as published by the remote land registry.
// ID and PlotCode are assigned upstream and immutable here. Location fields
// are guaranteed non-empty after normalization ("Unknown" when absent).
type Plot struct {
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Attributes   Attributes `json:"attributes,omitempty"`
	ID           string     `json:"id"`
	PlotCode     string     `json:"plotCode"`
	Status       PlotStatus `json:"status"`
	District     string     `json:"district"`
	Ward         string     `json:"ward"`
	Village      string     `json:"village"`
	Geometry     Geometry   `json:"geometry"`
	AreaHectares float64    `json:"areaHectares"`
}

// Orderable reports whether a reservation may be opened against the plot.
func (p *Plot) Orderable() bool {
	return p.Status == StatusAvailable
}

// OrderStatus is the lifecycle status of a reservation.
type OrderStatus string

// Valid order statuses.
const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderRejected  OrderStatus = "rejected"
)

// Applicant carries the identity fields required to open a reservation.
// Validation tags are enforced before any remote call is made.
type Applicant struct {
	FullName string `json:"fullName" binding:"required" validate:"required"`
	Email    string `json:"email" binding:"required,email" validate:"required,email"`
	Phone    string `json:"phone" binding:"required" validate:"required"`
	Address  string `json:"address,omitempty" validate:"-"`
}

// Order represents a reservation intent against exactly one plot.
type Order struct {
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	ID        string      `json:"id"`
	PlotID    string      `json:"plotId"`
	Status    OrderStatus `json:"status"`
	Applicant Applicant   `json:"applicant"`
}
