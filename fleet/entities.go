package fleet

import "time"

// Booking statuses.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingActive    = "active"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
)

// Vehicle statuses.
const (
	VehicleAvailable   = "available"
	VehicleRented      = "rented"
	VehicleMaintenance = "maintenance"
)

// Host statuses.
const (
	HostActive    = "active"
	HostSuspended = "suspended"
)

// Post statuses.
const (
	PostDraft     = "draft"
	PostPublished = "published"
)

// Booking is a customer's rental of a vehicle between StartsAt and EndsAt.
type Booking struct {
	ID         string    `json:"id,omitempty"`
	CustomerID string    `json:"customerId"`
	VehicleID  string    `json:"vehicleId"`
	HostID     string    `json:"hostId,omitempty"`
	Status     string    `json:"status"`
	StartsAt   time.Time `json:"startsAt"`
	EndsAt     time.Time `json:"endsAt"`
	Total      float64   `json:"total"`
}

// Host owns vehicles listed on the platform.
type Host struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	City   string `json:"city"`
	Status string `json:"status"`
}

// Vehicle is a car offered for rent by a host.
type Vehicle struct {
	ID     string `json:"id,omitempty"`
	HostID string `json:"hostId"`
	Make   string `json:"make"`
	Model  string `json:"model"`
	Plate  string `json:"plate"`
	Year   int    `json:"year"`
	Status string `json:"status"`
}

// Customer is someone who books vehicles.
type Customer struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Invoice bills a booking. Amount is in Currency.
type Invoice struct {
	ID        string    `json:"id,omitempty"`
	BookingID string    `json:"bookingId"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	DueAt     time.Time `json:"dueAt"`
}

// Post is a blog article. PublishedAt is nil until it is published.
type Post struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

func bookingID(b Booking) string   { return b.ID }
func hostID(h Host) string         { return h.ID }
func vehicleID(v Vehicle) string   { return v.ID }
func customerID(c Customer) string { return c.ID }
func invoiceID(i Invoice) string   { return i.ID }
func postID(p Post) string         { return p.ID }

func bookingWithStatus(b Booking, status string) Booking { b.Status = status; return b }
func hostWithStatus(h Host, status string) Host          { h.Status = status; return h }
func vehicleWithStatus(v Vehicle, status string) Vehicle { v.Status = status; return v }
func postWithStatus(p Post, status string) Post          { p.Status = status; return p }
