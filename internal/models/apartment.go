package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ApartmentStatus represents the rental state of an apartment
type ApartmentStatus string

const (
	ApartmentStatusAvailable ApartmentStatus = "AVAILABLE"
	ApartmentStatusRented    ApartmentStatus = "RENTED"
)

// OccupancyType restricts who may book an apartment
type OccupancyType string

const (
	OccupancySolo  OccupancyType = "solo"
	OccupancyGroup OccupancyType = "group"
	OccupancyBoth  OccupancyType = "both"
)

// Apartment is the rentable unit. Booked and Status always move together.
type Apartment struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	OwnerID       uuid.UUID       `json:"owner_id" db:"owner_id"`
	Title         string          `json:"title" db:"title"`
	Address       string          `json:"address" db:"address"`
	District      string          `json:"district" db:"district"`
	MonthlyRent   decimal.Decimal `json:"monthly_rent" db:"monthly_rent"`
	AllowedFor    OccupancyType   `json:"allowed_for" db:"allowed_for"`
	Booked        bool            `json:"booked" db:"booked"`
	Status        ApartmentStatus `json:"status" db:"status"`
	AvailableFrom time.Time       `json:"available_from" db:"available_from"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// AllowsGroups reports whether roommate groups may form for this apartment
func (a *Apartment) AllowsGroups() bool {
	return a.AllowedFor == OccupancyGroup || a.AllowedFor == OccupancyBoth
}

// IsAllocatable reports whether the apartment can still be booked
func (a *Apartment) IsAllocatable() bool {
	return !a.Booked && a.Status == ApartmentStatusAvailable
}
