package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role names as stored in users.role
const (
	RoleTenant = "TENANT"
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
)

// User is the subset of the account record the booking core reads
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsTenant reports whether the user may join or create roommate groups
func (u *User) IsTenant() bool {
	return strings.EqualFold(strings.TrimSpace(u.Role), RoleTenant)
}
