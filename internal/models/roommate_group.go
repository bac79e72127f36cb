package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxGroupMembers is the exact size of a bookable roommate group
const MaxGroupMembers = 4

// ============================================================================
// GROUP STATUS (matches roommate_groups.status CHECK constraint)
// ============================================================================

// GroupStatus represents the lifecycle state of a roommate group
type GroupStatus string

const (
	GroupStatusForming   GroupStatus = "FORMING"   // Accepting members
	GroupStatusReady     GroupStatus = "READY"     // Exactly 4 members, may book
	GroupStatusBooked    GroupStatus = "BOOKED"    // Apartment secured (terminal)
	GroupStatusCancelled GroupStatus = "CANCELLED" // Superseded or cancelled (terminal)
)

// ActiveGroupStatuses are the statuses that count as an active membership
var ActiveGroupStatuses = []GroupStatus{GroupStatusForming, GroupStatusReady}

// IsTerminal reports whether no further transition is allowed
func (s GroupStatus) IsTerminal() bool {
	return s == GroupStatusBooked || s == GroupStatusCancelled
}

// IsActive reports whether the status is FORMING or READY
func (s GroupStatus) IsActive() bool {
	return s == GroupStatusForming || s == GroupStatusReady
}

// ParseGroupStatus validates a status string, case-insensitive
func ParseGroupStatus(value string) (GroupStatus, bool) {
	switch GroupStatus(strings.ToUpper(strings.TrimSpace(value))) {
	case GroupStatusForming:
		return GroupStatusForming, true
	case GroupStatusReady:
		return GroupStatusReady, true
	case GroupStatusBooked:
		return GroupStatusBooked, true
	case GroupStatusCancelled:
		return GroupStatusCancelled, true
	}
	return "", false
}

// ============================================================================
// GROUP AGGREGATE
// ============================================================================

// RoommateGroup is a coalition of tenants pursuing one apartment
type RoommateGroup struct {
	ID          uuid.UUID             `json:"id" db:"id"`
	ApartmentID uuid.UUID             `json:"apartment_id" db:"apartment_id"`
	CreatorID   uuid.UUID             `json:"creator_id" db:"creator_id"`
	InviteCode  string                `json:"invite_code" db:"invite_code"`
	Status      GroupStatus           `json:"status" db:"status"`
	CreatedAt   time.Time             `json:"created_at" db:"created_at"`
	BookedAt    *time.Time            `json:"booked_at,omitempty" db:"booked_at"`
	Members     []RoommateGroupMember `json:"members,omitempty" db:"-"`
}

// RoommateGroupMember is a tenant's membership in a group
type RoommateGroupMember struct {
	GroupID    uuid.UUID `json:"group_id" db:"group_id"`
	TenantID   uuid.UUID `json:"tenant_id" db:"tenant_id"`
	TenantName string    `json:"tenant_name,omitempty" db:"tenant_name"`
	JoinedAt   time.Time `json:"joined_at" db:"joined_at"`
}

// MemberCount returns the number of loaded members
func (g *RoommateGroup) MemberCount() int {
	return len(g.Members)
}

// IsFull reports whether the loaded member set is at capacity
func (g *RoommateGroup) IsFull() bool {
	return len(g.Members) >= MaxGroupMembers
}

// HasMember reports whether the tenant is among the loaded members
func (g *RoommateGroup) HasMember(tenantID uuid.UUID) bool {
	for _, m := range g.Members {
		if m.TenantID == tenantID {
			return true
		}
	}
	return false
}

// CanTransitionTo validates a status change against the group state machine
func (g *RoommateGroup) CanTransitionTo(next GroupStatus) bool {
	switch g.Status {
	case GroupStatusForming:
		return next == GroupStatusReady || next == GroupStatusCancelled
	case GroupStatusReady:
		return next == GroupStatusForming || next == GroupStatusBooked || next == GroupStatusCancelled
	}
	return false
}

// StatusForCount returns FORMING or READY for an active group of the given size
func StatusForCount(count int) GroupStatus {
	if count >= MaxGroupMembers {
		return GroupStatusReady
	}
	return GroupStatusForming
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// CreateGroupRequest is the body for POST /groups
type CreateGroupRequest struct {
	ApartmentID string `json:"apartment_id" binding:"required"`
}

// JoinGroupRequest is the body for POST /groups/join
type JoinGroupRequest struct {
	InviteCode string `json:"invite_code" binding:"required"`
}

// TenantGroupStatus summarises a tenant's current active group
type TenantGroupStatus struct {
	InGroup     bool        `json:"in_group"`
	GroupID     *uuid.UUID  `json:"group_id,omitempty"`
	ApartmentID *uuid.UUID  `json:"apartment_id,omitempty"`
	InviteCode  string      `json:"invite_code,omitempty"`
	Status      GroupStatus `json:"status,omitempty"`
	MemberCount int         `json:"member_count"`
	MaxMembers  int         `json:"max_members"`
	IsFull      bool        `json:"is_full"`
	IsCreator   bool        `json:"is_creator"`
	MemberNames []string    `json:"member_names,omitempty"`
}
