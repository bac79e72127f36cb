package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a booking failure for the HTTP layer
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
)

// BookingError is a typed, caller-distinguishable failure. Two BookingErrors
// match under errors.Is when their codes are equal.
type BookingError struct {
	Kind    ErrorKind `json:"-"`
	Code    string    `json:"error"`
	Message string    `json:"message"`
}

func (e *BookingError) Error() string {
	return e.Message
}

// Is matches on Code so wrapped copies with a different message still match
func (e *BookingError) Is(target error) bool {
	t, ok := target.(*BookingError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of e carrying a more specific message
func (e *BookingError) WithMessage(format string, args ...interface{}) *BookingError {
	return &BookingError{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

func validationError(code, message string) *BookingError {
	return &BookingError{Kind: KindValidation, Code: code, Message: message}
}

func conflictError(code, message string) *BookingError {
	return &BookingError{Kind: KindConflict, Code: code, Message: message}
}

func notFoundError(code, message string) *BookingError {
	return &BookingError{Kind: KindNotFound, Code: code, Message: message}
}

// Validation
var (
	ErrNotTenant         = validationError("NOT_TENANT", "only tenants can create or join roommate groups")
	ErrGroupsNotAllowed  = validationError("GROUPS_NOT_ALLOWED", "this apartment does not allow group bookings")
	ErrInvalidInviteCode = validationError("INVALID_INVITE_CODE", "invite code must be 6 characters (A-Z, 0-9)")
	ErrInvalidRequest    = validationError("INVALID_REQUEST", "invalid request")
)

// Conflict
var (
	ErrAlreadyBooked          = conflictError("ALREADY_BOOKED", "apartment has already been booked")
	ErrGroupFull              = conflictError("GROUP_FULL", "this group is already full (4/4 members)")
	ErrGroupNotForming        = conflictError("GROUP_NOT_FORMING", "this group is no longer accepting members")
	ErrGroupNotReady          = conflictError("GROUP_NOT_READY", "group must be READY with exactly 4 members to book")
	ErrGroupBooked            = conflictError("GROUP_BOOKED", "cannot leave a group that has already booked the apartment")
	ErrGroupClosed            = conflictError("GROUP_CLOSED", "group is already booked or cancelled")
	ErrAlreadyMember          = conflictError("ALREADY_MEMBER", "you are already in this group")
	ErrActiveMembershipExists = conflictError("ACTIVE_MEMBERSHIP_EXISTS", "you are already in another active group")
	ErrNotMember              = conflictError("NOT_MEMBER", "you are not a member of this group")
	ErrNotGroupCreator        = conflictError("NOT_GROUP_CREATOR", "only the group creator can cancel the group")
	ErrPaymentInProgress      = conflictError("PAYMENT_IN_PROGRESS", "you already have a booking or a payment in progress")
)

// NotFound
var (
	ErrApartmentNotFound  = notFoundError("APARTMENT_NOT_FOUND", "apartment not found")
	ErrGroupNotFound      = notFoundError("GROUP_NOT_FOUND", "roommate group not found")
	ErrInviteCodeNotFound = notFoundError("INVITE_CODE_NOT_FOUND", "no group found for this invite code")
	ErrUserNotFound       = notFoundError("USER_NOT_FOUND", "user not found")
	ErrPaymentNotFound    = notFoundError("PAYMENT_NOT_FOUND", "payment not found")
	ErrNoActiveBooking    = notFoundError("NO_ACTIVE_BOOKING", "no booking found for this tenant and apartment")
)

// ErrInviteCodeExhausted is an infrastructure failure: no free code was found
// within the configured number of draws.
var ErrInviteCodeExhausted = errors.New("failed to generate a unique invite code")

// AsBookingError extracts a BookingError from an error chain
func AsBookingError(err error) (*BookingError, bool) {
	var be *BookingError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
