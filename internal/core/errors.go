package core

import "errors"

var (
	ErrAlreadyInFamily      = errors.New("already in a family")
	ErrNotOwner             = errors.New("only the family owner can do this")
	ErrMemberNotFound       = errors.New("member not found")
	ErrOwnerCannotLeave     = errors.New("owner cannot leave the family, delete it instead")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired invite code")
	ErrInviteNotFound       = errors.New("invite not found")
	ErrAlreadyInvited       = errors.New("already invited")
	ErrAlreadyMember        = errors.New("already a member")
	ErrSelfInvite           = errors.New("cannot invite yourself")
	ErrAlreadyInList        = errors.New("already in your list")
	ErrValidation           = errors.New("validation failed")
	ErrUploadFailed         = errors.New("attachment upload failed")
	ErrNotAuthenticated     = errors.New("not authenticated")
)

// ValidationError names the offending field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
