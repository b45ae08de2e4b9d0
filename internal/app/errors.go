package app

import "errors"

var (
	ErrValidation      = errors.New("invalid input")
	ErrProjectNotFound = errors.New("project not found")
	ErrNoteNotFound    = errors.New("note not found")
	ErrFileNotFound    = errors.New("file not found")
	ErrUserNotFound    = errors.New("user not found")

	// ErrOTPInvalid deliberately covers wrong, used and expired codes so the
	// response does not reveal which check failed.
	ErrOTPInvalid     = errors.New("invalid or expired code")
	ErrOTPRateLimited = errors.New("too many code requests")

	// ErrInvalidCredentials is shown to end users on a failed admin login.
	ErrInvalidCredentials = errors.New("incorrect password")

	ErrUnauthorized      = errors.New("unauthorized")
	ErrProfileIncomplete = errors.New("profile must be completed before uploading")
)
