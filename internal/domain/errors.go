package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidState    = errors.New("invalid state")
	ErrConflict        = errors.New("conflict")
	ErrStorageFailure  = errors.New("storage failure")

	ErrRoomFull = fmt.Errorf("%w: room is full", ErrInvalidState)
)

type ErrorKind string

const (
	KindInvalidArgument ErrorKind = "INVALID_ARGUMENT"
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindForbidden       ErrorKind = "FORBIDDEN"
	KindInvalidState    ErrorKind = "INVALID_STATE"
	KindRoomFull        ErrorKind = "ROOM_FULL"
	KindConflict        ErrorKind = "CONFLICT"
	KindStorageFailure  ErrorKind = "STORAGE_FAILURE"
	KindInternal        ErrorKind = "INTERNAL"
)

// KindOf classifies err by the most specific sentinel it wraps.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoomFull):
		return KindRoomFull
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrStorageFailure):
		return KindStorageFailure
	default:
		return KindInternal
	}
}
