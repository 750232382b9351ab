package engine

import "errors"

var ErrNotFound = errors.New("not found")
var ErrAlreadyExists = errors.New("already exists")
var ErrBanned = errors.New("banned from room")
var ErrForbidden = errors.New("forbidden")
var ErrInvalidTransition = errors.New("invalid transition")
var ErrAlreadyInProgress = errors.New("already in progress")
var ErrInvalidCard = errors.New("invalid card")
var ErrInvalidArgument = errors.New("invalid argument")
var ErrRateLimited = errors.New("rate limited")
var ErrTimeout = errors.New("timeout")
var ErrUnsupportedCommand = errors.New("unsupported command")

// ErrStaleTimer is returned for countdown ticks whose generation is no longer current.
var ErrStaleTimer = errors.New("stale countdown timer")

type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindAlreadyExists     Kind = "ALREADY_EXISTS"
	KindBanned            Kind = "BANNED"
	KindForbidden         Kind = "FORBIDDEN"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindAlreadyInProgress Kind = "ALREADY_IN_PROGRESS"
	KindInvalidCard       Kind = "INVALID_CARD"
	KindInvalidArgument   Kind = "INVALID_ARGUMENT"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindTimeout           Kind = "TIMEOUT"
	KindInternal          Kind = "INTERNAL"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrAlreadyExists, KindAlreadyExists},
	{ErrBanned, KindBanned},
	{ErrForbidden, KindForbidden},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrAlreadyInProgress, KindAlreadyInProgress},
	{ErrInvalidCard, KindInvalidCard},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrRateLimited, KindRateLimited},
	{ErrTimeout, KindTimeout},
}

// KindOf classifies err into one of the error kinds exposed to clients.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
