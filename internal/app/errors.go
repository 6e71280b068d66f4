package app

import "errors"

var (
	ErrDuplicateConnection   = errors.New("connection already registered")
	ErrAlreadyPaired         = errors.New("connection already paired")
	ErrNoPeer                = errors.New("no pair available for the call")
	ErrCalleeUnreachable     = errors.New("user is not reachable")
	ErrDuplicateCall         = errors.New("call already tracked")
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
