package domain

import "errors"

var (
	ErrUnknownEventKind = errors.New("unknown event kind")
	ErrUnauthorized     = errors.New("unauthorized")
)
