package store

import "errors"

var (
	ErrOverlapConflict = errors.New("reservation overlaps an active reservation")
	ErrWindowNotFound  = errors.New("availability window not found")
	ErrOutOfRange      = errors.New("range not contained in an availability window")
	ErrWindowBlocked   = errors.New("availability window is blocked")
	ErrWindowNotEmpty  = errors.New("availability window has active reservations")
	ErrLockTimeout     = errors.New("timed out waiting for the provider schedule lock")
	ErrStaleStatus     = errors.New("reservation status changed concurrently")
	ErrNotFound        = errors.New("not found")
)
