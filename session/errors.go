package session

import "errors"

var (
	ErrSessionActive        = errors.New("streaming session is already active")
	ErrSessionInactive      = errors.New("streaming session is not active")
	ErrSessionClosed        = errors.New("streaming session is closed")
	ErrNoSubscriptions      = errors.New("no subscriptions provided")
	ErrTooManySubscriptions = errors.New("too many subscriptions in one call")
	ErrReentrantCall        = errors.New("streaming session called from its own callback")
	ErrNilCallback          = errors.New("callback is required")
	ErrNilCredentials       = errors.New("credentials are required")
	ErrNilTransportFactory  = errors.New("transport factory is required")
	ErrInvalidQOS           = errors.New("invalid qos")
)

// Errors a Transport wraps so callers can classify failures.
var (
	ErrConnection     = errors.New("streaming connection failed")
	ErrAuthentication = errors.New("streaming login rejected")
	ErrTimeout        = errors.New("streaming operation timed out")
)
