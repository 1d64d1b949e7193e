package models

import (
	"fmt"
	"time"
)

// CallbackKind classifies an event delivered to a session callback.
type CallbackKind int

const (
	CallbackListeningStart CallbackKind = iota
	CallbackListeningStop
	CallbackData
	CallbackRequestResponse
	CallbackNotify
	CallbackTimeout
	CallbackError
)

var callbackKindNames = [...]string{
	"LISTENING_START",
	"LISTENING_STOP",
	"DATA",
	"REQUEST_RESPONSE",
	"NOTIFY",
	"TIMEOUT",
	"ERROR",
}

func (k CallbackKind) String() string {
	if k.Valid() {
		return callbackKindNames[k]
	}
	return fmt.Sprintf("CALLBACK(%d)", int(k))
}

// Valid reports whether k is a member of the enumeration.
func (k CallbackKind) Valid() bool {
	return k >= CallbackListeningStart && k <= CallbackError
}

// CallbackEvent is a decoded inbound event. Payload holds the parsed JSON
// value (map, slice, scalar) or nil when absent or undecodable.
type CallbackEvent struct {
	Kind      CallbackKind
	Service   ServiceType
	Timestamp int64
	Payload   interface{}
}

// Time converts the millisecond timestamp to a time.Time.
func (e CallbackEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// RawEvent is what a transport hands to its sink before decoding.
type RawEvent struct {
	Kind      CallbackKind
	Service   ServiceType
	Timestamp int64
	Payload   []byte
}
