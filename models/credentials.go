package models

import "time"

// Credentials is the authenticated identity handed to a transport at login.
// The session never inspects or mutates it.
type Credentials struct {
	AccountID  string
	AppID      string
	Token      string
	Credential string
	Expiry     time.Time
}

// Expired reports whether the credentials carry an expiry that has passed.
func (c *Credentials) Expired(now time.Time) bool {
	if c == nil {
		return true
	}
	return !c.Expiry.IsZero() && now.After(c.Expiry)
}
