package models

import (
	"fmt"
	"strings"
)

// Duration is the look-back window of an actives feed.
type Duration int

const (
	DurationAllDay Duration = iota
	DurationMin60
	DurationMin30
	DurationMin10
	DurationMin5
	DurationMin1
)

var durationNames = [...]string{"all_day", "min_60", "min_30", "min_10", "min_5", "min_1"}
var durationLabels = [...]string{"ALL", "3600", "1800", "600", "300", "60"}

func (d Duration) String() string {
	if d.Valid() {
		return durationNames[d]
	}
	return fmt.Sprintf("duration(%d)", int(d))
}

// Valid reports whether d is a member of the enumeration.
func (d Duration) Valid() bool {
	return d >= DurationAllDay && d <= DurationMin1
}

// Label is the key fragment the streamer expects for the window.
func (d Duration) Label() string {
	if d.Valid() {
		return durationLabels[d]
	}
	return ""
}

// ParseDuration accepts either the enum name or the wire label.
func ParseDuration(s string) (Duration, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	for i := range durationNames {
		if n == durationNames[i] || strings.EqualFold(n, durationLabels[i]) {
			return Duration(i), nil
		}
	}
	return DurationAllDay, fmt.Errorf("unknown duration %q", s)
}

// Venue narrows the option actives feed.
type Venue int

const (
	VenueOpts Venue = iota
	VenueCalls
	VenuePuts
	VenueOptsDesc
	VenueCallsDesc
	VenuePutsDesc
)

var venueNames = [...]string{"opts", "calls", "puts", "opts_desc", "calls_desc", "puts_desc"}
var venueLabels = [...]string{"OPTS", "CALLS", "PUTS", "OPTS-DESC", "CALLS-DESC", "PUTS-DESC"}

func (v Venue) String() string {
	if v.Valid() {
		return venueNames[v]
	}
	return fmt.Sprintf("venue(%d)", int(v))
}

// Valid reports whether v is a member of the enumeration.
func (v Venue) Valid() bool {
	return v >= VenueOpts && v <= VenuePutsDesc
}

// Label is the key fragment the streamer expects for the venue.
func (v Venue) Label() string {
	if v.Valid() {
		return venueLabels[v]
	}
	return ""
}

// ParseVenue accepts either the enum name or the wire label.
func ParseVenue(s string) (Venue, error) {
	n := strings.TrimSpace(s)
	for i := range venueNames {
		if strings.EqualFold(n, venueNames[i]) || strings.EqualFold(n, venueLabels[i]) {
			return Venue(i), nil
		}
	}
	return VenueOpts, fmt.Errorf("unknown venue %q", s)
}

// activesVenue is the fixed key prefix of the equity actives feeds.
var activesVenue = map[ServiceType]string{
	ServiceActivesNasdaq: "NASDAQ",
	ServiceActivesNYSE:   "NYSE",
	ServiceActivesOTCBB:  "OTCBB",
}
