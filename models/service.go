package models

import (
	"fmt"
	"strings"
	"time"
)

// ServiceType identifies a streaming feed category.
type ServiceType int

const (
	ServiceNone ServiceType = iota
	ServiceQuote
	ServiceOption
	ServiceLevelOneFutures
	ServiceLevelOneForex
	ServiceLevelOneFuturesOptions
	ServiceNewsHeadline
	ServiceChartEquity
	ServiceChartFutures
	ServiceChartOptions
	ServiceTimesaleEquity
	ServiceTimesaleFutures
	ServiceTimesaleOptions
	ServiceActivesNasdaq
	ServiceActivesNYSE
	ServiceActivesOTCBB
	ServiceActivesOptions
	ServiceAdmin
)

var serviceNames = map[ServiceType]string{
	ServiceNone:                   "NONE",
	ServiceQuote:                  "QUOTE",
	ServiceOption:                 "OPTION",
	ServiceLevelOneFutures:        "LEVELONE_FUTURES",
	ServiceLevelOneForex:          "LEVELONE_FOREX",
	ServiceLevelOneFuturesOptions: "LEVELONE_FUTURES_OPTIONS",
	ServiceNewsHeadline:           "NEWS_HEADLINE",
	ServiceChartEquity:            "CHART_EQUITY",
	ServiceChartFutures:           "CHART_FUTURES",
	ServiceChartOptions:           "CHART_OPTIONS",
	ServiceTimesaleEquity:         "TIMESALE_EQUITY",
	ServiceTimesaleFutures:        "TIMESALE_FUTURES",
	ServiceTimesaleOptions:        "TIMESALE_OPTIONS",
	ServiceActivesNasdaq:          "ACTIVES_NASDAQ",
	ServiceActivesNYSE:            "ACTIVES_NYSE",
	ServiceActivesOTCBB:           "ACTIVES_OTCBB",
	ServiceActivesOptions:         "ACTIVES_OPTIONS",
	ServiceAdmin:                  "ADMIN",
}

func (s ServiceType) String() string {
	if name, ok := serviceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SERVICE(%d)", int(s))
}

// Valid reports whether s is a member of the enumeration.
func (s ServiceType) Valid() bool {
	_, ok := serviceNames[s]
	return ok
}

// IsActives reports whether the service is keyed by duration/venue rather than symbols.
func (s ServiceType) IsActives() bool {
	switch s {
	case ServiceActivesNasdaq, ServiceActivesNYSE, ServiceActivesOTCBB, ServiceActivesOptions:
		return true
	}
	return false
}

// ParseServiceType maps a wire service name back to its ServiceType.
func ParseServiceType(name string) (ServiceType, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for svc, n := range serviceNames {
		if n == name {
			return svc, nil
		}
	}
	return ServiceNone, fmt.Errorf("unknown service %q", name)
}

// CommandType is the verb applied to a subscription.
type CommandType int

const (
	CommandSubs CommandType = iota
	CommandUnsubs
	CommandAdd
	CommandView
)

func (c CommandType) String() string {
	switch c {
	case CommandSubs:
		return "SUBS"
	case CommandUnsubs:
		return "UNSUBS"
	case CommandAdd:
		return "ADD"
	case CommandView:
		return "VIEW"
	}
	return fmt.Sprintf("COMMAND(%d)", int(c))
}

// Valid reports whether c is a member of the enumeration.
func (c CommandType) Valid() bool {
	return c >= CommandSubs && c <= CommandView
}

// ParseCommandType parses a command name. An empty name yields SUBS.
func ParseCommandType(name string) (CommandType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "SUBS":
		return CommandSubs, nil
	case "UNSUBS":
		return CommandUnsubs, nil
	case "ADD":
		return CommandAdd, nil
	case "VIEW":
		return CommandView, nil
	}
	return CommandSubs, fmt.Errorf("unknown command %q", name)
}

// QOS is the server push cadence tier, ordered fastest to slowest.
type QOS int

const (
	QOSExpress QOS = iota
	QOSRealTime
	QOSFast
	QOSModerate
	QOSSlow
	QOSDelayed
)

// DefaultQOS is the tier a new connection runs at before any negotiation.
const DefaultQOS = QOSFast

var qosNames = [...]string{"express", "real_time", "fast", "moderate", "slow", "delayed"}

var qosIntervals = [...]time.Duration{
	500 * time.Millisecond,
	750 * time.Millisecond,
	1000 * time.Millisecond,
	1500 * time.Millisecond,
	3000 * time.Millisecond,
	5000 * time.Millisecond,
}

func (q QOS) String() string {
	if q.Valid() {
		return qosNames[q]
	}
	return fmt.Sprintf("qos(%d)", int(q))
}

// Valid reports whether q is a member of the enumeration.
func (q QOS) Valid() bool {
	return q >= QOSExpress && q <= QOSDelayed
}

// Interval returns the nominal push cadence for the tier.
func (q QOS) Interval() time.Duration {
	if !q.Valid() {
		return 0
	}
	return qosIntervals[q]
}

// ParseQOS accepts the tier names used in configuration files.
func ParseQOS(name string) (QOS, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", "_")
	if n == "realtime" {
		n = "real_time"
	}
	for i, q := range qosNames {
		if q == n {
			return QOS(i), nil
		}
	}
	return DefaultQOS, fmt.Errorf("unknown qos %q", name)
}
