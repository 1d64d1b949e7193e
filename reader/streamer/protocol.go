package streamer

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"streamflow/models"
)

const (
	protocolVersion = "1.0"

	commandLogin  = "LOGIN"
	commandLogout = "LOGOUT"
	commandQOS    = "QOS"

	frameResponse = "response"
	frameNotify   = "notify"
	frameSnapshot = "snapshot"
	frameData     = "data"
)

// frameOrder is the order in which the sections of one inbound frame are
// handled, so events reach the sink in a stable order.
var frameOrder = []string{frameResponse, frameNotify, frameSnapshot, frameData}

// frameSections returns the keys of frame in frameOrder, followed by any
// unknown keys sorted by name.
func frameSections(frame map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(frame))
	for _, k := range frameOrder {
		if _, ok := frame[k]; ok {
			keys = append(keys, k)
		}
	}
	var unknown []string
	for k := range frame {
		switch k {
		case frameResponse, frameNotify, frameSnapshot, frameData:
		default:
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return append(keys, unknown...)
}

type request struct {
	Service    string            `json:"service"`
	RequestID  string            `json:"requestid"`
	Command    string            `json:"command"`
	Account    string            `json:"account"`
	Source     string            `json:"source"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type requestEnvelope struct {
	Requests []request `json:"requests"`
}

// flexString accepts a JSON string or number. The server sends request ids
// and heartbeats as strings but some deployments use numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type responseContent struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type responseEntry struct {
	Service   string          `json:"service"`
	RequestID flexString      `json:"requestid"`
	Command   string          `json:"command"`
	Timestamp int64           `json:"timestamp"`
	Content   responseContent `json:"content"`
}

func (r responseEntry) ok() bool { return r.Content.Code == 0 }

type dataEntry struct {
	Service   string          `json:"service"`
	Timestamp int64           `json:"timestamp"`
	Command   string          `json:"command"`
	Content   json.RawMessage `json:"content"`
}

type notifyEntry struct {
	Heartbeat *flexString `json:"heartbeat"`
}

// encodeSymbol rewrites a symbol into the streamer's key syntax: a class or
// series separator in the penultimate position becomes "/", "p" or "/WS/",
// and a trailing "+" becomes "/WS".
func encodeSymbol(symbol string) string {
	symbol = strings.ToUpper(symbol)
	n := len(symbol)
	if n < 2 {
		return symbol
	}
	switch symbol[n-2] {
	case '.':
		return symbol[:n-2] + "/" + symbol[n-1:]
	case '-':
		return symbol[:n-2] + "p" + symbol[n-1:]
	case '+':
		return symbol[:n-2] + "/WS/" + symbol[n-1:]
	}
	if symbol[n-1] == '+' {
		return symbol[:n-1] + "/WS"
	}
	return symbol
}

// subscriptionParameters builds the parameter map sent for sub.
func subscriptionParameters(sub *models.Subscription) map[string]string {
	switch sub.Kind() {
	case models.KindSymbolField:
		symbols := sub.Symbols()
		keys := make([]string, len(symbols))
		for i, s := range symbols {
			keys[i] = encodeSymbol(s)
		}
		params := map[string]string{"keys": strings.Join(keys, ",")}
		if fields := sub.Fields(); len(fields) > 0 {
			ids := make([]string, len(fields))
			for i, f := range fields {
				ids[i] = strconv.Itoa(int(f))
			}
			params["fields"] = strings.Join(ids, ",")
		}
		return params
	case models.KindDuration:
		return map[string]string{"keys": sub.ActivesKey(), "fields": "0,1"}
	default:
		return sub.Parameters()
	}
}

func loginParameters(creds *models.Credentials) map[string]string {
	return map[string]string{
		"token":      creds.Token,
		"version":    protocolVersion,
		"credential": creds.Credential,
	}
}

func qosParameters(qos models.QOS) map[string]string {
	return map[string]string{"qoslevel": strconv.Itoa(int(qos))}
}

// parseService maps a wire service name to its ServiceType, ServiceNone when unknown.
func parseService(name string) models.ServiceType {
	svc, err := models.ParseServiceType(name)
	if err != nil {
		return models.ServiceNone
	}
	return svc
}
