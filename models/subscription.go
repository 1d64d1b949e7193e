package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// MaxFields bounds the field list of a single subscription.
	MaxFields = 100
	// MaxSymbols bounds the symbol list of a single subscription.
	MaxSymbols = 5000
)

// ErrInvalidSubscription is matched by every ValidationError.
var ErrInvalidSubscription = errors.New("invalid subscription")

// ValidationError describes why a subscription payload is malformed.
type ValidationError struct {
	Service ServiceType
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s subscription: %s %s", e.Service, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidSubscription
}

// SubscriptionKind tags the payload shape of a Subscription.
type SubscriptionKind int

const (
	KindSymbolField SubscriptionKind = iota
	KindDuration
	KindRaw
)

func (k SubscriptionKind) String() string {
	switch k {
	case KindSymbolField:
		return "symbol_field"
	case KindDuration:
		return "duration"
	case KindRaw:
		return "raw"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Subscription describes one feed request. Constructors validate eagerly;
// setters do not, and the combined payload is re-checked by Validate when the
// subscription is submitted to a session.
type Subscription struct {
	kind    SubscriptionKind
	service ServiceType
	command CommandType

	symbols []string
	fields  []FieldID

	duration Duration
	venue    Venue

	rawService string
	rawCommand string
	params     map[string]string
}

// Option adjusts a subscription at construction time.
type Option func(*Subscription)

// WithCommand overrides the default SUBS command.
func WithCommand(cmd CommandType) Option {
	return func(s *Subscription) { s.command = cmd }
}

// NewSymbolFieldSubscription builds a subscription for any symbol-keyed service.
func NewSymbolFieldSubscription(service ServiceType, symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	s := &Subscription{
		kind:    KindSymbolField,
		service: service,
		command: CommandSubs,
		symbols: normalizeSymbols(symbols),
		fields:  normalizeFields(fields),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func NewQuotesSubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceQuote, symbols, fields, opts...)
}

func NewOptionsSubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceOption, symbols, fields, opts...)
}

func NewLevelOneFuturesSubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceLevelOneFutures, symbols, fields, opts...)
}

func NewLevelOneForexSubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceLevelOneForex, symbols, fields, opts...)
}

func NewLevelOneFuturesOptionsSubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceLevelOneFuturesOptions, symbols, fields, opts...)
}

func NewNewsHeadlineSubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceNewsHeadline, symbols, fields, opts...)
}

func NewChartEquitySubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceChartEquity, symbols, fields, opts...)
}

func NewChartFuturesSubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceChartFutures, symbols, fields, opts...)
}

func NewChartOptionsSubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceChartOptions, symbols, fields, opts...)
}

func NewTimesaleEquitySubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceTimesaleEquity, symbols, fields, opts...)
}

func NewTimesaleFuturesSubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceTimesaleFutures, symbols, fields, opts...)
}

func NewTimesaleOptionsSubscription(symbols []string, fields []FieldID, opts ...Option) (*Subscription, error) {
	return NewSymbolFieldSubscription(ServiceTimesaleOptions, symbols, fields, opts...)
}

// NewActivesSubscription builds a NASDAQ, NYSE or OTCBB actives subscription.
func NewActivesSubscription(service ServiceType, duration Duration, opts ...Option) (*Subscription, error) {
	if service == ServiceActivesOptions {
		return NewOptionActivesSubscription(VenueOpts, duration, opts...)
	}
	s := &Subscription{kind: KindDuration, service: service, command: CommandSubs, duration: duration}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewOptionActivesSubscription builds an option actives subscription for a venue.
func NewOptionActivesSubscription(venue Venue, duration Duration, opts ...Option) (*Subscription, error) {
	s := &Subscription{
		kind:     KindDuration,
		service:  ServiceActivesOptions,
		command:  CommandSubs,
		duration: duration,
		venue:    venue,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewRawSubscription carries caller-chosen service/command names and
// parameters. Only the presence of the names is checked.
func NewRawSubscription(service, command string, params map[string]string) (*Subscription, error) {
	s := &Subscription{
		kind:       KindRaw,
		service:    ServiceNone,
		rawService: strings.TrimSpace(service),
		rawCommand: strings.TrimSpace(command),
		params:     copyParams(params),
	}
	if svc, err := ParseServiceType(s.rawService); err == nil {
		s.service = svc
	}
	if cmd, err := ParseCommandType(s.rawCommand); err == nil {
		s.command = cmd
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Subscription) Kind() SubscriptionKind { return s.kind }

// Service returns the feed category. Raw subscriptions whose service name is
// not a known feed report ServiceNone.
func (s *Subscription) Service() ServiceType { return s.service }

func (s *Subscription) Command() CommandType { return s.command }

// ServiceName is the service as it is sent on the wire.
func (s *Subscription) ServiceName() string {
	if s.kind == KindRaw {
		return s.rawService
	}
	return s.service.String()
}

// CommandName is the command as it is sent on the wire.
func (s *Subscription) CommandName() string {
	if s.kind == KindRaw {
		return s.rawCommand
	}
	return s.command.String()
}

// Symbols returns the upper-cased symbols in first-seen order.
func (s *Subscription) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

// Fields returns the field ids in ascending order.
func (s *Subscription) Fields() []FieldID {
	return append([]FieldID(nil), s.fields...)
}

func (s *Subscription) Duration() Duration { return s.duration }

func (s *Subscription) Venue() Venue { return s.venue }

// Parameters returns a copy of the raw parameter map.
func (s *Subscription) Parameters() map[string]string {
	return copyParams(s.params)
}

// ActivesKey is the "<venue>-<window>" key of a duration subscription.
func (s *Subscription) ActivesKey() string {
	if s.kind != KindDuration {
		return ""
	}
	venue := activesVenue[s.service]
	if s.service == ServiceActivesOptions {
		venue = s.venue.Label()
	}
	return venue + "-" + s.duration.Label()
}

func (s *Subscription) SetSymbols(symbols []string) {
	s.symbols = normalizeSymbols(symbols)
}

func (s *Subscription) SetFields(fields []FieldID) {
	s.fields = normalizeFields(fields)
}

func (s *Subscription) SetCommand(cmd CommandType) {
	s.command = cmd
	if s.kind == KindRaw {
		s.rawCommand = cmd.String()
	}
}

func (s *Subscription) SetDuration(d Duration) {
	s.duration = d
}

func (s *Subscription) SetVenue(v Venue) {
	s.venue = v
}

// SetParameters replaces the parameter map of a raw subscription.
func (s *Subscription) SetParameters(params map[string]string) {
	s.params = copyParams(params)
}

// Validate checks the combined payload against the rules of its service.
func (s *Subscription) Validate() error {
	if s == nil {
		return &ValidationError{Field: "subscription", Reason: "is nil"}
	}
	switch s.kind {
	case KindSymbolField:
		return s.validateSymbolField()
	case KindDuration:
		return s.validateDuration()
	case KindRaw:
		if s.rawService == "" {
			return s.invalid("service", "is required")
		}
		if s.rawCommand == "" {
			return s.invalid("command", "is required")
		}
		return nil
	}
	return s.invalid("kind", fmt.Sprintf("%d is unknown", int(s.kind)))
}

func (s *Subscription) validateSymbolField() error {
	if !s.service.IsSymbolKeyed() {
		return s.invalid("service", "does not take symbols and fields")
	}
	if !s.command.Valid() {
		return s.invalid("command", fmt.Sprintf("%d is out of range", int(s.command)))
	}
	if len(s.symbols) == 0 {
		return s.invalid("symbols", "must not be empty")
	}
	if len(s.symbols) > MaxSymbols {
		return s.invalid("symbols", fmt.Sprintf("exceeds %d entries", MaxSymbols))
	}
	if len(s.fields) == 0 && s.command != CommandUnsubs {
		return s.invalid("fields", "must not be empty for "+s.command.String())
	}
	if len(s.fields) > MaxFields {
		return s.invalid("fields", fmt.Sprintf("exceeds %d entries", MaxFields))
	}
	for _, f := range s.fields {
		if !s.service.ValidField(f) {
			max, _ := s.service.MaxField()
			return s.invalid("fields", fmt.Sprintf("id %d is outside 0..%d", int(f), int(max)))
		}
	}
	return nil
}

func (s *Subscription) validateDuration() error {
	if !s.service.IsActives() {
		return s.invalid("service", "is not an actives feed")
	}
	if !s.command.Valid() {
		return s.invalid("command", fmt.Sprintf("%d is out of range", int(s.command)))
	}
	if !s.duration.Valid() {
		return s.invalid("duration", fmt.Sprintf("%d is out of range", int(s.duration)))
	}
	if s.service == ServiceActivesOptions && !s.venue.Valid() {
		return s.invalid("venue", fmt.Sprintf("%d is out of range", int(s.venue)))
	}
	return nil
}

func (s *Subscription) invalid(field, reason string) error {
	return &ValidationError{Service: s.service, Field: field, Reason: reason}
}

// Equal compares subscriptions structurally. Symbols and fields compare as sets.
func (s *Subscription) Equal(o *Subscription) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.kind != o.kind || s.service != o.service || s.command != o.command {
		return false
	}
	switch s.kind {
	case KindSymbolField:
		return sameStrings(s.symbols, o.symbols) && sameFields(s.fields, o.fields)
	case KindDuration:
		if s.duration != o.duration {
			return false
		}
		return s.service != ServiceActivesOptions || s.venue == o.venue
	case KindRaw:
		if s.rawService != o.rawService || s.rawCommand != o.rawCommand || len(s.params) != len(o.params) {
			return false
		}
		for k, v := range s.params {
			if ov, ok := o.params[k]; !ok || ov != v {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns an independent deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.symbols = s.Symbols()
	c.fields = s.Fields()
	c.params = copyParams(s.params)
	return &c
}

func (s *Subscription) String() string {
	switch s.kind {
	case KindSymbolField:
		return fmt.Sprintf("%s %s symbols=%v fields=%v", s.service, s.command, s.symbols, s.fields)
	case KindDuration:
		return fmt.Sprintf("%s %s key=%s", s.service, s.command, s.ActivesKey())
	default:
		return fmt.Sprintf("%s %s params=%v", s.rawService, s.rawCommand, s.params)
	}
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

func normalizeFields(fields []FieldID) []FieldID {
	out := make([]FieldID, 0, len(fields))
	seen := make(map[FieldID]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func sameFields(a, b []FieldID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func copyParams(params map[string]string) map[string]string {
	if params == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
