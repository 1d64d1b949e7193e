package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var timeFixture = time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

func TestQuotesSubscriptionNormalizesSymbols(t *testing.T) {
	sub, err := NewQuotesSubscription([]string{"spy", "qqq", "SPY"}, []FieldID{QuoteFieldBidPrice, QuoteFieldSymbol})
	require.NoError(t, err)

	assert.Equal(t, []string{"SPY", "QQQ"}, sub.Symbols())
	assert.Equal(t, []FieldID{QuoteFieldSymbol, QuoteFieldBidPrice}, sub.Fields())
	assert.Equal(t, ServiceQuote, sub.Service())
	assert.Equal(t, CommandSubs, sub.Command())
	assert.Equal(t, "QUOTE", sub.ServiceName())
	assert.Equal(t, "SUBS", sub.CommandName())
}

func TestSymbolFieldSubscriptionRejectsEmptyPayload(t *testing.T) {
	for _, cmd := range []CommandType{CommandSubs, CommandAdd, CommandView} {
		_, err := NewQuotesSubscription(nil, []FieldID{QuoteFieldSymbol}, WithCommand(cmd))
		if !errors.Is(err, ErrInvalidSubscription) {
			t.Fatalf("%s with no symbols: expected validation error, got %v", cmd, err)
		}
		_, err = NewQuotesSubscription([]string{"SPY"}, nil, WithCommand(cmd))
		if !errors.Is(err, ErrInvalidSubscription) {
			t.Fatalf("%s with no fields: expected validation error, got %v", cmd, err)
		}
	}
}

func TestUnsubsAllowsEmptyFields(t *testing.T) {
	sub, err := NewTimesaleEquitySubscription([]string{"ibm"}, nil, WithCommand(CommandUnsubs))
	require.NoError(t, err)
	assert.Equal(t, CommandUnsubs, sub.Command())
	assert.Empty(t, sub.Fields())

	_, err = NewTimesaleEquitySubscription(nil, nil, WithCommand(CommandUnsubs))
	assert.ErrorIs(t, err, ErrInvalidSubscription)
}

func TestFieldRangePerService(t *testing.T) {
	cases := []struct {
		service ServiceType
		max     FieldID
	}{
		{ServiceQuote, 52},
		{ServiceOption, 41},
		{ServiceLevelOneFutures, 35},
		{ServiceLevelOneForex, 29},
		{ServiceLevelOneFuturesOptions, 35},
		{ServiceNewsHeadline, 10},
		{ServiceChartEquity, 8},
		{ServiceChartFutures, 6},
		{ServiceChartOptions, 6},
		{ServiceTimesaleEquity, 4},
		{ServiceTimesaleFutures, 4},
		{ServiceTimesaleOptions, 4},
	}
	for _, c := range cases {
		if _, err := NewSymbolFieldSubscription(c.service, []string{"X"}, []FieldID{0, c.max}); err != nil {
			t.Fatalf("%s: field %d should be valid: %v", c.service, c.max, err)
		}
		if _, err := NewSymbolFieldSubscription(c.service, []string{"X"}, []FieldID{c.max + 1}); err == nil {
			t.Fatalf("%s: field %d should be rejected", c.service, c.max+1)
		}
		if _, err := NewSymbolFieldSubscription(c.service, []string{"X"}, []FieldID{-1}); err == nil {
			t.Fatalf("%s: negative field should be rejected", c.service)
		}
	}
}

func TestSymbolFieldSubscriptionRejectsActivesService(t *testing.T) {
	_, err := NewSymbolFieldSubscription(ServiceActivesNYSE, []string{"X"}, []FieldID{0})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "service", verr.Field)
}

func TestSetFieldsRoundTripAndDeferredValidation(t *testing.T) {
	sub, err := NewChartEquitySubscription([]string{"SPY"}, []FieldID{ChartEquityFieldSymbol})
	require.NoError(t, err)

	want := []FieldID{ChartEquityFieldChartDay, ChartEquityFieldOpenPrice, ChartEquityFieldVolume}
	sub.SetFields(want)
	assert.ElementsMatch(t, want, sub.Fields())
	require.NoError(t, sub.Validate())

	sub.SetFields([]FieldID{ChartEquityFieldChartDay + 1})
	assert.ErrorIs(t, sub.Validate(), ErrInvalidSubscription)

	sub.SetFields(want)
	sub.SetSymbols(nil)
	assert.ErrorIs(t, sub.Validate(), ErrInvalidSubscription)
}

func TestActivesSubscription(t *testing.T) {
	sub, err := NewActivesSubscription(ServiceActivesNasdaq, DurationMin60)
	require.NoError(t, err)
	assert.Equal(t, "NASDAQ-3600", sub.ActivesKey())
	assert.Equal(t, KindDuration, sub.Kind())

	opt, err := NewOptionActivesSubscription(VenueCallsDesc, DurationAllDay)
	require.NoError(t, err)
	assert.Equal(t, "CALLS-DESC-ALL", opt.ActivesKey())
	assert.Equal(t, ServiceActivesOptions, opt.Service())
}

func TestActivesSubscriptionRejectsOutOfRangeEnums(t *testing.T) {
	_, err := NewActivesSubscription(ServiceActivesNYSE, Duration(6))
	assert.ErrorIs(t, err, ErrInvalidSubscription)

	_, err = NewActivesSubscription(ServiceActivesOTCBB, Duration(-1))
	assert.ErrorIs(t, err, ErrInvalidSubscription)

	_, err = NewOptionActivesSubscription(Venue(6), DurationMin1)
	assert.ErrorIs(t, err, ErrInvalidSubscription)

	_, err = NewActivesSubscription(ServiceQuote, DurationMin1)
	assert.ErrorIs(t, err, ErrInvalidSubscription)
}

func TestCloneIsIndependent(t *testing.T) {
	sub, err := NewOptionsSubscription([]string{"SPY_011720C300"}, []FieldID{OptionFieldSymbol, OptionFieldDelta})
	require.NoError(t, err)

	cp := sub.Clone()
	require.NotSame(t, sub, cp)
	assert.True(t, cp.Equal(sub))

	cp.SetSymbols([]string{"QQQ"})
	cp.SetFields([]FieldID{OptionFieldMark})
	cp.SetCommand(CommandView)

	assert.Equal(t, []string{"SPY_011720C300"}, sub.Symbols())
	assert.Equal(t, []FieldID{OptionFieldSymbol, OptionFieldDelta}, sub.Fields())
	assert.Equal(t, CommandSubs, sub.Command())
	assert.False(t, cp.Equal(sub))
}

func TestEqualTreatsSymbolsAsSet(t *testing.T) {
	a, err := NewLevelOneForexSubscription([]string{"EUR/USD", "usd/jpy"}, []FieldID{1, 0})
	require.NoError(t, err)
	b, err := NewLevelOneForexSubscription([]string{"USD/JPY", "eur/usd"}, []FieldID{0, 1})
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	c, err := NewLevelOneForexSubscription([]string{"USD/JPY", "eur/usd"}, []FieldID{0, 1}, WithCommand(CommandAdd))
	require.NoError(t, err)
	assert.False(t, a.Equal(c))
}

func TestRawSubscription(t *testing.T) {
	params := map[string]string{"keys": "/ES", "fields": "0,1,2"}
	sub, err := NewRawSubscription("CHART_HISTORY_FUTURES", "GET", params)
	require.NoError(t, err)

	params["keys"] = "/NQ"
	assert.Equal(t, "/ES", sub.Parameters()["keys"])
	assert.Equal(t, ServiceNone, sub.Service())
	assert.Equal(t, "CHART_HISTORY_FUTURES", sub.ServiceName())
	assert.Equal(t, "GET", sub.CommandName())

	cp := sub.Clone()
	assert.True(t, cp.Equal(sub))
	cp.SetParameters(map[string]string{"keys": "/NQ"})
	assert.False(t, cp.Equal(sub))
	assert.Equal(t, "/ES", sub.Parameters()["keys"])

	_, err = NewRawSubscription("", "SUBS", nil)
	assert.ErrorIs(t, err, ErrInvalidSubscription)
}

func TestRawSubscriptionResolvesKnownService(t *testing.T) {
	sub, err := NewRawSubscription("quote", "add", map[string]string{"keys": "SPY", "fields": "0"})
	require.NoError(t, err)
	assert.Equal(t, ServiceQuote, sub.Service())
	assert.Equal(t, CommandAdd, sub.Command())
}

func TestParseEnums(t *testing.T) {
	q, err := ParseQOS("real-time")
	require.NoError(t, err)
	assert.Equal(t, QOSRealTime, q)
	assert.Equal(t, 750, int(q.Interval().Milliseconds()))

	_, err = ParseQOS("warp")
	assert.Error(t, err)

	cmd, err := ParseCommandType("")
	require.NoError(t, err)
	assert.Equal(t, CommandSubs, cmd)

	svc, err := ParseServiceType("levelone_futures_options")
	require.NoError(t, err)
	assert.Equal(t, ServiceLevelOneFuturesOptions, svc)

	d, err := ParseDuration("600")
	require.NoError(t, err)
	assert.Equal(t, DurationMin10, d)

	v, err := ParseVenue("puts-desc")
	require.NoError(t, err)
	assert.Equal(t, VenuePutsDesc, v)
}

func TestCredentialsExpired(t *testing.T) {
	var nilCreds *Credentials
	assert.True(t, nilCreds.Expired(timeFixture))
	assert.False(t, (&Credentials{}).Expired(timeFixture))
	assert.True(t, (&Credentials{Expiry: timeFixture.Add(-1)}).Expired(timeFixture))
}
