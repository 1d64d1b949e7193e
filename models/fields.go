package models

// FieldID selects a column of a symbol-keyed feed. Each service has its own
// contiguous range starting at zero.
type FieldID int

// Quote fields.
const (
	QuoteFieldSymbol FieldID = iota
	QuoteFieldBidPrice
	QuoteFieldAskPrice
	QuoteFieldLastPrice
	QuoteFieldBidSize
	QuoteFieldAskSize
	QuoteFieldAskID
	QuoteFieldBidID
	QuoteFieldTotalVolume
	QuoteFieldLastSize
	QuoteFieldTradeTime
	QuoteFieldQuoteTime
	QuoteFieldHighPrice
	QuoteFieldLowPrice
	QuoteFieldBidTick
	QuoteFieldClosePrice
)

// QuoteFieldMark and friends sit at the tail of the quote range.
const (
	QuoteFieldMark                         FieldID = 49
	QuoteFieldQuoteTimeAsLong              FieldID = 50
	QuoteFieldTradeTimeAsLong              FieldID = 51
	QuoteFieldRegularMarketTradeTimeAsLong FieldID = 52
)

// Option fields.
const (
	OptionFieldSymbol FieldID = iota
	OptionFieldDescription
	OptionFieldBidPrice
	OptionFieldAskPrice
	OptionFieldLastPrice
)

// Option greeks.
const (
	OptionFieldDelta FieldID = 32
	OptionFieldGamma FieldID = 33
	OptionFieldTheta FieldID = 34
	OptionFieldVega  FieldID = 35
	OptionFieldRho   FieldID = 36
	OptionFieldMark  FieldID = 41
)

// Level one futures, forex and futures-options share their leading columns.
const (
	LevelOneFieldSymbol FieldID = iota
	LevelOneFieldBidPrice
	LevelOneFieldAskPrice
	LevelOneFieldLastPrice
	LevelOneFieldBidSize
	LevelOneFieldAskSize
)

// News headline fields.
const (
	NewsFieldSymbol FieldID = iota
	NewsFieldErrorCode
	NewsFieldStoryDatetime
	NewsFieldHeadlineID
	NewsFieldStatus
	NewsFieldHeadline
	NewsFieldStoryID
	NewsFieldCountForKeyword
	NewsFieldKeywordArray
	NewsFieldIsHot
	NewsFieldStorySource
)

// Chart equity fields.
const (
	ChartEquityFieldSymbol FieldID = iota
	ChartEquityFieldOpenPrice
	ChartEquityFieldHighPrice
	ChartEquityFieldLowPrice
	ChartEquityFieldClosePrice
	ChartEquityFieldVolume
	ChartEquityFieldSequence
	ChartEquityFieldChartTime
	ChartEquityFieldChartDay
)

// Chart futures/options fields.
const (
	ChartFieldSymbol FieldID = iota
	ChartFieldChartTime
	ChartFieldOpenPrice
	ChartFieldHighPrice
	ChartFieldLowPrice
	ChartFieldClosePrice
	ChartFieldVolume
)

// Time and sales fields.
const (
	TimesaleFieldSymbol FieldID = iota
	TimesaleFieldTradeTime
	TimesaleFieldLastPrice
	TimesaleFieldLastSize
	TimesaleFieldLastSequence
)

// maxFieldID holds the highest valid field id for each symbol-keyed service.
var maxFieldID = map[ServiceType]FieldID{
	ServiceQuote:                  52,
	ServiceOption:                 41,
	ServiceLevelOneFutures:        35,
	ServiceLevelOneForex:          29,
	ServiceLevelOneFuturesOptions: 35,
	ServiceNewsHeadline:           10,
	ServiceChartEquity:            8,
	ServiceChartFutures:           6,
	ServiceChartOptions:           6,
	ServiceTimesaleEquity:         4,
	ServiceTimesaleFutures:        4,
	ServiceTimesaleOptions:        4,
}

// IsSymbolKeyed reports whether the service takes a symbol/field payload.
func (s ServiceType) IsSymbolKeyed() bool {
	_, ok := maxFieldID[s]
	return ok
}

// MaxField returns the highest valid field id for the service.
func (s ServiceType) MaxField() (FieldID, bool) {
	id, ok := maxFieldID[s]
	return id, ok
}

// ValidField reports whether id is within the service's field range.
func (s ServiceType) ValidField(id FieldID) bool {
	max, ok := maxFieldID[s]
	return ok && id >= 0 && id <= max
}
