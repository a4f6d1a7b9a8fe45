// Package wire holds the small enumerated types shared by the streams
// metadata codec and the record codecs: the tagged-union stream kind, trade
// side, and aggressor/passive classification.
package wire

// StreamType identifies the kind of a stream record. Its numeric value is
// the low 7 bits of a record's leading tag byte, and is also the byte
// stored per-entry in StreamsMeta.
type StreamType byte

const (
	Seconds StreamType = iota // mandatory stream
	Quotes
	Trade
	Order   // reserved, no record body defined
	Summary // reserved, no record body defined
	Message // reserved, no record body defined
	invalid
)

func (s StreamType) Valid() bool { return s < invalid }

func (s StreamType) String() string {
	switch s {
	case Seconds:
		return "Seconds"
	case Quotes:
		return "Quotes"
	case Trade:
		return "Trade"
	case Order:
		return "Order"
	case Summary:
		return "Summary"
	case Message:
		return "Message"
	default:
		return "Invalid"
	}
}

// Side identifies the side of a trade.
type Side byte

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "S"
	}
	return "B"
}

// Aggr classifies which side of a trade removed liquidity.
type Aggr byte

const (
	AggrUndefined Aggr = iota
	AggrAggressor
	AggrPassive
)

func (a Aggr) String() string {
	switch a {
	case AggrAggressor:
		return "Aggr"
	case AggrPassive:
		return "Pass"
	default:
		return "Undef"
	}
}

// PriceUnit selects how a caller-supplied price is interpreted before it is
// normalized to an integer count of price steps.
type PriceUnit int

const (
	// DoubleVal: price expressed as a floating-point value (e.g. 1.23).
	DoubleVal PriceUnit = iota
	// PrecisionVal: price expressed as an integer scaled by 10^precision.
	PrecisionVal
	// PriceSteps: price already expressed as an integer count of steps.
	PriceSteps
)
