// Package market defines the core data types shared by every component:
// bars, signals, orders, fills and positions.
package market

import (
	"fmt"
	"time"
)

// Timeframe is the closed set of supported bar aggregation intervals.
type Timeframe string

const (
	TimeframeTick Timeframe = "tick"
	Timeframe1Min Timeframe = "1min"
	Timeframe5Min Timeframe = "5min"
	Timeframe15Min Timeframe = "15min"
	Timeframe1Hour Timeframe = "1hour"
	Timeframe1Day  Timeframe = "1day"
)

// ValidTimeframes lists every accepted timeframe.
var ValidTimeframes = []Timeframe{
	TimeframeTick, Timeframe1Min, Timeframe5Min,
	Timeframe15Min, Timeframe1Hour, Timeframe1Day,
}

// RoundLotSize is the Taiwan stock round-lot unit.
const RoundLotSize = 1000

// Bar is an immutable OHLCV aggregate for a symbol at a timeframe.
type Bar struct {
	Symbol     string
	Timeframe  Timeframe
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	IsComplete bool
}

// Validate checks the OHLCV invariants: low <= {open, close} <= high and
// a non-negative volume.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar: symbol is required")
	}
	if b.Low > b.Open || b.Low > b.Close {
		return fmt.Errorf("bar %s@%s: low %.4f above open/close", b.Symbol, b.Timestamp.Format("2006-01-02 15:04"), b.Low)
	}
	if b.High < b.Open || b.High < b.Close {
		return fmt.Errorf("bar %s@%s: high %.4f below open/close", b.Symbol, b.Timestamp.Format("2006-01-02 15:04"), b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s@%s: negative volume %d", b.Symbol, b.Timestamp.Format("2006-01-02 15:04"), b.Volume)
	}
	return nil
}

// Direction is the signal direction produced by a strategy.
type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionExit    Direction = "exit"
	DirectionNeutral Direction = "neutral"
)

// TradeSignal is a single strategy decision for one tick. Signals that are
// not acted on are still persisted for audit.
type TradeSignal struct {
	Direction    Direction
	Confidence   float64 // [0, 1]
	Reason       string
	StrategyName string
	Symbol       string
	Price        float64
	Timestamp    time.Time
}

// Validate checks the confidence bound and direction membership.
func (s TradeSignal) Validate() error {
	switch s.Direction {
	case DirectionLong, DirectionShort, DirectionExit, DirectionNeutral:
	default:
		return fmt.Errorf("signal: unknown direction %q", s.Direction)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal: confidence %.4f outside [0,1]", s.Confidence)
	}
	return nil
}

// Side is the order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// LotType distinguishes Taiwan odd-lot (1-999 shares) from round-lot
// (multiples of 1000) orders.
type LotType string

const (
	LotTypeOdd   LotType = "odd"
	LotTypeRound LotType = "round"
)

// Order is a request to trade. Quantity is always positive; the side
// carries the sign.
type Order struct {
	Ref       string // unique order reference (uuid)
	Symbol    string
	Side      Side
	Quantity  int64
	Price     float64
	LotType   LotType
	IsExit    bool
	Emergency bool
}

// Validate enforces the order invariants: positive quantity and, for
// round-lot orders, a quantity that is a multiple of the lot size.
func (o Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order: symbol is required")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("order: unknown side %q", o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order %s: quantity must be positive, got %d", o.Symbol, o.Quantity)
	}
	if o.LotType == LotTypeRound && o.Quantity%RoundLotSize != 0 {
		return fmt.Errorf("order %s: round-lot quantity %d is not a multiple of %d", o.Symbol, o.Quantity, RoundLotSize)
	}
	return nil
}

// Fill is a materialized order.
type Fill struct {
	OrderRef    string
	Symbol      string
	Side        Side
	FilledQty   int64
	FilledPrice float64
	Timestamp   time.Time
	Fees        float64
	Tax         float64
	SlippageBps float64
}

// SignedQty returns the position delta this fill applies: positive for
// buys, negative for sells.
func (f Fill) SignedQty() int64 {
	if f.Side == SideSell {
		return -f.FilledQty
	}
	return f.FilledQty
}

// TradingMode selects the instruments the engine trades.
type TradingMode string

const (
	ModeStock           TradingMode = "stock"
	ModeFutures         TradingMode = "futures"
	ModeStockAndFutures TradingMode = "stock_and_futures"
)

// Position is a per-symbol holding. Quantity is signed: long > 0,
// short < 0, flat == 0. EntryTime is nil exactly when the position is flat.
type Position struct {
	Symbol        string
	Quantity      int64
	AvgEntryPrice float64
	EntryTime     *time.Time
	TradingMode   TradingMode
}

// IsFlat reports whether the position holds no quantity.
func (p Position) IsFlat() bool { return p.Quantity == 0 }

// IsLong reports whether the position is net long.
func (p Position) IsLong() bool { return p.Quantity > 0 }

// IsShort reports whether the position is net short.
func (p Position) IsShort() bool { return p.Quantity < 0 }

// UnrealizedPnL values the open quantity against a mark price.
func (p Position) UnrealizedPnL(mark float64) float64 {
	if p.Quantity == 0 {
		return 0
	}
	return float64(p.Quantity) * (mark - p.AvgEntryPrice)
}

// VetoSource identifies which risk check blocked a trade.
type VetoSource string

const (
	VetoBlackout    VetoSource = "blackout"
	VetoDailyLimit  VetoSource = "dailyLimit"
	VetoWeeklyLimit VetoSource = "weeklyLimit"
	VetoNews        VetoSource = "news"
	VetoPause       VetoSource = "pause"
	VetoLLM         VetoSource = "llm"
)

// VetoEvent records a risk-pipeline decision that blocked an otherwise
// valid signal.
type VetoEvent struct {
	Timestamp       time.Time
	Source          VetoSource
	Reason          string
	AffectedSymbols []string
}

// LlmInsight is a write-only enrichment record produced by the optional
// LLM summarization sink.
type LlmInsight struct {
	Timestamp        time.Time
	Type             string
	Symbol           string
	TradeID          string
	SignalID         string
	EventID          string
	Content          string
	Confidence       float64
	ProcessingTimeMs int64
	Success          bool
}

// ShadowStock is one entry of the ranked shadow evaluation list.
type ShadowStock struct {
	Rank         int
	Symbol       string
	StrategyName string
	Enabled      bool
}

// DefaultActiveStock is the boot default for the process-wide active
// symbol slot, persisted under the CURRENT_ACTIVE_STOCK config key.
const DefaultActiveStock = "2454.TW"

// ActiveStockKey is the system_config key holding the active symbol.
const ActiveStockKey = "CURRENT_ACTIVE_STOCK"
