// Package ledger is the source of truth for per-symbol positions and
// realized P&L. The trading engine loop is the only logical writer;
// everyone else reads copy-on-read snapshots.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// RealizedPnL is one realized profit-and-loss entry, produced when a fill
// closes (part of) a position or when a position is flattened.
type RealizedPnL struct {
	Symbol     string
	Quantity   int64 // closed quantity, always positive
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Reason     string
	Timestamp  time.Time
}

// Ledger maps symbol -> position and accumulates realized P&L entries.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*market.Position
	realized  []RealizedPnL

	// onRealized, when set, is invoked (outside the lock) for every
	// realized entry so callers can persist or notify.
	onRealized func(RealizedPnL)
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*market.Position),
		realized:  make([]RealizedPnL, 0, 256),
	}
}

// SetOnRealized registers a callback fired for each realized P&L entry.
func (l *Ledger) SetOnRealized(fn func(RealizedPnL)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRealized = fn
}

// Get returns a copy of the position for symbol. A flat zero-value
// position is returned when the symbol has never traded.
func (l *Ledger) Get(symbol string) market.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if p, ok := l.positions[symbol]; ok {
		return clonePosition(p)
	}
	return market.Position{Symbol: symbol}
}

// Snapshot returns a copy of every non-flat position.
func (l *Ledger) Snapshot() map[string]market.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]market.Position, len(l.positions))
	for sym, p := range l.positions {
		if p.Quantity != 0 {
			out[sym] = clonePosition(p)
		}
	}
	return out
}

// Apply mutates the ledger with a fill. Same-sign fills average the entry
// price; opposite-sign fills realize P&L on the closed portion and, when
// the sign flips, reseed the entry at the fill price for the residual.
// Entry time resets on the flat -> non-flat transition and is preserved
// when adding to a same-direction position.
func (l *Ledger) Apply(fill market.Fill) (RealizedPnL, error) {
	if fill.FilledQty <= 0 {
		return RealizedPnL{}, fmt.Errorf("ledger: fill quantity must be positive, got %d", fill.FilledQty)
	}

	l.mu.Lock()

	pos, ok := l.positions[fill.Symbol]
	if !ok {
		pos = &market.Position{Symbol: fill.Symbol}
		l.positions[fill.Symbol] = pos
	}

	delta := fill.SignedQty()
	var entry RealizedPnL
	realizedSomething := false

	switch {
	case pos.Quantity == 0:
		// Flat -> non-flat: seed the position.
		pos.Quantity = delta
		pos.AvgEntryPrice = fill.FilledPrice
		t := fill.Timestamp
		pos.EntryTime = &t

	case sameSign(pos.Quantity, delta):
		// Adding to an existing position: weighted-average the entry.
		oldQty := pos.Quantity
		pos.AvgEntryPrice = (float64(abs(oldQty))*pos.AvgEntryPrice + float64(abs(delta))*fill.FilledPrice) /
			float64(abs(oldQty)+abs(delta))
		pos.Quantity += delta

	default:
		// Reducing, closing, or flipping.
		closed := min64(abs(pos.Quantity), abs(delta))
		direction := sign(pos.Quantity) // +1 long, -1 short
		pnl := float64(closed) * float64(direction) * (fill.FilledPrice - pos.AvgEntryPrice)

		entry = RealizedPnL{
			Symbol:     fill.Symbol,
			Quantity:   closed,
			EntryPrice: pos.AvgEntryPrice,
			ExitPrice:  fill.FilledPrice,
			PnL:        pnl,
			Reason:     "fill",
			Timestamp:  fill.Timestamp,
		}
		l.realized = append(l.realized, entry)
		realizedSomething = true

		remaining := pos.Quantity + delta
		if remaining == 0 {
			pos.Quantity = 0
			pos.AvgEntryPrice = 0
			pos.EntryTime = nil
		} else if sameSign(remaining, pos.Quantity) {
			// Partial close: entry price and time are preserved.
			pos.Quantity = remaining
		} else {
			// Sign flip: the residual is a fresh position at the fill price.
			pos.Quantity = remaining
			pos.AvgEntryPrice = fill.FilledPrice
			t := fill.Timestamp
			pos.EntryTime = &t
		}
	}

	cb := l.onRealized
	l.mu.Unlock()

	if realizedSomething && cb != nil {
		cb(entry)
	}
	return entry, nil
}

// Flatten closes the entire position in symbol at the given price,
// producing exactly one realized P&L entry. Flattening a flat symbol is a
// no-op that returns a zero entry.
func (l *Ledger) Flatten(symbol string, atPrice float64, reason string, now time.Time) (RealizedPnL, error) {
	l.mu.Lock()

	pos, ok := l.positions[symbol]
	if !ok || pos.Quantity == 0 {
		l.mu.Unlock()
		return RealizedPnL{}, nil
	}

	closed := abs(pos.Quantity)
	direction := sign(pos.Quantity)
	pnl := float64(closed) * float64(direction) * (atPrice - pos.AvgEntryPrice)

	entry := RealizedPnL{
		Symbol:     symbol,
		Quantity:   closed,
		EntryPrice: pos.AvgEntryPrice,
		ExitPrice:  atPrice,
		PnL:        pnl,
		Reason:     reason,
		Timestamp:  now,
	}
	l.realized = append(l.realized, entry)

	pos.Quantity = 0
	pos.AvgEntryPrice = 0
	pos.EntryTime = nil

	cb := l.onRealized
	l.mu.Unlock()

	if cb != nil {
		cb(entry)
	}
	return entry, nil
}

// Realized returns a copy of every realized P&L entry.
func (l *Ledger) Realized() []RealizedPnL {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]RealizedPnL, len(l.realized))
	copy(out, l.realized)
	return out
}

// RealizedSince sums realized P&L for entries at or after t.
func (l *Ledger) RealizedSince(t time.Time) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0.0
	for _, r := range l.realized {
		if !r.Timestamp.Before(t) {
			total += r.PnL
		}
	}
	return total
}

// UnrealizedPnL values the open position in symbol against mark.
func (l *Ledger) UnrealizedPnL(symbol string, mark float64) float64 {
	return l.Get(symbol).UnrealizedPnL(mark)
}

func clonePosition(p *market.Position) market.Position {
	out := *p
	if p.EntryTime != nil {
		t := *p.EntryTime
		out.EntryTime = &t
	}
	return out
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func sign(x int64) int64 {
	if x < 0 {
		return -1
	}
	return 1
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
