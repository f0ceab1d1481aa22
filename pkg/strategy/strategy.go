// Package strategy defines the strategy contract, the built-in strategy
// implementations, and the manager that evaluates a main strategy plus
// shadow strategies concurrently with drawdown-driven hot-swap.
package strategy

import (
	"fmt"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// Snapshot is the read-only portfolio view a strategy sees per tick.
type Snapshot struct {
	Equity   float64
	Cash     float64
	Position market.Position
}

// Strategy is a pure decision function over (snapshot, latest bar).
// Implementations may keep internal rolling windows but must never share
// state with another strategy.
type Strategy interface {
	// Name is the stable unique identifier of this instance.
	Name() string
	// Type is the algorithm family, e.g. "momentum".
	Type() string
	// Symbol is the instrument this instance is bound to.
	Symbol() string
	// Execute consumes one completed bar and returns a signal.
	Execute(snap Snapshot, bar market.Bar) market.TradeSignal
	// Reset clears internal state, e.g. on a symbol change.
	Reset()
}

// Factory builds a strategy instance from its configuration.
type Factory func(name, symbol string, params map[string]interface{}) (Strategy, error)

var factories = map[string]Factory{}

// Register installs a factory for a strategy type. Built-in types
// register from init; additional types may register before config load.
func Register(typ string, f Factory) {
	factories[typ] = f
}

// New builds a strategy of the given type.
func New(typ, name, symbol string, params map[string]interface{}) (Strategy, error) {
	f, ok := factories[typ]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown type %q", typ)
	}
	return f(name, symbol, params)
}

// Types lists every registered strategy type.
func Types() []string {
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	return out
}

// paramFloat reads a float parameter with a default.
func paramFloat(params map[string]interface{}, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch x := v.(type) {
		case float64:
			return x
		case int:
			return float64(x)
		}
	}
	return def
}

// paramInt reads an integer parameter with a default.
func paramInt(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key]; ok {
		switch x := v.(type) {
		case int:
			return x
		case float64:
			return int(x)
		}
	}
	return def
}
