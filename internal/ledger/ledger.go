// Package ledger tracks per-symbol position state (quantity, average cost,
// pending order quantity) and keeps it consistent with broker fills.
//
// Every mutation persists synchronously via an atomic file replace, so a
// crash immediately after a fill cannot silently lose state and a crash
// mid-write cannot corrupt the on-disk record.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"exitpro-engine/internal/model"
)

var (
	// ErrInvalidQuantity means a fill quantity was zero or negative.
	ErrInvalidQuantity = errors.New("ledger: invalid quantity")

	// ErrInsufficientPosition means a sell fill exceeds the held quantity.
	ErrInsufficientPosition = errors.New("ledger: insufficient position")
)

// Position holds per-symbol position data.
type Position struct {
	Qty          int64   `json:"qty"`       // executed (filled) quantity
	AvgPrice     float64 `json:"avg_price"` // average cost including buy fees
	PendingBuys  int64   `json:"pending_buys"`
	PendingSells int64   `json:"pending_sells"`
}

// Ledger manages positions and persists them to a JSON file.
// Fills for the same symbol apply in arrival order; the single mutex also
// makes cross-symbol mutations safe.
type Ledger struct {
	mu       sync.Mutex
	path     string
	pos      map[string]*Position
	realized float64 // cumulative realized P&L
}

// Open loads the ledger from path, starting empty if the file is missing.
func Open(path string) (*Ledger, error) {
	l := &Ledger{
		path: path,
		pos:  make(map[string]*Position),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}
	var disk diskState
	if err := json.Unmarshal(data, &disk); err != nil {
		return nil, fmt.Errorf("ledger: parse %s: %w", path, err)
	}
	if disk.Positions != nil {
		l.pos = disk.Positions
	}
	l.realized = disk.RealizedPnL
	return l, nil
}

type diskState struct {
	Positions   map[string]*Position `json:"positions"`
	RealizedPnL float64              `json:"realized_pnl"`
}

func (l *Ledger) get(symbol string) *Position {
	p, ok := l.pos[symbol]
	if !ok {
		p = &Position{}
		l.pos[symbol] = p
	}
	return p
}

// persist writes the full state via temp-file + rename. Caller holds l.mu.
func (l *Ledger) persist() error {
	data, err := json.MarshalIndent(diskState{Positions: l.pos, RealizedPnL: l.realized}, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".positions-*.json")
	if err != nil {
		return fmt.Errorf("ledger: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("ledger: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("ledger: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("ledger: rename: %w", err)
	}
	return nil
}

// ApplyBuyFill applies an executed buy: quantity increases and average cost
// is recomputed as a fee-inclusive weighted average. Pending buys shrink by
// the filled quantity. Persisted before returning.
func (l *Ledger) ApplyBuyFill(symbol string, qty int64, price, fee float64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: buy qty %d", ErrInvalidQuantity, qty)
	}
	symbol = model.NormalizeSymbol(symbol)

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.get(symbol)
	newQty := p.Qty + qty
	p.AvgPrice = (p.AvgPrice*float64(p.Qty) + price*float64(qty) + fee) / float64(newQty)
	p.Qty = newQty
	if p.PendingBuys > qty {
		p.PendingBuys -= qty
	} else {
		p.PendingBuys = 0
	}
	return l.persist()
}

// ApplySellFill applies an executed sell, returning the realized P&L
// (qty*(price-avg) - fee). Average cost is unchanged by sells and reset to
// zero on a full exit. Persisted before returning.
func (l *Ledger) ApplySellFill(symbol string, qty int64, price, fee float64) (float64, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("%w: sell qty %d", ErrInvalidQuantity, qty)
	}
	symbol = model.NormalizeSymbol(symbol)

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.get(symbol)
	if qty > p.Qty {
		return 0, fmt.Errorf("%w: sell %d > held %d (%s)", ErrInsufficientPosition, qty, p.Qty, symbol)
	}
	realized := float64(qty)*(price-p.AvgPrice) - fee
	p.Qty -= qty
	if p.PendingSells > qty {
		p.PendingSells -= qty
	} else {
		p.PendingSells = 0
	}
	if p.Qty == 0 {
		p.AvgPrice = 0
	}
	l.realized += realized
	if err := l.persist(); err != nil {
		return realized, err
	}
	return realized, nil
}

// ReserveBuy reserves quantity for a submitted but unfilled buy order.
func (l *Ledger) ReserveBuy(symbol string, qty int64) error {
	return l.adjustPending(symbol, qty, 0)
}

// ReserveSell reserves quantity for a submitted but unfilled sell order.
func (l *Ledger) ReserveSell(symbol string, qty int64) error {
	return l.adjustPending(symbol, 0, qty)
}

// ReleaseBuy releases a cancelled/rejected buy reservation.
func (l *Ledger) ReleaseBuy(symbol string, qty int64) error {
	return l.adjustPending(symbol, -qty, 0)
}

// ReleaseSell releases a cancelled/rejected sell reservation.
func (l *Ledger) ReleaseSell(symbol string, qty int64) error {
	return l.adjustPending(symbol, 0, -qty)
}

func (l *Ledger) adjustPending(symbol string, dBuy, dSell int64) error {
	if dBuy == 0 && dSell == 0 {
		return fmt.Errorf("%w: zero adjustment", ErrInvalidQuantity)
	}
	symbol = model.NormalizeSymbol(symbol)

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.get(symbol)
	p.PendingBuys += dBuy
	if p.PendingBuys < 0 {
		p.PendingBuys = 0
	}
	p.PendingSells += dSell
	if p.PendingSells < 0 {
		p.PendingSells = 0
	}
	return l.persist()
}

// Quantity returns the executed quantity held for symbol.
func (l *Ledger) Quantity(symbol string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pos[model.NormalizeSymbol(symbol)]; ok {
		return p.Qty
	}
	return 0
}

// AvgPrice returns the average cost and true, or ok=false if nothing is held.
func (l *Ledger) AvgPrice(symbol string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pos[model.NormalizeSymbol(symbol)]; ok && p.Qty > 0 {
		return p.AvgPrice, true
	}
	return 0, false
}

// Pending returns (pendingBuys, pendingSells) for symbol.
func (l *Ledger) Pending(symbol string) (int64, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pos[model.NormalizeSymbol(symbol)]; ok {
		return p.PendingBuys, p.PendingSells
	}
	return 0, 0
}

// RealizedPnL returns the cumulative realized P&L across all symbols.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realized
}

// Positions returns a snapshot of all positions keyed by symbol.
func (l *Ledger) Positions() map[string]Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Position, len(l.pos))
	for k, p := range l.pos {
		out[k] = *p
	}
	return out
}
