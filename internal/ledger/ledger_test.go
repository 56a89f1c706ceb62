package ledger

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "positions.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return l
}

func TestBuyFill_WeightedAverageWithFee(t *testing.T) {
	l := openTemp(t)

	if err := l.ApplyBuyFill("005930", 10, 100, 1); err != nil {
		t.Fatalf("buy fill: %v", err)
	}
	if got := l.Quantity("005930"); got != 10 {
		t.Errorf("qty = %d, want 10", got)
	}
	avg, ok := l.AvgPrice("005930")
	if !ok || math.Abs(avg-100.1) > 1e-9 {
		t.Errorf("avg = %f ok=%v, want 100.1", avg, ok)
	}

	// Second buy re-weights the average.
	if err := l.ApplyBuyFill("005930", 10, 110, 1); err != nil {
		t.Fatalf("second buy: %v", err)
	}
	avg, _ = l.AvgPrice("005930")
	want := (100.1*10 + 110*10 + 1) / 20
	if math.Abs(avg-want) > 1e-9 {
		t.Errorf("avg = %f, want %f", avg, want)
	}
}

func TestSellFill_RealizedPnL(t *testing.T) {
	l := openTemp(t)
	if err := l.ApplyBuyFill("005930", 10, 100, 1); err != nil {
		t.Fatalf("buy: %v", err)
	}

	realized, err := l.ApplySellFill("005930", 10, 110, 1)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if math.Abs(realized-98) > 1e-9 { // 10*(110-100.1) - 1
		t.Errorf("realized = %f, want 98", realized)
	}
	if l.Quantity("005930") != 0 {
		t.Errorf("qty after full exit = %d, want 0", l.Quantity("005930"))
	}
	if _, ok := l.AvgPrice("005930"); ok {
		t.Error("avg price should reset on full exit")
	}
	if math.Abs(l.RealizedPnL()-98) > 1e-9 {
		t.Errorf("cumulative realized = %f, want 98", l.RealizedPnL())
	}
}

func TestSellFill_AvgUnchangedOnPartialExit(t *testing.T) {
	l := openTemp(t)
	if err := l.ApplyBuyFill("005930", 10, 100, 0); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := l.ApplySellFill("005930", 4, 120, 0); err != nil {
		t.Fatalf("sell: %v", err)
	}
	avg, ok := l.AvgPrice("005930")
	if !ok || math.Abs(avg-100) > 1e-9 {
		t.Errorf("avg = %f ok=%v, want 100 (sells never move avg)", avg, ok)
	}
	if l.Quantity("005930") != 6 {
		t.Errorf("qty = %d, want 6", l.Quantity("005930"))
	}
}

func TestFill_Errors(t *testing.T) {
	l := openTemp(t)

	if err := l.ApplyBuyFill("005930", 0, 100, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("zero buy qty: got %v", err)
	}
	if err := l.ApplyBuyFill("005930", -3, 100, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("negative buy qty: got %v", err)
	}
	if _, err := l.ApplySellFill("005930", 5, 100, 0); !errors.Is(err, ErrInsufficientPosition) {
		t.Errorf("oversell flat position: got %v", err)
	}

	if err := l.ApplyBuyFill("005930", 3, 100, 0); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := l.ApplySellFill("005930", 4, 100, 0); !errors.Is(err, ErrInsufficientPosition) {
		t.Errorf("oversell held position: got %v", err)
	}
	// Rejected fills must not mutate state.
	if l.Quantity("005930") != 3 {
		t.Errorf("qty mutated by rejected fill: %d", l.Quantity("005930"))
	}
}

func TestPendingReservations(t *testing.T) {
	l := openTemp(t)

	l.ReserveBuy("005930", 10)
	l.ReserveSell("005930", 4)
	pb, ps := l.Pending("005930")
	if pb != 10 || ps != 4 {
		t.Fatalf("pending = (%d,%d), want (10,4)", pb, ps)
	}

	// A buy fill consumes its reservation.
	if err := l.ApplyBuyFill("005930", 10, 100, 0); err != nil {
		t.Fatalf("buy: %v", err)
	}
	pb, _ = l.Pending("005930")
	if pb != 0 {
		t.Errorf("pending buys after fill = %d, want 0", pb)
	}

	// Releases clamp at zero.
	l.ReleaseSell("005930", 100)
	_, ps = l.Pending("005930")
	if ps != 0 {
		t.Errorf("pending sells after release = %d, want 0", ps)
	}
}

func TestPersistence_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "positions.json")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.ApplyBuyFill("005930", 10, 100, 1); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := l.ApplySellFill("005930", 2, 110, 1); err != nil {
		t.Fatalf("sell: %v", err)
	}
	l.ReserveSell("000660", 7)

	// Re-open as after a crash: state must match exactly.
	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if l2.Quantity("005930") != 8 {
		t.Errorf("qty = %d, want 8", l2.Quantity("005930"))
	}
	avg, ok := l2.AvgPrice("005930")
	if !ok || math.Abs(avg-100.1) > 1e-9 {
		t.Errorf("avg = %f ok=%v, want 100.1", avg, ok)
	}
	if math.Abs(l2.RealizedPnL()-l.RealizedPnL()) > 1e-9 {
		t.Errorf("realized = %f, want %f", l2.RealizedPnL(), l.RealizedPnL())
	}
	_, ps := l2.Pending("000660")
	if ps != 7 {
		t.Errorf("pending sells = %d, want 7", ps)
	}
}
