package macd

import (
	"context"
	"sync"
	"testing"
	"time"

	"exitpro-engine/internal/model"
)

func pointAt(min int) model.IndicatorPoint {
	return model.IndicatorPoint{
		TS:   time.Date(2026, 3, 2, 9, min, 0, 0, kst),
		MACD: float64(min),
		Hist: float64(min) / 2,
	}
}

func TestCache_LatestOrderingAndBound(t *testing.T) {
	c := NewCache(5)
	for i := 0; i < 12; i++ {
		c.Append("005930", "5m", pointAt(i*5))
	}

	if c.Len("005930", "5m") != 5 {
		t.Fatalf("expected 5 retained points, got %d", c.Len("005930", "5m"))
	}
	pts := c.Latest("005930", "5m", 3)
	if len(pts) != 3 {
		t.Fatalf("expected 3 points, got %d", len(pts))
	}
	for i := 1; i < len(pts); i++ {
		if !pts[i].TS.After(pts[i-1].TS) {
			t.Errorf("points not ascending at %d", i)
		}
	}
	if pts[2].MACD != 55 { // newest last
		t.Errorf("expected newest point macd=55, got %f", pts[2].MACD)
	}
}

func TestCache_UnknownSeriesEmpty(t *testing.T) {
	c := NewCache(0)
	if pts := c.Latest("000660", "30m", 5); len(pts) != 0 {
		t.Fatalf("expected empty slice, got %d", len(pts))
	}
	if _, ok, err := c.LatestPoint(context.Background(), "000660", "30m"); ok || err != nil {
		t.Fatalf("expected ok=false err=nil, got ok=%v err=%v", ok, err)
	}
}

func TestCache_MonotonicGuard(t *testing.T) {
	c := NewCache(0)
	c.Append("005930", "5m", pointAt(10))
	c.Append("005930", "5m", pointAt(5)) // older: dropped

	pts := c.Latest("005930", "5m", 10)
	if len(pts) != 1 || pts[0].MACD != 10 {
		t.Fatalf("older point should be dropped, got %+v", pts)
	}

	// Equal timestamp overwrites (same bar refreshed).
	refreshed := pointAt(10)
	refreshed.MACD = 99
	c.Append("005930", "5m", refreshed)
	pts = c.Latest("005930", "5m", 10)
	if len(pts) != 1 || pts[0].MACD != 99 {
		t.Fatalf("equal-ts point should overwrite, got %+v", pts)
	}
}

func TestCache_ConcurrentReadersWhileAppending(t *testing.T) {
	c := NewCache(100)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			c.Append("005930", "5m", pointAt(i))
		}
	}()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				pts := c.Latest("005930", "5m", 10)
				for j := 1; j < len(pts); j++ {
					if !pts[j].TS.After(pts[j-1].TS) {
						t.Error("reader observed non-ascending snapshot")
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	<-done
}
