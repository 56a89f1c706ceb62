package macd

import (
	"context"
	"sync"

	"exitpro-engine/internal/model"
)

// DefaultMaxPoints is how many recent points each series retains.
const DefaultMaxPoints = 400

// Cache stores the most recent MACD points per (symbol, timeframe).
// Single writer (the Calculator), many concurrent readers (the monitor).
// Readers always see a consistent snapshot; a point is never half-written.
type Cache struct {
	mu        sync.RWMutex
	maxPoints int
	series    map[seriesKey][]model.IndicatorPoint
}

// NewCache creates a Cache retaining up to maxPoints per series.
// maxPoints <= 0 uses DefaultMaxPoints.
func NewCache(maxPoints int) *Cache {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	return &Cache{
		maxPoints: maxPoints,
		series:    make(map[seriesKey][]model.IndicatorPoint),
	}
}

// ReplaceSeries swaps in a full series for (symbol, tf), keeping only the
// most recent maxPoints. A nil series clears the entry.
func (c *Cache) ReplaceSeries(symbol, tf string, pts []model.IndicatorPoint) {
	key := seriesKey{Symbol: model.NormalizeSymbol(symbol), TF: model.NormalizeTF(tf)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if pts == nil {
		delete(c.series, key)
		return
	}
	if len(pts) > c.maxPoints {
		pts = pts[len(pts)-c.maxPoints:]
	}
	cp := make([]model.IndicatorPoint, len(pts))
	copy(cp, pts)
	c.series[key] = cp
}

// Append adds one point to a series. Timestamps must not go backward:
// a point older than the newest is dropped, and a point with an equal
// timestamp overwrites it (late refresh of the same bar).
func (c *Cache) Append(symbol, tf string, pt model.IndicatorPoint) {
	key := seriesKey{Symbol: model.NormalizeSymbol(symbol), TF: model.NormalizeTF(tf)}

	c.mu.Lock()
	defer c.mu.Unlock()

	buf := c.series[key]
	if n := len(buf); n > 0 {
		last := buf[n-1].TS
		if pt.TS.Before(last) {
			return
		}
		if pt.TS.Equal(last) {
			buf[n-1] = pt
			return
		}
	}
	buf = append(buf, pt)
	if len(buf) > c.maxPoints {
		buf = buf[len(buf)-c.maxPoints:]
	}
	c.series[key] = buf
}

// Latest returns up to n most recent points, ascending by TS (newest last).
// Returns an empty slice if the series has never been computed.
func (c *Cache) Latest(symbol, tf string, n int) []model.IndicatorPoint {
	key := seriesKey{Symbol: model.NormalizeSymbol(symbol), TF: model.NormalizeTF(tf)}
	if n < 1 {
		n = 1
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	buf := c.series[key]
	if len(buf) == 0 {
		return nil
	}
	if len(buf) > n {
		buf = buf[len(buf)-n:]
	}
	cp := make([]model.IndicatorPoint, len(buf))
	copy(cp, buf)
	return cp
}

// LatestPoint implements model.IndicatorFeed over the in-process cache.
func (c *Cache) LatestPoint(_ context.Context, symbol, tf string) (model.IndicatorPoint, bool, error) {
	pts := c.Latest(symbol, tf, 1)
	if len(pts) == 0 {
		return model.IndicatorPoint{}, false, nil
	}
	return pts[0], true, nil
}

// Len returns the number of cached points for a series.
func (c *Cache) Len(symbol, tf string) int {
	key := seriesKey{Symbol: model.NormalizeSymbol(symbol), TF: model.NormalizeTF(tf)}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.series[key])
}
