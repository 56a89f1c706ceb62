// Package recorder appends emitted signals to per-trading-day JSONL files
// (signals_YYYY-MM-DD.jsonl). Appends are idempotent per trigger key, so
// re-recording the same signal never duplicates an on-disk entry.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"exitpro-engine/internal/model"
)

// Record is one line of a daily results file.
type Record struct {
	TS      string  `json:"ts"` // RFC3339, recorder timezone
	Side    string  `json:"side"`
	Symbol  string  `json:"symbol"`
	Price   float64 `json:"price"`
	Reason  string  `json:"reason"`
	Outcome string  `json:"outcome"`
}

// Daily writes signals to one JSONL file per trading day and rolls over at
// the local date change. It implements model.Recorder.
type Daily struct {
	mu   sync.Mutex
	dir  string
	loc  *time.Location
	day  string
	seen map[model.TriggerKey]struct{}

	// now is swappable for tests.
	now func() time.Time
}

// NewDaily creates a recorder writing under dir using loc for day boundaries.
// Existing entries for today are loaded so restarts keep idempotence.
func NewDaily(dir string, loc *time.Location) (*Daily, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: mkdir %s: %w", dir, err)
	}
	d := &Daily{
		dir:  dir,
		loc:  loc,
		seen: make(map[model.TriggerKey]struct{}),
		now:  time.Now,
	}
	d.day = d.today()
	if err := d.loadDay(d.day); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Daily) today() string {
	return d.now().In(d.loc).Format("2006-01-02")
}

// PathFor returns the results file path for a date string.
func (d *Daily) PathFor(day string) string {
	return filepath.Join(d.dir, "signals_"+day+".jsonl")
}

// loadDay reseeds the seen-set from an existing day file. Damaged lines are
// skipped; they cannot be replayed anyway.
func (d *Daily) loadDay(day string) error {
	f, err := os.Open(d.PathFor(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("recorder: open %s: %w", d.PathFor(day), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, rec.TS)
		if err != nil {
			continue
		}
		d.seen[model.TriggerKey{
			Symbol: rec.Symbol,
			Side:   model.Side(rec.Side),
			TS:     ts.UnixNano(),
		}] = struct{}{}
	}
	return sc.Err()
}

// Record appends one signal line. Calling it again with the same trigger key
// is a no-op. The file write is flushed before returning.
func (d *Daily) Record(sig model.TradeSignal, outcome string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if today := d.today(); today != d.day {
		d.day = today
		d.seen = make(map[model.TriggerKey]struct{})
		if err := d.loadDay(today); err != nil {
			return err
		}
	}

	key := sig.Key()
	if _, dup := d.seen[key]; dup {
		return nil
	}

	rec := Record{
		TS:      sig.TS.In(d.loc).Format(time.RFC3339Nano),
		Side:    string(sig.Side),
		Symbol:  sig.Symbol,
		Price:   sig.Price,
		Reason:  sig.Reason,
		Outcome: outcome,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("recorder: marshal: %w", err)
	}

	f, err := os.OpenFile(d.PathFor(d.day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("recorder: open %s: %w", d.PathFor(d.day), err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("recorder: append: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("recorder: sync: %w", err)
	}

	d.seen[key] = struct{}{}
	return nil
}

// LoadDay reads back all records for a date string, skipping damaged lines.
func (d *Daily) LoadDay(day string) ([]Record, error) {
	f, err := os.Open(d.PathFor(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("recorder: open %s: %w", d.PathFor(day), err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
