package recorder

import (
	"testing"
	"time"

	"exitpro-engine/internal/model"
)

var kst = time.FixedZone("KST", 9*3600)

func sig(symbol string, min int) model.TradeSignal {
	return model.TradeSignal{
		Symbol: symbol,
		Side:   model.SideSell,
		TS:     time.Date(2026, 3, 2, 10, min, 0, 0, kst),
		Price:  71000,
		Reason: "SELL: close below prev open",
	}
}

func TestRecord_AppendAndReadBack(t *testing.T) {
	d, err := NewDaily(t.TempDir(), kst)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := d.Record(sig("005930", 5), "emitted"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := d.Record(sig("000660", 5), "emitted"); err != nil {
		t.Fatalf("record: %v", err)
	}

	recs, err := d.LoadDay(d.today())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Symbol != "005930" || recs[0].Side != "SELL" || recs[0].Outcome != "emitted" {
		t.Errorf("unexpected first record: %+v", recs[0])
	}
}

func TestRecord_IdempotentPerTriggerKey(t *testing.T) {
	d, err := NewDaily(t.TempDir(), kst)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	s := sig("005930", 5)
	for i := 0; i < 5; i++ {
		if err := d.Record(s, "emitted"); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	recs, err := d.LoadDay(d.today())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
}

func TestRecord_IdempotenceSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	d1, err := NewDaily(dir, kst)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s := sig("005930", 5)
	if err := d1.Record(s, "emitted"); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Fresh instance over the same directory must not duplicate the entry.
	d2, err := NewDaily(dir, kst)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := d2.Record(s, "emitted"); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	recs, err := d2.LoadDay(d2.today())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record after restart, got %d", len(recs))
	}
}

func TestRecord_DayRollover(t *testing.T) {
	d, err := NewDaily(t.TempDir(), kst)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	day1 := time.Date(2026, 3, 2, 14, 0, 0, 0, kst)
	d.now = func() time.Time { return day1 }
	d.day = d.today()
	if err := d.Record(sig("005930", 5), "emitted"); err != nil {
		t.Fatalf("day1 record: %v", err)
	}

	d.now = func() time.Time { return day1.AddDate(0, 0, 1) }
	if err := d.Record(sig("005930", 10), "emitted"); err != nil {
		t.Fatalf("day2 record: %v", err)
	}

	recs1, _ := d.LoadDay("2026-03-02")
	recs2, _ := d.LoadDay("2026-03-03")
	if len(recs1) != 1 || len(recs2) != 1 {
		t.Fatalf("expected 1 record per day, got %d and %d", len(recs1), len(recs2))
	}
}
