package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"leafscan/api/internal/metrics"
	"leafscan/api/internal/provider/types"
)

type memSink struct {
	mu   sync.Mutex
	recs []Record
	err  error
}

func (m *memSink) Append(ctx context.Context, rec Record) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write context has no deadline")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memSink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAsyncSinkWrites(t *testing.T) {
	mem := &memSink{}
	a := NewAsyncSink(mem, AsyncOptions{Workers: 2, Buffer: 8})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	for i := 0; i < 5; i++ {
		if !a.Submit(Record{UserID: "u1"}) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	waitFor(t, func() bool { return mem.len() == 5 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	a := NewAsyncSink(&memSink{}, AsyncOptions{Buffer: 1})
	before := testutil.ToFloat64(metrics.HistoryWrites.WithLabelValues("dropped"))

	if !a.Submit(Record{}) {
		t.Fatal("first submit rejected")
	}
	if a.Submit(Record{}) {
		t.Fatal("second submit accepted with a full queue")
	}
	if got := testutil.ToFloat64(metrics.HistoryWrites.WithLabelValues("dropped")) - before; got != 1 {
		t.Errorf("dropped delta = %v", got)
	}
}

func TestAsyncSinkFlushesOnStop(t *testing.T) {
	mem := &memSink{}
	a := NewAsyncSink(mem, AsyncOptions{Buffer: 4})
	a.Submit(Record{UserID: "a"})
	a.Submit(Record{UserID: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = a.Serve(ctx)

	if mem.len() != 2 {
		t.Errorf("flushed %d records, want 2", mem.len())
	}
}

func TestAsyncSinkSwallowsErrors(t *testing.T) {
	mem := &memSink{err: errors.New("db down")}
	a := NewAsyncSink(mem, AsyncOptions{Buffer: 2})
	before := testutil.ToFloat64(metrics.HistoryWrites.WithLabelValues("error"))

	a.Submit(Record{UserID: "u"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = a.Serve(ctx)

	if got := testutil.ToFloat64(metrics.HistoryWrites.WithLabelValues("error")) - before; got != 1 {
		t.Errorf("error delta = %v", got)
	}
}

func TestNewRecord(t *testing.T) {
	res := types.IdentifyResult{
		Matches: []types.PlantMatch{
			{Name: "China rose", ScientificName: "Rosa chinensis", Confidence: 0.9},
			{Name: "Dog rose", ScientificName: "Rosa canina", Confidence: 0.05},
		},
		IsHealthy:       types.Bool(true),
		HealthDiagnoses: []types.HealthDiagnosis{},
		RemainingQuota:  4,
	}

	rec, ok := NewRecord("user-1", res)
	if !ok {
		t.Fatal("record not built")
	}
	if rec.PlantName != "China rose" || rec.ScientificName != "Rosa chinensis" || rec.Confidence != 0.9 {
		t.Errorf("rec = %+v", rec)
	}
	if len(rec.Result.Matches) != 2 || rec.Result.IsHealthy == nil || rec.ID.String() == "" {
		t.Errorf("snapshot = %+v", rec.Result)
	}

	if _, ok := NewRecord("", res); ok {
		t.Error("anonymous request produced a record")
	}
	if _, ok := NewRecord("user-1", types.EmptyResult(3)); ok {
		t.Error("empty result produced a record")
	}
}
