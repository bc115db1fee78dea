package store

import (
	"context"
	"sync"
	"time"

	"leafscan/api/internal/logging"
	"leafscan/api/internal/metrics"
	"leafscan/api/internal/provider/types"
)

// Sink persists history records.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

type AsyncOptions struct {
	Workers int
	Buffer  int
	// Timeout bounds each write. It does not derive from any request.
	Timeout time.Duration
}

// AsyncSink queues records and writes them from background workers so the
// caller never waits on storage. Submit drops the record when the queue is
// full. Run Serve to start the workers.
type AsyncSink struct {
	sink Sink
	opts AsyncOptions
	ch   chan Record
}

func NewAsyncSink(sink Sink, opts AsyncOptions) *AsyncSink {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &AsyncSink{sink: sink, opts: opts, ch: make(chan Record, opts.Buffer)}
}

// Submit enqueues rec without blocking and reports whether it was accepted.
func (a *AsyncSink) Submit(rec Record) bool {
	select {
	case a.ch <- rec:
		metrics.HistoryQueueDepth.Set(float64(len(a.ch)))
		return true
	default:
		metrics.HistoryWrites.WithLabelValues("dropped").Inc()
		logging.Warn().Str("request_id", rec.RequestID).Str("user_id", rec.UserID).Msg("history queue full, record dropped")
		return false
	}
}

// Serve runs the workers until ctx is done, then flushes what is queued.
func (a *AsyncSink) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < a.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case rec := <-a.ch:
					a.write(rec)
				}
			}
		}()
	}
	wg.Wait()
	a.drain()
	return ctx.Err()
}

func (a *AsyncSink) drain() {
	for {
		select {
		case rec := <-a.ch:
			a.write(rec)
		default:
			return
		}
	}
}

func (a *AsyncSink) write(rec Record) {
	metrics.HistoryQueueDepth.Set(float64(len(a.ch)))

	ctx, cancel := context.WithTimeout(context.Background(), a.opts.Timeout)
	defer cancel()

	if err := a.sink.Append(ctx, rec); err != nil {
		metrics.HistoryWrites.WithLabelValues("error").Inc()
		logging.Error().Err(&types.PersistenceError{Err: err}).
			Str("request_id", rec.RequestID).
			Str("user_id", rec.UserID).
			Msg("history write failed")
		return
	}
	metrics.HistoryWrites.WithLabelValues("ok").Inc()
}

func (a *AsyncSink) String() string { return "history-sink" }
