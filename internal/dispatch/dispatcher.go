// Package dispatch implements the per-key serialized signal queue
// (spec §4.7): at most one in-flight reconciliation per
// account/instrument key, with overwrite-on-pending coalescing and a
// bounded worker pool.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"signaldispatcher/internal/notify"
	"signaldispatcher/internal/process"
	"signaldispatcher/internal/signal"
)

// DefaultWorkers is the spec-recommended worker pool size.
const DefaultWorkers = 10

// QueuedSignal is one slot occupant — a signal plus the bookkeeping
// needed to run and report on it.
type QueuedSignal struct {
	Key        string
	Account    string
	Signal     signal.Signal
	EnqueuedAt time.Time
}

// ProcessorFor resolves the process.Processor that owns a given
// account. The dispatcher has no broker knowledge of its own.
type ProcessorFor func(account string) (*process.Processor, bool)

// Dispatcher owns the processing/waiting maps and worker pool
// described in spec §4.7.
type Dispatcher struct {
	processorFor ProcessorFor
	notifier     notify.Notifier

	mu         sync.Mutex
	processing map[string]QueuedSignal
	waiting    map[string]QueuedSignal

	jobs    chan string
	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once

	stats stats

	onProcessed func(account, status string, seconds float64)
}

// OnProcessed registers a hook invoked after every Process call with
// its account, outcome ("ok"/"error"), and wall-clock duration — wired
// to internal/metrics by the entrypoint. Optional; a nil hook (the
// default) is a no-op.
func (d *Dispatcher) OnProcessed(hook func(account, status string, seconds float64)) {
	d.onProcessed = hook
}

type stats struct {
	mu        sync.Mutex
	processed int64
	coalesced int64
}

// New builds a Dispatcher with workers background goroutines. Passing
// workers <= 0 uses DefaultWorkers.
func New(workers int, processorFor ProcessorFor, notifier notify.Notifier) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	d := &Dispatcher{
		processorFor: processorFor,
		notifier:     notifier,
		processing:   make(map[string]QueuedSignal),
		waiting:      make(map[string]QueuedSignal),
		jobs:         make(chan string, 1024),
		closing:      make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.workerLoop()
	}
	return d
}

func key(account string, sig signal.Signal) string {
	return account + "/" + sig.Instrument.String()
}

// Enqueue implements spec §4.7's enqueue algorithm: it returns the
// signal's id immediately, never blocking on reconciliation.
func (d *Dispatcher) Enqueue(account string, sig signal.Signal) string {
	k := key(account, sig)
	q := QueuedSignal{Key: k, Account: account, Signal: sig, EnqueuedAt: time.Now()}

	d.mu.Lock()
	_, alreadyWaiting := d.waiting[k]
	if alreadyWaiting {
		log.Info().Str("key", k).Msg("replacing waiting signal")
		d.stats.mu.Lock()
		d.stats.coalesced++
		d.stats.mu.Unlock()
	}
	d.waiting[k] = q
	_, busy := d.processing[k]
	trigger := !busy
	d.mu.Unlock()

	if trigger {
		select {
		case d.jobs <- k:
		case <-d.closing:
		}
	}

	return sig.ID
}

// Snapshot returns the current processing/waiting slots for
// GET /signals/queue.
type Snapshot struct {
	Processing []QueuedSignal
	Waiting    []QueuedSignal
}

func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := Snapshot{}
	for _, v := range d.processing {
		snap.Processing = append(snap.Processing, v)
	}
	for _, v := range d.waiting {
		snap.Waiting = append(snap.Waiting, v)
	}
	return snap
}

// Stats is an exposition-friendly counter snapshot (spec §4.7 ambient
// addition — consumed by internal/metrics).
type Stats struct {
	Processing int
	Waiting    int
	Processed  int64
	Coalesced  int64
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	p, w := len(d.processing), len(d.waiting)
	d.mu.Unlock()

	d.stats.mu.Lock()
	defer d.stats.mu.Unlock()
	return Stats{Processing: p, Waiting: w, Processed: d.stats.processed, Coalesced: d.stats.coalesced}
}

// Shutdown stops accepting promotions and waits for in-flight workers
// to drain (spec §5: "stop accepting new signals and wait for workers
// to drain before exit").
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() { close(d.closing) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) workerLoop() {
	defer d.wg.Done()
	for {
		select {
		case k := <-d.jobs:
			d.promote(k)
		case <-d.closing:
			return
		}
	}
}

// promote implements spec §4.7's promote(key) algorithm, including
// the direct-continuation tail call when another waiting signal
// arrived while this one ran.
func (d *Dispatcher) promote(k string) {
	for {
		d.mu.Lock()
		q, ok := d.waiting[k]
		if !ok {
			d.mu.Unlock()
			return
		}
		if _, busy := d.processing[k]; busy {
			d.mu.Unlock()
			return
		}
		delete(d.waiting, k)
		d.processing[k] = q
		d.mu.Unlock()

		d.run(k, q)

		d.mu.Lock()
		delete(d.processing, k)
		_, again := d.waiting[k]
		d.mu.Unlock()

		if !again {
			return
		}
	}
}

func (d *Dispatcher) run(k string, q QueuedSignal) {
	logger := log.With().Str("signal_id", q.Signal.ID).Str("key", k).Logger()
	ctx := logger.WithContext(context.Background())

	proc, ok := d.processorFor(q.Account)
	if !ok {
		logger.Error().Str("account", q.Account).Msg("unknown account at dispatch time")
		d.notifier.Notify(ctx, notify.ErrorReport(q.Account, q.Signal, errUnknownAccount(q.Account)))
		return
	}

	start := time.Now()
	report := proc.Process(ctx, q.Signal)
	elapsed := time.Since(start).Seconds()

	d.stats.mu.Lock()
	d.stats.processed++
	d.stats.mu.Unlock()

	status := "ok"
	if report.Err != nil {
		status = "error"
		logger.Error().Err(report.Err).Msg("signal processing failed")
		d.notifier.Notify(ctx, notify.ErrorReport(q.Account, q.Signal, report.Err))
	}
	if d.onProcessed != nil {
		d.onProcessed(q.Account, status, elapsed)
	}
}
