/*
persister.go - Asynchronous durable writer

PURPOSE:
  Mirrors engine mutations into the Store without putting storage latency
  on the read path. The engine updates memory first, then hands the
  matching store call to the Persister, which applies calls in order on a
  single background goroutine.

ORDERING:
  One FIFO queue, one worker. A put followed by a delete of the same
  record always reaches the store in that order.

FAILURES:
  Each write is retried with exponential backoff. A write that still fails
  is logged (op, id, attempts) and counted, then dropped: the session's
  in-memory state stays correct, but the change is lost on restart unless
  a later write covers it.

COMPLETION:
  Flush blocks until every queued write has been attempted. Restore
  flushes before replacing the store so no stale write lands after it.

METRICS:
  milk_ledger_store_writes_total{op,result}  result: ok | error | failed
  milk_ledger_store_pending_writes           queued + in-flight writes

SEE ALSO:
  - engine.go: Enqueues one write per affected record
  - store.go: Store interface
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

type writeKind string

const (
	writePutCustomer    writeKind = "put_customer"
	writePutDelivery    writeKind = "put_delivery"
	writeDeleteCustomer writeKind = "delete_customer"
	writeDeleteDelivery writeKind = "delete_delivery"
)

type writeOp struct {
	kind     writeKind
	customer Customer
	delivery Delivery
	id       string
}

func putCustomerOp(c Customer) writeOp {
	return writeOp{kind: writePutCustomer, customer: c, id: string(c.ID)}
}

func putDeliveryOp(d Delivery) writeOp {
	return writeOp{kind: writePutDelivery, delivery: d, id: string(d.ID)}
}

func deleteCustomerOp(id CustomerID) writeOp {
	return writeOp{kind: writeDeleteCustomer, id: string(id)}
}

func deleteDeliveryOp(id DeliveryID) writeOp {
	return writeOp{kind: writeDeleteDelivery, id: string(id)}
}

func (op writeOp) apply(ctx context.Context, s Store) error {
	switch op.kind {
	case writePutCustomer:
		return s.PutCustomer(ctx, op.customer)
	case writePutDelivery:
		return s.PutDelivery(ctx, op.delivery)
	case writeDeleteCustomer:
		return s.DeleteCustomer(ctx, CustomerID(op.id))
	case writeDeleteDelivery:
		return s.DeleteDelivery(ctx, DeliveryID(op.id))
	default:
		return fmt.Errorf("unknown write op %q", op.kind)
	}
}

// =============================================================================
// METRICS
// =============================================================================

type persisterMetrics struct {
	writes  *prometheus.CounterVec
	pending prometheus.Gauge
}

func newPersisterMetrics(registerer prometheus.Registerer) *persisterMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &persisterMetrics{
		writes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "milk_ledger_store_writes_total",
			Help: "Durable store writes grouped by operation and result.",
		}, []string{"op", "result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "milk_ledger_store_pending_writes",
			Help: "Store writes queued or in flight.",
		}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

// =============================================================================
// PERSISTER
// =============================================================================

// persister applies store writes in order on a background goroutine.
type persister struct {
	store          Store
	logger         *log.Entry
	metrics        *persisterMetrics
	maxAttempts    int
	retryBaseDelay time.Duration

	mu      sync.Mutex
	queue   []writeOp
	pending int           // queued + in flight
	drained chan struct{} // closed when pending drops to zero
	closed  bool
	failed  int

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newPersister(store Store, opts engineOptions) *persister {
	drained := make(chan struct{})
	close(drained)

	p := &persister{
		store:          store,
		logger:         opts.logger.WithField("component", "persister"),
		metrics:        newPersisterMetrics(opts.registerer),
		maxAttempts:    opts.maxAttempts,
		retryBaseDelay: opts.retryBaseDelay,
		drained:        drained,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	go p.run()
	return p
}

// enqueue schedules a write. It never blocks on storage.
func (p *persister) enqueue(op writeOp) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.WithFields(log.Fields{"op": op.kind, "id": op.id}).
			Warn("persister closed, dropping store write")
		p.metrics.writes.WithLabelValues(string(op.kind), "failed").Inc()
		return
	}
	p.queue = append(p.queue, op)
	p.pending++
	if p.pending == 1 {
		p.drained = make(chan struct{})
	}
	p.metrics.pending.Set(float64(p.pending))
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every write enqueued so far has been attempted.
func (p *persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	drained := p.drained
	p.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued or in-flight writes.
func (p *persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Failed returns the number of writes dropped after exhausting retries.
func (p *persister) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// Close drains the queue and stops the worker.
func (p *persister) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		select {
		case p.wake <- struct{}{}:
		default:
		}
		<-p.done
	})
}

func (p *persister) run() {
	defer close(p.done)

	for {
		op, ok, closed := p.dequeue()
		if !ok {
			if closed {
				return
			}
			<-p.wake
			continue
		}
		p.write(op)
		p.complete()
	}
}

func (p *persister) dequeue() (writeOp, bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return writeOp{}, false, p.closed
	}
	op := p.queue[0]
	p.queue[0] = writeOp{}
	p.queue = p.queue[1:]
	return op, true, p.closed
}

func (p *persister) complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending--
	p.metrics.pending.Set(float64(p.pending))
	if p.pending == 0 {
		close(p.drained)
	}
}

func (p *persister) write(op writeOp) {
	ctx := context.Background()
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := op.apply(ctx, p.store)
		if err == nil {
			p.metrics.writes.WithLabelValues(string(op.kind), "ok").Inc()
			return
		}
		lastErr = err
		p.metrics.writes.WithLabelValues(string(op.kind), "error").Inc()

		if attempt < p.maxAttempts {
			time.Sleep(p.retryBackoff(attempt))
		}
	}

	p.mu.Lock()
	p.failed++
	p.mu.Unlock()

	p.metrics.writes.WithLabelValues(string(op.kind), "failed").Inc()
	p.logger.WithError(lastErr).WithFields(log.Fields{
		"op":       op.kind,
		"id":       op.id,
		"attempts": p.maxAttempts,
	}).Error("store write failed after retries")
}

func (p *persister) retryBackoff(attempt int) time.Duration {
	if p.retryBaseDelay <= 0 {
		return 0
	}
	return p.retryBaseDelay * time.Duration(1<<(attempt-1))
}
