/*
engine.go - Delivery ledger engine

PURPOSE:
  The Engine is the single in-memory source of truth for customers and
  deliveries. Every mutation updates memory synchronously and then
  schedules the matching durable write, so a read issued after a mutation
  returns always sees it, whatever the store is doing.

INVARIANT:
  No two deliveries share (CustomerID, Date): one delivery per customer
  per calendar day. Checked on AddDelivery and on UpdateDelivery (an
  update may keep its own slot but not move into another record's slot).
  Check and insert run under the same lock.

LIFECYCLE:
  engine := ledger.NewEngine(store, ledger.WithLogger(logger))
  defer engine.Close()
  if err := engine.Load(ctx); err != nil { ... }

  Load replaces memory with the store contents. Close drains pending
  writes.

FAILURE SEMANTICS:
  - Validation and duplicate errors: returned, nothing changes
  - Unknown ID on update/delete: nil, nothing changes
  - Store write failures: logged and counted by the persister, not returned

ORDERING:
  Customers() and Deliveries() return insertion order.
  DeliveriesForRange() returns Date descending; deliveries on the same
  date keep insertion order.

SEE ALSO:
  - persister.go: Asynchronous durable writes
  - summary.go: Day and range aggregates
  - backup/backup.go: Snapshot codec feeding Restore
*/
package ledger

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// =============================================================================
// OPTIONS
// =============================================================================

type engineOptions struct {
	logger         *log.Entry
	now            func() time.Time
	newID          func() string
	registerer     prometheus.Registerer
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithLogger sets the logger for the engine and its persister.
func WithLogger(logger *log.Entry) Option {
	return func(opts *engineOptions) {
		opts.logger = logger
	}
}

// WithClock sets the clock used for CreatedAt and the future-date check.
func WithClock(now func() time.Time) Option {
	return func(opts *engineOptions) {
		opts.now = now
	}
}

// WithIDGenerator sets the record ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(opts *engineOptions) {
		opts.newID = newID
	}
}

// WithRegisterer sets where persister metrics are registered.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(opts *engineOptions) {
		opts.registerer = registerer
	}
}

// WithMaxAttempts sets how many times a store write is tried.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *engineOptions) {
		opts.maxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay sets the base delay of the exponential retry backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *engineOptions) {
		opts.retryBaseDelay = delay
	}
}

func applyOptions(options []Option) engineOptions {
	opts := engineOptions{
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.logger == nil {
		opts.logger = log.WithField("component", "ledger")
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.newID == nil {
		opts.newID = uuid.NewString
	}
	if opts.maxAttempts <= 0 {
		opts.maxAttempts = defaultMaxAttempts
	}
	if opts.retryBaseDelay < 0 {
		opts.retryBaseDelay = 0
	}
	return opts
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine owns the in-memory customer and delivery collections.
type Engine struct {
	store   Store
	persist *persister
	logger  *log.Entry
	now     func() time.Time
	newID   func() string

	mu         sync.Mutex
	customers  []Customer
	deliveries []Delivery
	byDay      map[dayKey]DeliveryID
}

// NewEngine creates an engine over store. Call Load before use and Close
// when done.
func NewEngine(store Store, options ...Option) *Engine {
	opts := applyOptions(options)
	return &Engine{
		store:   store,
		persist: newPersister(store, opts),
		logger:  opts.logger,
		now:     opts.now,
		newID:   opts.newID,
		byDay:   make(map[dayKey]DeliveryID),
	}
}

// Load replaces the in-memory state with the store contents.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.persist.Flush(ctx); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}
	return e.loadLocked(ctx)
}

func (e *Engine) loadLocked(ctx context.Context) error {
	customers, err := e.store.LoadCustomers(ctx)
	if err != nil {
		return fmt.Errorf("load customers: %w", err)
	}
	deliveries, err := e.store.LoadDeliveries(ctx)
	if err != nil {
		return fmt.Errorf("load deliveries: %w", err)
	}

	byDay := make(map[dayKey]DeliveryID, len(deliveries))
	for _, d := range deliveries {
		if existing, ok := byDay[d.key()]; ok {
			e.logger.WithFields(log.Fields{
				"customer_id": d.CustomerID,
				"date":        d.Date,
				"delivery_id": d.ID,
				"existing_id": existing,
			}).Warn("stored ledger holds more than one delivery for a customer day")
			continue
		}
		byDay[d.key()] = d.ID
	}

	e.customers = customers
	e.deliveries = deliveries
	e.byDay = byDay

	e.logger.WithFields(log.Fields{
		"customers":  len(customers),
		"deliveries": len(deliveries),
	}).Info("ledger loaded")
	return nil
}

// Flush blocks until every scheduled store write has been attempted.
func (e *Engine) Flush(ctx context.Context) error {
	return e.persist.Flush(ctx)
}

// PendingWrites returns the number of store writes not yet attempted.
func (e *Engine) PendingWrites() int { return e.persist.Pending() }

// FailedWrites returns the number of store writes dropped after retries.
func (e *Engine) FailedWrites() int { return e.persist.Failed() }

// Close drains pending store writes and stops the writer.
func (e *Engine) Close() {
	e.persist.Close()
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// AddCustomer creates a customer with a fresh ID and CreatedAt.
func (e *Engine) AddCustomer(ctx context.Context, in CustomerInput) (Customer, error) {
	if err := ctx.Err(); err != nil {
		return Customer{}, err
	}
	if err := validateCustomer(in.Name, in.DefaultPrice); err != nil {
		return Customer{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c := Customer{
		ID:           CustomerID(e.newID()),
		Name:         strings.TrimSpace(in.Name),
		Phone:        in.Phone,
		Address:      in.Address,
		DefaultPrice: in.DefaultPrice,
		CreatedAt:    e.now().UnixMilli(),
	}
	e.customers = append(e.customers, c)
	e.persist.enqueue(putCustomerOp(c))
	return c, nil
}

// UpdateCustomer replaces the customer with c.ID. ID and CreatedAt are kept
// from the stored record. Unknown IDs are ignored.
func (e *Engine) UpdateCustomer(ctx context.Context, c Customer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateCustomer(c.Name, c.DefaultPrice); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.customerIndex(c.ID)
	if i < 0 {
		return nil
	}
	c.Name = strings.TrimSpace(c.Name)
	c.CreatedAt = e.customers[i].CreatedAt
	e.customers[i] = c
	e.persist.enqueue(putCustomerOp(c))
	return nil
}

// DeleteCustomer removes the customer and every delivery referencing it.
func (e *Engine) DeleteCustomer(ctx context.Context, id CustomerID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.deliveries[:0]
	for _, d := range e.deliveries {
		if d.CustomerID != id {
			kept = append(kept, d)
			continue
		}
		delete(e.byDay, d.key())
		e.persist.enqueue(deleteDeliveryOp(d.ID))
	}
	clear(e.deliveries[len(kept):])
	e.deliveries = kept

	if i := e.customerIndex(id); i >= 0 {
		e.customers = slices.Delete(e.customers, i, i+1)
		e.persist.enqueue(deleteCustomerOp(id))
	}
	return nil
}

// Customers returns every customer in insertion order.
func (e *Engine) Customers() []Customer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.customers)
}

// Customer returns the customer with id.
func (e *Engine) Customer(id CustomerID) (Customer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i := e.customerIndex(id); i >= 0 {
		return e.customers[i], true
	}
	return Customer{}, false
}

func (e *Engine) customerIndex(id CustomerID) int {
	return slices.IndexFunc(e.customers, func(c Customer) bool { return c.ID == id })
}

// =============================================================================
// DELIVERIES
// =============================================================================

// AddDelivery records a delivery. Returns *DuplicateDeliveryError if the
// customer already has a delivery on that date; nothing is created then.
func (e *Engine) AddDelivery(ctx context.Context, in DeliveryInput) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}
	if err := e.validateDelivery(in.CustomerID, in.Date, in.Quantity, in.PriceAtTime); err != nil {
		return Delivery{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	k := dayKey{CustomerID: in.CustomerID, Date: in.Date}
	if existing, ok := e.byDay[k]; ok {
		return Delivery{}, &DuplicateDeliveryError{
			CustomerID: in.CustomerID,
			Date:       in.Date,
			ExistingID: existing,
		}
	}

	d := Delivery{
		ID:          DeliveryID(e.newID()),
		CustomerID:  in.CustomerID,
		Date:        in.Date,
		Quantity:    in.Quantity,
		PriceAtTime: in.PriceAtTime,
		TotalAmount: LineTotal(in.Quantity, in.PriceAtTime),
	}
	e.deliveries = append(e.deliveries, d)
	e.byDay[k] = d.ID
	e.persist.enqueue(putDeliveryOp(d))
	return d, nil
}

// UpdateDelivery replaces the delivery with d.ID and recomputes its total.
// Moving it onto another delivery's (customer, date) returns
// *DuplicateDeliveryError; keeping its own (customer, date) never does.
// Unknown IDs are ignored.
func (e *Engine) UpdateDelivery(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.validateDelivery(d.CustomerID, d.Date, d.Quantity, d.PriceAtTime); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.deliveryIndex(d.ID)
	if i < 0 {
		return nil
	}
	old := e.deliveries[i]
	moved := old.key() != d.key()
	if existing, ok := e.byDay[d.key()]; ok && moved && existing != d.ID {
		return &DuplicateDeliveryError{
			CustomerID: d.CustomerID,
			Date:       d.Date,
			ExistingID: existing,
		}
	}

	d.TotalAmount = LineTotal(d.Quantity, d.PriceAtTime)
	e.deliveries[i] = d
	if moved {
		e.releaseDayLocked(old)
		e.byDay[d.key()] = d.ID
	}
	e.persist.enqueue(putDeliveryOp(d))
	return nil
}

// DeleteDelivery removes one delivery. Unknown IDs are ignored.
func (e *Engine) DeleteDelivery(ctx context.Context, id DeliveryID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.deliveryIndex(id)
	if i < 0 {
		return nil
	}
	d := e.deliveries[i]
	e.deliveries = slices.Delete(e.deliveries, i, i+1)
	e.releaseDayLocked(d)
	e.persist.enqueue(deleteDeliveryOp(id))
	return nil
}

// releaseDayLocked drops d's slot from the day index once d no longer
// holds it. A restored ledger may carry a second delivery for the same
// customer day; that one takes the slot over.
func (e *Engine) releaseDayLocked(d Delivery) {
	k := d.key()
	if e.byDay[k] != d.ID {
		return
	}
	delete(e.byDay, k)
	for _, other := range e.deliveries {
		if other.key() == k {
			e.byDay[k] = other.ID
			return
		}
	}
}

// Deliveries returns every delivery in insertion order.
func (e *Engine) Deliveries() []Delivery {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.deliveries)
}

// DeliveryOn returns the customer's delivery on date, if any.
func (e *Engine) DeliveryOn(customerID CustomerID, date Date) (Delivery, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.deliveryOnLocked(customerID, date)
}

func (e *Engine) deliveryOnLocked(customerID CustomerID, date Date) (Delivery, bool) {
	id, ok := e.byDay[dayKey{CustomerID: customerID, Date: date}]
	if !ok {
		return Delivery{}, false
	}
	i := e.deliveryIndex(id)
	if i < 0 {
		return Delivery{}, false
	}
	return e.deliveries[i], true
}

// DeliveriesForRange returns deliveries of customerID (or of every customer
// for AllCustomers) dated within [start, end], most recent first. Each call
// returns a fresh slice.
func (e *Engine) DeliveriesForRange(customerID CustomerID, start, end Date) []Delivery {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result []Delivery
	for _, d := range e.deliveries {
		if customerID != AllCustomers && d.CustomerID != customerID {
			continue
		}
		if d.Date < start || d.Date > end {
			continue
		}
		result = append(result, d)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Date > result[j].Date
	})
	return result
}

func (e *Engine) deliveryIndex(id DeliveryID) int {
	return slices.IndexFunc(e.deliveries, func(d Delivery) bool { return d.ID == id })
}

// =============================================================================
// SNAPSHOT / RESTORE
// =============================================================================

// Snapshot returns a copy of both collections.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		Customers:  slices.Clone(e.customers),
		Deliveries: slices.Clone(e.deliveries),
	}
}

// Restore replaces the store contents with snap and reloads memory from the
// store. Pending writes are flushed first. If the store cannot be replaced
// the in-memory state is left as it was.
func (e *Engine) Restore(ctx context.Context, snap Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.persist.Flush(ctx); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}

	replace := func(s Store) error {
		if err := s.Clear(ctx, CollectionCustomers); err != nil {
			return err
		}
		if err := s.Clear(ctx, CollectionDeliveries); err != nil {
			return err
		}
		for _, c := range snap.Customers {
			if err := s.PutCustomer(ctx, c); err != nil {
				return err
			}
		}
		for _, d := range snap.Deliveries {
			if err := s.PutDelivery(ctx, d); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if txStore, ok := e.store.(TxStore); ok {
		err = txStore.WithTx(ctx, replace)
	} else {
		err = replace(e.store)
	}
	if err != nil {
		e.logger.WithError(err).Error("restore failed, keeping current ledger")
		return fmt.Errorf("restore store: %w", err)
	}

	e.logger.WithFields(log.Fields{
		"customers":  len(snap.Customers),
		"deliveries": len(snap.Deliveries),
	}).Info("ledger restored")
	return e.loadLocked(ctx)
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateCustomer(name string, price decimal.Decimal) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	if price.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

func (e *Engine) validateDelivery(customerID CustomerID, date Date, quantity, price decimal.Decimal) error {
	if customerID == "" {
		return ErrCustomerRequired
	}
	if _, err := ParseDate(string(date)); err != nil {
		return err
	}
	if date.After(e.Today()) {
		return fmt.Errorf("%w: %s", ErrFutureDate, date)
	}
	if !quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if price.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

// Today returns the current calendar date by the engine clock.
func (e *Engine) Today() Date {
	return DateOf(e.now())
}
