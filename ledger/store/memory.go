// Package store provides Store implementations.
package store

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/warp/milk-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps both collections in maps and remembers insertion order so
// loads are deterministic. SetWriteError makes every write fail, which lets
// tests exercise the persister's failure path.
type Memory struct {
	mu         sync.RWMutex
	customers  map[ledger.CustomerID]ledger.Customer
	deliveries map[ledger.DeliveryID]ledger.Delivery
	custOrder  []ledger.CustomerID
	delOrder   []ledger.DeliveryID
	writeErr   error
	writes     int
}

func NewMemory() *Memory {
	return &Memory{
		customers:  make(map[ledger.CustomerID]ledger.Customer),
		deliveries: make(map[ledger.DeliveryID]ledger.Delivery),
	}
}

// SetWriteError makes every subsequent write return err. Pass nil to heal.
func (m *Memory) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Writes returns how many writes succeeded.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *Memory) LoadCustomers(_ context.Context) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Customer, 0, len(m.custOrder))
	for _, id := range m.custOrder {
		result = append(result, m.customers[id])
	}
	return result, nil
}

func (m *Memory) LoadDeliveries(_ context.Context) ([]ledger.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Delivery, 0, len(m.delOrder))
	for _, id := range m.delOrder {
		result = append(result, m.deliveries[id])
	}
	return result, nil
}

func (m *Memory) PutCustomer(_ context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putCustomerLocked(c)
}

func (m *Memory) PutDelivery(_ context.Context, d ledger.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putDeliveryLocked(d)
}

func (m *Memory) DeleteCustomer(_ context.Context, id ledger.CustomerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCustomerLocked(id)
}

func (m *Memory) DeleteDelivery(_ context.Context, id ledger.DeliveryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteDeliveryLocked(id)
}

func (m *Memory) Clear(_ context.Context, collection ledger.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked(collection)
}

func (m *Memory) putCustomerLocked(c ledger.Customer) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.customers[c.ID]; !ok {
		m.custOrder = append(m.custOrder, c.ID)
	}
	m.customers[c.ID] = c
	m.writes++
	return nil
}

func (m *Memory) putDeliveryLocked(d ledger.Delivery) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.deliveries[d.ID]; !ok {
		m.delOrder = append(m.delOrder, d.ID)
	}
	m.deliveries[d.ID] = d
	m.writes++
	return nil
}

func (m *Memory) deleteCustomerLocked(id ledger.CustomerID) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.customers[id]; ok {
		delete(m.customers, id)
		m.custOrder = slices.DeleteFunc(m.custOrder, func(x ledger.CustomerID) bool { return x == id })
	}
	m.writes++
	return nil
}

func (m *Memory) deleteDeliveryLocked(id ledger.DeliveryID) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.deliveries[id]; ok {
		delete(m.deliveries, id)
		m.delOrder = slices.DeleteFunc(m.delOrder, func(x ledger.DeliveryID) bool { return x == id })
	}
	m.writes++
	return nil
}

func (m *Memory) clearLocked(collection ledger.Collection) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	switch collection {
	case ledger.CollectionCustomers:
		m.customers = make(map[ledger.CustomerID]ledger.Customer)
		m.custOrder = nil
	case ledger.CollectionDeliveries:
		m.deliveries = make(map[ledger.DeliveryID]ledger.Delivery)
		m.delOrder = nil
	}
	m.writes++
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	return memorySnapshot{
		customers:  maps.Clone(tm.customers),
		deliveries: maps.Clone(tm.deliveries),
		custOrder:  slices.Clone(tm.custOrder),
		delOrder:   slices.Clone(tm.delOrder),
		writes:     tm.writes,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.customers = s.customers
	tm.deliveries = s.deliveries
	tm.custOrder = s.custOrder
	tm.delOrder = s.delOrder
	tm.writes = s.writes
}

type memorySnapshot struct {
	customers  map[ledger.CustomerID]ledger.Customer
	deliveries map[ledger.DeliveryID]ledger.Delivery
	custOrder  []ledger.CustomerID
	delOrder   []ledger.DeliveryID
	writes     int
}

// txMemoryView runs store calls while WithTx already holds the lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) LoadCustomers(_ context.Context) ([]ledger.Customer, error) {
	result := make([]ledger.Customer, 0, len(tv.parent.custOrder))
	for _, id := range tv.parent.custOrder {
		result = append(result, tv.parent.customers[id])
	}
	return result, nil
}

func (tv *txMemoryView) LoadDeliveries(_ context.Context) ([]ledger.Delivery, error) {
	result := make([]ledger.Delivery, 0, len(tv.parent.delOrder))
	for _, id := range tv.parent.delOrder {
		result = append(result, tv.parent.deliveries[id])
	}
	return result, nil
}

func (tv *txMemoryView) PutCustomer(_ context.Context, c ledger.Customer) error {
	return tv.parent.putCustomerLocked(c)
}

func (tv *txMemoryView) PutDelivery(_ context.Context, d ledger.Delivery) error {
	return tv.parent.putDeliveryLocked(d)
}

func (tv *txMemoryView) DeleteCustomer(_ context.Context, id ledger.CustomerID) error {
	return tv.parent.deleteCustomerLocked(id)
}

func (tv *txMemoryView) DeleteDelivery(_ context.Context, id ledger.DeliveryID) error {
	return tv.parent.deleteDeliveryLocked(id)
}

func (tv *txMemoryView) Clear(_ context.Context, collection ledger.Collection) error {
	return tv.parent.clearLocked(collection)
}
