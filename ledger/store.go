/*
store.go - Persistence interface for customers and deliveries

PURPOSE:
  Defines the interface between the ledger engine and durable storage.
  The store is a key-value mirror of the two record collections, addressed
  by record ID. It is never read outside Engine.Load; the engine's memory
  is the source of truth for the running session.

KEY INTERFACES:
  Store:   Load-all, insert-or-replace, delete, clear
  TxStore: Store plus atomic multi-call transactions (used by Restore)

CONTRACT:
  - Load* returns every stored record, or an empty slice if none
  - Put* inserts or replaces by ID; calling it twice is harmless
  - Delete* removes by ID; unknown IDs are not an error
  - Clear removes every record of one collection (restore only)
  - Opening a store creates empty collections when none exist

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite file (production)
  - ledger/store/memory.go: In-memory for tests and demos

SEE ALSO:
  - persister.go: Issues the writes asynchronously
  - engine.go: Load and Restore read/replace the whole store
*/
package ledger

import "context"

// Collection names one of the two record collections.
type Collection string

const (
	CollectionCustomers  Collection = "customers"
	CollectionDeliveries Collection = "deliveries"
)

// =============================================================================
// STORE - Durable mirror of the ledger
// =============================================================================

// Store persists customers and deliveries keyed by ID.
type Store interface {
	// LoadCustomers returns every stored customer.
	LoadCustomers(ctx context.Context) ([]Customer, error)

	// LoadDeliveries returns every stored delivery.
	LoadDeliveries(ctx context.Context) ([]Delivery, error)

	// PutCustomer inserts or replaces a customer by ID.
	PutCustomer(ctx context.Context, c Customer) error

	// PutDelivery inserts or replaces a delivery by ID.
	PutDelivery(ctx context.Context, d Delivery) error

	// DeleteCustomer removes a customer. No-op if absent.
	DeleteCustomer(ctx context.Context, id CustomerID) error

	// DeleteDelivery removes a delivery. No-op if absent.
	DeleteDelivery(ctx context.Context, id DeliveryID) error

	// Clear removes every record in the collection.
	Clear(ctx context.Context, collection Collection) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic restore
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
