/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Durable mirror of the ledger's two collections in a single local file.
  The engine keeps the working copy in memory; this store only has to
  survive restarts.

INTERFACES IMPLEMENTED:
  ledger.Store:   Load-all, upsert, delete, clear
  ledger.TxStore: Atomic restore via WithTx

KEY TABLES:
  customers:  One row per customer
  deliveries: One row per delivery

DECIMALS:
  Quantities, rates and amounts are stored as TEXT (decimal.String()) so
  values round-trip exactly. created_at is INTEGER milliseconds.

INDEXES:
  - idx_deliveries_customer_date: per-customer day lookups
  - idx_deliveries_date: range scans
  The (customer_id, date) index is not UNIQUE: restored backups are
  trusted as-is and the engine enforces the invariant on new writes.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Writes arrive from one persister
  goroutine; reads happen on Load.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better crash recovery.

USAGE:
  store, err := sqlite.New("./data/milk.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). Opening an existing file is a no-op.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/milk-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A :memory: database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		default_price TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		date TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price_at_time TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_customer_date
		ON deliveries(customer_id, date);
	CREATE INDEX IF NOT EXISTS idx_deliveries_date
		ON deliveries(date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// LoadCustomers returns every customer in insertion order.
func (s *Store) LoadCustomers(ctx context.Context) ([]ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadCustomers(ctx, s.db)
}

// PutCustomer inserts or replaces a customer. Replacing keeps the original
// insertion position.
func (s *Store) PutCustomer(ctx context.Context, c ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putCustomer(ctx, s.db, c)
}

// DeleteCustomer removes a customer.
func (s *Store) DeleteCustomer(ctx context.Context, id ledger.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM customers WHERE id = ?", id)
	return err
}

func loadCustomers(ctx context.Context, db execer) ([]ledger.Customer, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, phone, address, default_price, created_at FROM customers ORDER BY seq",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	customers := []ledger.Customer{}
	for rows.Next() {
		var (
			c     ledger.Customer
			price string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &price, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		c.DefaultPrice = parseDecimal(price)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func putCustomer(ctx context.Context, db execer, c ledger.Customer) error {
	query := `
		INSERT INTO customers (id, name, phone, address, default_price, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM customers))
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			address = excluded.address,
			default_price = excluded.default_price,
			created_at = excluded.created_at
	`

	_, err := db.ExecContext(ctx, query,
		c.ID, c.Name, c.Phone, c.Address, c.DefaultPrice.String(), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put customer: %w", err)
	}
	return nil
}

// =============================================================================
// DELIVERIES
// =============================================================================

// LoadDeliveries returns every delivery in insertion order.
func (s *Store) LoadDeliveries(ctx context.Context) ([]ledger.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadDeliveries(ctx, s.db)
}

// PutDelivery inserts or replaces a delivery.
func (s *Store) PutDelivery(ctx context.Context, d ledger.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putDelivery(ctx, s.db, d)
}

// DeleteDelivery removes a delivery.
func (s *Store) DeleteDelivery(ctx context.Context, id ledger.DeliveryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM deliveries WHERE id = ?", id)
	return err
}

func loadDeliveries(ctx context.Context, db execer) ([]ledger.Delivery, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, customer_id, date, quantity, price_at_time, total_amount
		FROM deliveries
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []ledger.Delivery{}
	for rows.Next() {
		var (
			d                       ledger.Delivery
			quantity, price, amount string
		)
		if err := rows.Scan(&d.ID, &d.CustomerID, &d.Date, &quantity, &price, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		d.Quantity = parseDecimal(quantity)
		d.PriceAtTime = parseDecimal(price)
		d.TotalAmount = parseDecimal(amount)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func putDelivery(ctx context.Context, db execer, d ledger.Delivery) error {
	query := `
		INSERT INTO deliveries (id, customer_id, date, quantity, price_at_time, total_amount, seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM deliveries))
		ON CONFLICT(id) DO UPDATE SET
			customer_id = excluded.customer_id,
			date = excluded.date,
			quantity = excluded.quantity,
			price_at_time = excluded.price_at_time,
			total_amount = excluded.total_amount
	`

	_, err := db.ExecContext(ctx, query,
		d.ID, d.CustomerID, d.Date,
		d.Quantity.String(), d.PriceAtTime.String(), d.TotalAmount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to put delivery: %w", err)
	}
	return nil
}

// =============================================================================
// CLEAR / TRANSACTIONS
// =============================================================================

// Clear removes every record of a collection.
func (s *Store) Clear(ctx context.Context, collection ledger.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clearCollection(ctx, s.db, collection)
}

func clearCollection(ctx context.Context, db execer, collection ledger.Collection) error {
	var table string
	switch collection {
	case ledger.CollectionCustomers:
		table = "customers"
	case ledger.CollectionDeliveries:
		table = "deliveries"
	default:
		return fmt.Errorf("unknown collection %q", collection)
	}
	_, err := db.ExecContext(ctx, "DELETE FROM "+table)
	return err
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) LoadCustomers(ctx context.Context) ([]ledger.Customer, error) {
	return loadCustomers(ctx, ts.tx)
}

func (ts *txStore) LoadDeliveries(ctx context.Context) ([]ledger.Delivery, error) {
	return loadDeliveries(ctx, ts.tx)
}

func (ts *txStore) PutCustomer(ctx context.Context, c ledger.Customer) error {
	return putCustomer(ctx, ts.tx, c)
}

func (ts *txStore) PutDelivery(ctx context.Context, d ledger.Delivery) error {
	return putDelivery(ctx, ts.tx, d)
}

func (ts *txStore) DeleteCustomer(ctx context.Context, id ledger.CustomerID) error {
	_, err := ts.tx.ExecContext(ctx, "DELETE FROM customers WHERE id = ?", id)
	return err
}

func (ts *txStore) DeleteDelivery(ctx context.Context, id ledger.DeliveryID) error {
	_, err := ts.tx.ExecContext(ctx, "DELETE FROM deliveries WHERE id = ?", id)
	return err
}

func (ts *txStore) Clear(ctx context.Context, collection ledger.Collection) error {
	return clearCollection(ctx, ts.tx, collection)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Counts returns the number of stored customers and deliveries.
func (s *Store) Counts(ctx context.Context) (customers, deliveries int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM customers").Scan(&customers); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deliveries").Scan(&deliveries); err != nil {
		return 0, 0, err
	}
	return customers, deliveries, nil
}

// Helper functions

func parseDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}
