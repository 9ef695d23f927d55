/*
Package ledger provides the delivery ledger engine for a home-delivery milk round.

PURPOSE:
  Tracks customers and the deliveries made to them, one delivery per
  customer per calendar day, and answers the range queries that billing
  needs. The Engine holds the authoritative in-memory copy of both record
  collections and mirrors every change to a durable Store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer: a household on the round, with its default rate per litre
  - Delivery: one billable event (litres x rate on one date)
  - Snapshot: both collections at a point in time (backup, reports)

PRECISION:
  Quantities, rates and amounts are decimal.Decimal. A delivery's
  TotalAmount is Quantity x PriceAtTime rounded to 2 places when the
  record is written, and stored. It is never recomputed on read, so old
  bills stay stable.

USAGE:
  engine := ledger.NewEngine(store)
  if err := engine.Load(ctx); err != nil {
      return err
  }
  asha, _ := engine.AddCustomer(ctx, ledger.CustomerInput{
      Name:         "Asha",
      DefaultPrice: decimal.NewFromInt(60),
  })

SEE ALSO:
  - engine.go: Engine operations and the uniqueness invariant
  - store.go: Persistence interface
  - date.go: Calendar dates and periods
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type DeliveryID string

// AllCustomers is the range-query selector that matches every customer.
const AllCustomers CustomerID = "all"

// AmountPlaces is the number of decimal places money and litres are rounded to.
const AmountPlaces = 2

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer is a household on the delivery round.
type Customer struct {
	ID           CustomerID
	Name         string
	Phone        string
	Address      string
	DefaultPrice decimal.Decimal // per litre, pre-fills new deliveries
	CreatedAt    int64           // milliseconds since epoch, set once
}

// Created returns CreatedAt as a time.Time.
func (c Customer) Created() time.Time { return time.UnixMilli(c.CreatedAt).UTC() }

// CustomerInput carries the caller-supplied fields of a new customer.
type CustomerInput struct {
	Name         string
	Phone        string
	Address      string
	DefaultPrice decimal.Decimal
}

// =============================================================================
// DELIVERY
// =============================================================================

// Delivery is one billable event: Quantity litres to one customer on one Date
// at the PriceAtTime rate.
type Delivery struct {
	ID          DeliveryID
	CustomerID  CustomerID
	Date        Date
	Quantity    decimal.Decimal // litres
	PriceAtTime decimal.Decimal // rate captured at entry
	TotalAmount decimal.Decimal // Quantity x PriceAtTime, rounded at write time
}

// DeliveryInput carries the caller-supplied fields of a new delivery.
// TotalAmount is always derived by the engine.
type DeliveryInput struct {
	CustomerID  CustomerID
	Date        Date
	Quantity    decimal.Decimal
	PriceAtTime decimal.Decimal
}

// dayKey identifies the (customer, date) slot a delivery occupies.
type dayKey struct {
	CustomerID CustomerID
	Date       Date
}

func (d Delivery) key() dayKey { return dayKey{CustomerID: d.CustomerID, Date: d.Date} }

// LineTotal returns quantity x price rounded to AmountPlaces.
func LineTotal(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Round(AmountPlaces)
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is a full point-in-time copy of both collections.
type Snapshot struct {
	Customers  []Customer
	Deliveries []Delivery
}
