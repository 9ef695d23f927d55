package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// TOTALS - Aggregate over a set of deliveries
// =============================================================================

// Totals aggregates litres, billed amount and delivery count.
type Totals struct {
	Litres     decimal.Decimal
	Amount     decimal.Decimal
	Deliveries int
}

// Summarize sums quantities and stored totals. Amounts are summed from
// TotalAmount, never recomputed.
func Summarize(deliveries []Delivery) Totals {
	t := Totals{Litres: decimal.Zero, Amount: decimal.Zero}
	for _, d := range deliveries {
		t.Litres = t.Litres.Add(d.Quantity)
		t.Amount = t.Amount.Add(d.TotalAmount)
		t.Deliveries++
	}
	return t
}

// =============================================================================
// DAY SUMMARY - The round at a glance for one date
// =============================================================================

// DaySummary is the state of the round on one date.
type DaySummary struct {
	Date      Date
	Totals    Totals
	Remaining int // customers without a delivery that day
	Customers []CustomerDay
}

// CustomerDay pairs a customer with its delivery on the summary date.
type CustomerDay struct {
	Customer  Customer
	Delivery  Delivery
	Delivered bool
}

// DaySummary returns totals and per-customer status for date.
func (e *Engine) DaySummary(date Date) DaySummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	var day []Delivery
	for _, d := range e.deliveries {
		if d.Date == date {
			day = append(day, d)
		}
	}

	summary := DaySummary{
		Date:      date,
		Totals:    Summarize(day),
		Remaining: max(0, len(e.customers)-len(day)),
		Customers: make([]CustomerDay, 0, len(e.customers)),
	}
	for _, c := range e.customers {
		status := CustomerDay{Customer: c}
		if d, ok := e.deliveryOnLocked(c.ID, date); ok {
			status.Delivery = d
			status.Delivered = true
		}
		summary.Customers = append(summary.Customers, status)
	}
	return summary
}

// RangeSummary totals the deliveries DeliveriesForRange would return.
func (e *Engine) RangeSummary(customerID CustomerID, start, end Date) Totals {
	return Summarize(e.DeliveriesForRange(customerID, start, end))
}
