/*
Package report builds the milk register: a customer by day matrix of
delivered litres over a date range, ready for a spreadsheet.

PURPOSE:
  The register is what gets handed to the accountant at month end. Every
  day of the range is a column, whether or not anything was delivered, so
  sheets for different customers line up.

LAYOUT:
  Customer | 01-Mar | 02-Mar | ... | Total Litres | Total Amount
  Asha     | 1.00   |        | ... | 1.00         | 60.00
  ...
  DAILY TOTAL | 3.00 |       | ... | <all litres> | <all amounts>

  Absent deliveries are empty cells, not zero. Quantities and amounts are
  printed with two decimals.

CUSTOMER ROWS:
  With the AllCustomers selector, every customer with at least one delivery
  in range, in customer order. Otherwise the one selected customer.

EMPTY RANGES:
  Build returns ErrNothingToExport when no delivery falls in range. The
  caller reports "nothing to export" instead of writing an empty sheet.

SEE ALSO:
  - ledger/engine.go: DeliveriesForRange feeds the register
  - ledger/summary.go: Summarize for the grand totals
*/
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/warp/milk-ledger/ledger"
)

const (
	// DefaultName prefixes exported register files.
	DefaultName = "Milk_Register"

	// FooterLabel names the per-day totals row.
	FooterLabel = "DAILY TOTAL"

	// ColumnDateLayout renders date column headers, e.g. "01-Mar".
	ColumnDateLayout = "02-Jan"
)

var (
	// ErrNothingToExport is returned when no delivery falls in the range.
	ErrNothingToExport = errors.New("nothing to export")

	// ErrInvalidRange is returned for a malformed or inverted range.
	ErrInvalidRange = errors.New("invalid report range")
)

// FileName returns the download name of a register, e.g.
// "Milk_Register_2024-03-01_2024-03-31.csv".
func FileName(name string, period ledger.Period) string {
	if name == "" {
		name = DefaultName
	}
	return fmt.Sprintf("%s_%s_%s.csv", name, period.Start, period.End)
}

// =============================================================================
// REGISTER
// =============================================================================

// Cell is one customer-day of the register.
type Cell struct {
	Quantity decimal.Decimal
	Present  bool
}

// Row is one customer line, or the footer.
type Row struct {
	CustomerID ledger.CustomerID // empty for the footer
	Label      string
	Cells      []Cell // one per register date
	Litres     decimal.Decimal
	Amount     decimal.Decimal
}

// Register is the dense matrix for one range.
type Register struct {
	Period ledger.Period
	Dates  []ledger.Date
	Rows   []Row
	Footer Row
	Totals ledger.Totals
}

// Input is what Build needs. Deliveries outside Period or not matching
// Selector are ignored.
type Input struct {
	Customers  []ledger.Customer
	Deliveries []ledger.Delivery
	Selector   ledger.CustomerID
	Period     ledger.Period
}

// Build derives the register from in.
func Build(in Input) (*Register, error) {
	if err := in.Period.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	selector := in.Selector
	if selector == "" {
		selector = ledger.AllCustomers
	}

	var filtered []ledger.Delivery
	for _, d := range in.Deliveries {
		if !in.Period.Contains(d.Date) {
			continue
		}
		if selector != ledger.AllCustomers && d.CustomerID != selector {
			continue
		}
		filtered = append(filtered, d)
	}
	if len(filtered) == 0 {
		return nil, ErrNothingToExport
	}

	dates := in.Period.Days()
	column := make(map[ledger.Date]int, len(dates))
	for i, date := range dates {
		column[date] = i
	}

	reg := &Register{
		Period: in.Period,
		Dates:  dates,
		Totals: ledger.Summarize(filtered),
		Footer: Row{
			Label:  FooterLabel,
			Cells:  make([]Cell, len(dates)),
			Litres: decimal.Zero,
			Amount: decimal.Zero,
		},
	}

	for _, c := range reportedCustomers(in.Customers, filtered, selector) {
		row := Row{
			CustomerID: c.ID,
			Label:      c.Name,
			Cells:      make([]Cell, len(dates)),
			Litres:     decimal.Zero,
			Amount:     decimal.Zero,
		}
		for _, d := range filtered {
			if d.CustomerID != c.ID {
				continue
			}
			// A restored date that is not a calendar day has no column.
			i, ok := column[d.Date]
			if !ok {
				continue
			}
			// First delivery wins if a restored ledger holds two for one day.
			if row.Cells[i].Present {
				continue
			}
			row.Cells[i] = Cell{Quantity: d.Quantity, Present: true}
			row.Litres = row.Litres.Add(d.Quantity)
			row.Amount = row.Amount.Add(d.TotalAmount)

			footer := &reg.Footer.Cells[i]
			footer.Quantity = footer.Quantity.Add(d.Quantity)
			footer.Present = true
		}
		reg.Rows = append(reg.Rows, row)
	}

	reg.Footer.Litres = reg.Totals.Litres
	reg.Footer.Amount = reg.Totals.Amount
	return reg, nil
}

func reportedCustomers(customers []ledger.Customer, deliveries []ledger.Delivery, selector ledger.CustomerID) []ledger.Customer {
	if selector != ledger.AllCustomers {
		for _, c := range customers {
			if c.ID == selector {
				return []ledger.Customer{c}
			}
		}
		return nil
	}

	active := make(map[ledger.CustomerID]bool)
	for _, d := range deliveries {
		active[d.CustomerID] = true
	}
	var result []ledger.Customer
	for _, c := range customers {
		if active[c.ID] {
			result = append(result, c)
		}
	}
	return result
}

// =============================================================================
// SOURCE - Build straight from an engine
// =============================================================================

// Source is the read side of the ledger the register needs.
type Source interface {
	Customers() []ledger.Customer
	DeliveriesForRange(customerID ledger.CustomerID, start, end ledger.Date) []ledger.Delivery
}

// ForRange builds the register for selector over period from src.
func ForRange(src Source, selector ledger.CustomerID, period ledger.Period) (*Register, error) {
	if err := period.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	if selector == "" {
		selector = ledger.AllCustomers
	}
	return Build(Input{
		Customers:  src.Customers(),
		Deliveries: src.DeliveriesForRange(selector, period.Start, period.End),
		Selector:   selector,
		Period:     period,
	})
}

// =============================================================================
// CSV
// =============================================================================

// Header returns the column titles.
func (r *Register) Header() []string {
	header := make([]string, 0, len(r.Dates)+3)
	header = append(header, "Customer")
	for _, date := range r.Dates {
		header = append(header, date.Format(ColumnDateLayout))
	}
	return append(header, "Total Litres", "Total Amount")
}

// Records returns header, customer rows and footer as text fields.
func (r *Register) Records() [][]string {
	records := make([][]string, 0, len(r.Rows)+2)
	records = append(records, r.Header())
	for _, row := range r.Rows {
		records = append(records, row.fields())
	}
	return append(records, r.Footer.fields())
}

// WriteCSV writes the register as comma-separated text.
func (r *Register) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(r.Records()); err != nil {
		return fmt.Errorf("write register: %w", err)
	}
	return nil
}

func (row Row) fields() []string {
	fields := make([]string, 0, len(row.Cells)+3)
	fields = append(fields, row.Label)
	for _, cell := range row.Cells {
		if !cell.Present {
			fields = append(fields, "")
			continue
		}
		fields = append(fields, cell.Quantity.StringFixed(ledger.AmountPlaces))
	}
	return append(fields,
		row.Litres.StringFixed(ledger.AmountPlaces),
		row.Amount.StringFixed(ledger.AmountPlaces),
	)
}
