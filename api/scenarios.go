/*
scenarios.go - Demo data sets for testing and demonstrations

PURPOSE:

	Provides pre-built ledgers that replace the current data with realistic
	customers and deliveries, dated relative to today so the default
	month views are never empty.

AVAILABLE SCENARIOS:

	small-round: Three households, the last week of deliveries with gaps
	full-month:  Eight households, last month and this month so far, one
	             mid-month price rise
	empty:       No customers, no deliveries

HOW SCENARIOS WORK:
 1. Build a ledger.Snapshot in memory (fresh IDs, totals via LineTotal)
 2. Engine.Restore replaces store and memory atomically

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "full-month"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create a builder: func(today ledger.Date, now time.Time) ledger.Snapshot
 3. Register it in 'scenarioBuilders'

NOTE:

	Scenarios replace all data. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Backup import uses the same Restore path
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/milk-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-round",
		Name:        "Small Round",
		Description: "Three households with the last week of deliveries, a few days skipped",
	},
	{
		ID:          "full-month",
		Name:        "Full Month",
		Description: "Eight households over last month and this month, with a mid-month price rise",
	},
	{
		ID:          "empty",
		Name:        "Empty",
		Description: "No customers and no deliveries",
	},
}

type scenarioBuilder func(today ledger.Date, now time.Time) ledger.Snapshot

var scenarioBuilders = map[string]scenarioBuilder{
	"small-round": buildSmallRound,
	"full-month":  buildFullMonth,
	"empty":       func(ledger.Date, time.Time) ledger.Snapshot { return ledger.Snapshot{} },
}

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": h.scenario()})
}

// LoadScenario replaces the ledger with a demo data set.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.ApplyScenario(r.Context(), req.ScenarioID); err != nil {
		if _, ok := scenarioBuilders[req.ScenarioID]; !ok {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		h.writeLedgerError(w, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"ledger":   h.status(),
	})
}

// ApplyScenario replaces the ledger with the named demo data set.
func (h *Handler) ApplyScenario(ctx context.Context, id string) error {
	build, ok := scenarioBuilders[id]
	if !ok {
		return fmt.Errorf("unknown scenario: %s", id)
	}

	snap := build(h.Engine.Today(), time.Now())
	if err := h.Engine.Restore(ctx, snap); err != nil {
		return err
	}
	h.setScenario(id)

	h.Logger.WithField("scenario", id).Info("scenario loaded")
	return nil
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}

// =============================================================================
// SCENARIO BUILDERS
// =============================================================================

// snapshotBuilder accumulates customers and deliveries for a scenario.
type snapshotBuilder struct {
	snap      ledger.Snapshot
	createdAt int64
}

func (b *snapshotBuilder) customer(name, phone, address string, price float64) ledger.Customer {
	c := ledger.Customer{
		ID:           ledger.CustomerID(uuid.NewString()),
		Name:         name,
		Phone:        phone,
		Address:      address,
		DefaultPrice: decimal.NewFromFloat(price),
		CreatedAt:    b.createdAt,
	}
	b.snap.Customers = append(b.snap.Customers, c)
	return c
}

func (b *snapshotBuilder) delivery(c ledger.Customer, date ledger.Date, litres float64, price decimal.Decimal) {
	quantity := decimal.NewFromFloat(litres)
	b.snap.Deliveries = append(b.snap.Deliveries, ledger.Delivery{
		ID:          ledger.DeliveryID(uuid.NewString()),
		CustomerID:  c.ID,
		Date:        date,
		Quantity:    quantity,
		PriceAtTime: price,
		TotalAmount: ledger.LineTotal(quantity, price),
	})
}

func buildSmallRound(today ledger.Date, now time.Time) ledger.Snapshot {
	b := &snapshotBuilder{createdAt: now.UnixMilli()}

	asha := b.customer("Asha", "98450 11111", "12 Temple Road", 60)
	ravi := b.customer("Ravi", "98450 22222", "4 Lake View", 55)
	meena := b.customer("Meena", "", "7 Market Street", 58)

	for offset := 6; offset >= 0; offset-- {
		date := today.AddDays(-offset)
		b.delivery(asha, date, 1, asha.DefaultPrice)
		if offset%3 != 0 {
			b.delivery(ravi, date, 2, ravi.DefaultPrice)
		}
		if offset%2 == 0 {
			b.delivery(meena, date, 0.5, meena.DefaultPrice)
		}
	}
	return b.snap
}

func buildFullMonth(today ledger.Date, now time.Time) ledger.Snapshot {
	b := &snapshotBuilder{createdAt: now.UnixMilli()}

	households := []struct {
		name    string
		address string
		price   float64
		litres  []float64 // cycled day by day; 0 means skipped
	}{
		{"Asha", "12 Temple Road", 60, []float64{1}},
		{"Ravi", "4 Lake View", 55, []float64{2, 2, 1.5}},
		{"Meena", "7 Market Street", 58, []float64{0.5, 0, 0.5}},
		{"Farhan", "21 Station Road", 60, []float64{1.5}},
		{"Lakshmi", "3 Mill Lane", 62, []float64{1, 1, 1, 1, 1, 0, 2}},
		{"Joseph", "9 Church Street", 60, []float64{0.5}},
		{"Priya", "16 Garden Colony", 58, []float64{1, 0}},
		{"Suresh", "2 Bus Stand Road", 55, []float64{3, 2.5}},
	}

	thisMonth := ledger.MonthOf(today)
	lastMonth := ledger.MonthOf(thisMonth.Start.AddDays(-1))
	period := ledger.Period{Start: lastMonth.Start, End: today}
	priceRise := lastMonth.Start.AddDays(14)

	for _, hh := range households {
		c := b.customer(hh.name, "", hh.address, hh.price)
		for i, date := range period.Days() {
			litres := hh.litres[i%len(hh.litres)]
			if litres == 0 {
				continue
			}
			price := c.DefaultPrice
			if !date.Before(priceRise) {
				price = price.Add(decimal.NewFromInt(2))
			}
			b.delivery(c, date, litres, price)
		}
		b.snap.Customers[len(b.snap.Customers)-1].DefaultPrice = c.DefaultPrice.Add(decimal.NewFromInt(2))
	}
	return b.snap
}
