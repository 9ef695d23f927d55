/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Customers are created
	- Deliveries respect one per customer per day
	- Nothing is dated after today
	- Loading replaces whatever was there before

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/milk-ledger/ledger"
)

func assertConsistentLedger(t *testing.T, engine *ledger.Engine) {
	t.Helper()

	known := make(map[ledger.CustomerID]bool)
	for _, c := range engine.Customers() {
		known[c.ID] = true
	}

	today := engine.Today()
	seen := make(map[string]bool)
	for _, d := range engine.Deliveries() {
		assert.True(t, known[d.CustomerID], "delivery %s has unknown customer", d.ID)
		assert.False(t, d.Date.After(today), "delivery %s dated after today", d.ID)
		key := string(d.CustomerID) + "|" + string(d.Date)
		assert.False(t, seen[key], "two deliveries for %s", key)
		seen[key] = true
		assert.True(t, ledger.LineTotal(d.Quantity, d.PriceAtTime).Equal(d.TotalAmount))
	}
}

func TestScenario_SmallRound(t *testing.T) {
	// GIVEN: Small round scenario
	// WHEN: Loading the scenario
	// THEN: Three customers with a week of deliveries, some days skipped

	h, _ := setupTestHandler(t)
	require.NoError(t, h.ApplyScenario(context.Background(), "small-round"))

	customers := h.Engine.Customers()
	require.Len(t, customers, 3)
	assert.Equal(t, "Asha", customers[0].Name)

	// Asha every day, Ravi on 4 of 7, Meena on 4 of 7
	assert.Len(t, h.Engine.Deliveries(), 15)
	assertConsistentLedger(t, h.Engine)
	assert.Equal(t, "small-round", h.scenario())
}

func TestScenario_FullMonth(t *testing.T) {
	// GIVEN: Full month scenario with today = 2024-06-01
	// WHEN: Loading the scenario
	// THEN: Eight customers, May fully covered, and the price rise applied from 15 May

	h, _ := setupTestHandler(t)
	require.NoError(t, h.ApplyScenario(context.Background(), "full-month"))

	customers := h.Engine.Customers()
	require.Len(t, customers, 8)
	assertConsistentLedger(t, h.Engine)

	asha := customers[0]
	before, ok := h.Engine.DeliveryOn(asha.ID, "2024-05-14")
	require.True(t, ok)
	assert.Equal(t, "60", before.PriceAtTime.String())

	after, ok := h.Engine.DeliveryOn(asha.ID, "2024-05-15")
	require.True(t, ok)
	assert.Equal(t, "62", after.PriceAtTime.String())
	assert.Equal(t, "62", asha.DefaultPrice.String())

	may := h.Engine.DeliveriesForRange(asha.ID, "2024-05-01", "2024-05-31")
	assert.Len(t, may, 31)
}

func TestScenario_EmptyClearsLedger(t *testing.T) {
	// GIVEN: A loaded scenario
	// WHEN: The empty scenario is loaded
	// THEN: No customers or deliveries remain

	h, _ := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.ApplyScenario(ctx, "small-round"))
	require.NoError(t, h.ApplyScenario(ctx, "empty"))

	assert.Empty(t, h.Engine.Customers())
	assert.Empty(t, h.Engine.Deliveries())
}

func TestScenario_LoadViaAPI(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "small-round"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	current := decodeBody[map[string]string](t, doRequest(t, router, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "small-round", current["scenario_id"])

	list := decodeBody[[]ScenarioDTO](t, doRequest(t, router, http.MethodGet, "/api/scenarios", nil))
	assert.Len(t, list, len(scenarioBuilders))
}

func TestScenario_UnknownRejected(t *testing.T) {
	h, router := setupTestHandler(t)
	createCustomer(t, router, "Asha", 60)

	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, h.Engine.Customers(), 1)
}
