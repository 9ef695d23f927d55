package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/milk-ledger/ledger"
	"github.com/warp/milk-ledger/ledger/store"
	"github.com/warp/milk-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

func testOptions() []ledger.Option {
	return []ledger.Option{
		ledger.WithClock(func() time.Time { return testNow }),
		ledger.WithRegisterer(prometheus.NewRegistry()),
		ledger.WithRetryBaseDelay(0),
	}
}

func newTestEngine(t *testing.T) (*ledger.Engine, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	engine := ledger.NewEngine(mem, testOptions()...)
	t.Cleanup(engine.Close)
	require.NoError(t, engine.Load(context.Background()))
	return engine, mem
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func addCustomer(t *testing.T, engine *ledger.Engine, name string, price string) ledger.Customer {
	t.Helper()
	c, err := engine.AddCustomer(context.Background(), ledger.CustomerInput{
		Name:         name,
		DefaultPrice: dec(price),
	})
	require.NoError(t, err)
	return c
}

func addDelivery(t *testing.T, engine *ledger.Engine, customerID ledger.CustomerID, date ledger.Date, quantity, price string) ledger.Delivery {
	t.Helper()
	d, err := engine.AddDelivery(context.Background(), ledger.DeliveryInput{
		CustomerID:  customerID,
		Date:        date,
		Quantity:    dec(quantity),
		PriceAtTime: dec(price),
	})
	require.NoError(t, err)
	return d
}

func countFor(deliveries []ledger.Delivery, customerID ledger.CustomerID) int {
	n := 0
	for _, d := range deliveries {
		if d.CustomerID == customerID {
			n++
		}
	}
	return n
}

// =============================================================================
// UNIQUENESS INVARIANT TESTS
// =============================================================================

func TestEngine_AshaScenario(t *testing.T) {
	// GIVEN: Asha at 60 per litre with one delivery on 2024-03-01
	// WHEN: A second delivery for the same day is added, then Asha is deleted
	// THEN: The second add is rejected and the delete cascades

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	asha := addCustomer(t, engine, "Asha", "60")
	first := addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")
	assert.True(t, first.TotalAmount.Equal(dec("60")))

	_, err := engine.AddDelivery(ctx, ledger.DeliveryInput{
		CustomerID:  asha.ID,
		Date:        "2024-03-01",
		Quantity:    dec("2"),
		PriceAtTime: dec("60"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrDuplicateDelivery)

	var dupErr *ledger.DuplicateDeliveryError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, first.ID, dupErr.ExistingID)

	assert.Equal(t, 1, countFor(engine.Deliveries(), asha.ID))
	onDay, ok := engine.DeliveryOn(asha.ID, "2024-03-01")
	require.True(t, ok)
	assert.True(t, onDay.Quantity.Equal(dec("1")), "original delivery is untouched")

	require.NoError(t, engine.DeleteCustomer(ctx, asha.ID))
	assert.Equal(t, 0, countFor(engine.Deliveries(), asha.ID))
	_, ok = engine.Customer(asha.ID)
	assert.False(t, ok)
}

func TestEngine_SameDayDifferentCustomers_Allowed(t *testing.T) {
	engine, _ := newTestEngine(t)

	asha := addCustomer(t, engine, "Asha", "60")
	ravi := addCustomer(t, engine, "Ravi", "55")

	addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")
	addDelivery(t, engine, ravi.ID, "2024-03-01", "2", "55")

	assert.Len(t, engine.Deliveries(), 2)
}

func TestEngine_DeleteThenReAdd_SameDay(t *testing.T) {
	// GIVEN: A delivery that was deleted
	// WHEN: A new delivery is recorded for the freed slot
	// THEN: It succeeds

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	asha := addCustomer(t, engine, "Asha", "60")
	d := addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")

	require.NoError(t, engine.DeleteDelivery(ctx, d.ID))
	addDelivery(t, engine, asha.ID, "2024-03-01", "1.5", "60")

	assert.Len(t, engine.Deliveries(), 1)
}

func TestEngine_UpdateDelivery_IntoOccupiedSlot_Rejected(t *testing.T) {
	// GIVEN: Deliveries for Asha on March 1 and March 2
	// WHEN: The March 2 delivery is moved to March 1
	// THEN: The update is rejected and both records keep their dates

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	asha := addCustomer(t, engine, "Asha", "60")
	first := addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")
	second := addDelivery(t, engine, asha.ID, "2024-03-02", "1", "60")

	moved := second
	moved.Date = "2024-03-01"
	err := engine.UpdateDelivery(ctx, moved)
	require.Error(t, err)
	assert.True(t, ledger.IsConflict(err))

	onFirst, ok := engine.DeliveryOn(asha.ID, "2024-03-01")
	require.True(t, ok)
	assert.Equal(t, first.ID, onFirst.ID)
	onSecond, ok := engine.DeliveryOn(asha.ID, "2024-03-02")
	require.True(t, ok)
	assert.Equal(t, second.ID, onSecond.ID)
}

func TestEngine_UpdateDelivery_MovesSlotAndRecomputesTotal(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	asha := addCustomer(t, engine, "Asha", "60")
	d := addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")

	d.Date = "2024-03-05"
	d.Quantity = dec("1.5")
	d.TotalAmount = dec("999") // ignored
	require.NoError(t, engine.UpdateDelivery(ctx, d))

	_, ok := engine.DeliveryOn(asha.ID, "2024-03-01")
	assert.False(t, ok, "old slot is freed")

	updated, ok := engine.DeliveryOn(asha.ID, "2024-03-05")
	require.True(t, ok)
	assert.True(t, updated.TotalAmount.Equal(dec("90")), "got %s", updated.TotalAmount)

	// Old slot can be reused
	addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")
}

func TestEngine_UpdateUnknownID_NoOp(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	asha := addCustomer(t, engine, "Asha", "60")

	err := engine.UpdateDelivery(ctx, ledger.Delivery{
		ID:          "missing",
		CustomerID:  asha.ID,
		Date:        "2024-03-01",
		Quantity:    dec("1"),
		PriceAtTime: dec("60"),
	})
	require.NoError(t, err)
	assert.Empty(t, engine.Deliveries())

	require.NoError(t, engine.UpdateCustomer(ctx, ledger.Customer{ID: "missing", Name: "Nobody"}))
	assert.Len(t, engine.Customers(), 1)

	require.NoError(t, engine.DeleteDelivery(ctx, "missing"))
	require.NoError(t, engine.DeleteCustomer(ctx, "missing"))
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestEngine_AddCustomer_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.AddCustomer(ctx, ledger.CustomerInput{Name: "   ", DefaultPrice: dec("60")})
	assert.ErrorIs(t, err, ledger.ErrNameRequired)

	_, err = engine.AddCustomer(ctx, ledger.CustomerInput{Name: "Asha", DefaultPrice: dec("-1")})
	assert.ErrorIs(t, err, ledger.ErrInvalidPrice)

	assert.Empty(t, engine.Customers())
}

func TestEngine_AddCustomer_SetsIDAndCreatedAt(t *testing.T) {
	engine, _ := newTestEngine(t)

	c := addCustomer(t, engine, "  Asha ", "60")

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "Asha", c.Name)
	assert.Equal(t, testNow.UnixMilli(), c.CreatedAt)
	assert.True(t, testNow.Equal(c.Created()))
}

func TestEngine_UpdateCustomer_KeepsCreatedAt(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	c := addCustomer(t, engine, "Asha", "60")

	c.Phone = "98450 00000"
	c.DefaultPrice = dec("65")
	c.CreatedAt = 0
	require.NoError(t, engine.UpdateCustomer(ctx, c))

	got, ok := engine.Customer(c.ID)
	require.True(t, ok)
	assert.Equal(t, "98450 00000", got.Phone)
	assert.True(t, got.DefaultPrice.Equal(dec("65")))
	assert.Equal(t, testNow.UnixMilli(), got.CreatedAt)
}

func TestEngine_AddDelivery_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	asha := addCustomer(t, engine, "Asha", "60")

	tests := []struct {
		name  string
		input ledger.DeliveryInput
		want  error
	}{
		{
			name:  "missing customer",
			input: ledger.DeliveryInput{Date: "2024-03-01", Quantity: dec("1"), PriceAtTime: dec("60")},
			want:  ledger.ErrCustomerRequired,
		},
		{
			name:  "malformed date",
			input: ledger.DeliveryInput{CustomerID: asha.ID, Date: "01/03/2024", Quantity: dec("1"), PriceAtTime: dec("60")},
			want:  ledger.ErrInvalidDate,
		},
		{
			name:  "future date",
			input: ledger.DeliveryInput{CustomerID: asha.ID, Date: "2024-06-02", Quantity: dec("1"), PriceAtTime: dec("60")},
			want:  ledger.ErrFutureDate,
		},
		{
			name:  "zero quantity",
			input: ledger.DeliveryInput{CustomerID: asha.ID, Date: "2024-03-01", Quantity: dec("0"), PriceAtTime: dec("60")},
			want:  ledger.ErrInvalidQuantity,
		},
		{
			name:  "negative price",
			input: ledger.DeliveryInput{CustomerID: asha.ID, Date: "2024-03-01", Quantity: dec("1"), PriceAtTime: dec("-5")},
			want:  ledger.ErrInvalidPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.AddDelivery(ctx, tt.input)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, ledger.IsClientError(err))
		})
	}

	assert.Empty(t, engine.Deliveries())
}

func TestEngine_AddDelivery_TodayAllowed(t *testing.T) {
	engine, _ := newTestEngine(t)
	asha := addCustomer(t, engine, "Asha", "60")

	d := addDelivery(t, engine, asha.ID, engine.Today(), "0.5", "60")
	assert.Equal(t, ledger.Date("2024-06-01"), d.Date)
	assert.True(t, d.TotalAmount.Equal(dec("30")))
}

func TestEngine_AddDelivery_RoundsTotal(t *testing.T) {
	engine, _ := newTestEngine(t)
	asha := addCustomer(t, engine, "Asha", "60")

	d := addDelivery(t, engine, asha.ID, "2024-03-01", "0.333", "61.5")
	assert.Equal(t, "20.48", d.TotalAmount.StringFixed(2))
}

func TestEngine_CancelledContext(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.AddCustomer(ctx, ledger.CustomerInput{Name: "Asha"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, engine.Customers())
}

// =============================================================================
// RANGE QUERY TESTS
// =============================================================================

func TestEngine_DeliveriesForRange_InclusiveDescending(t *testing.T) {
	// GIVEN: One delivery on every day of January 2024
	// WHEN: Querying 2024-01-10 .. 2024-01-20
	// THEN: Exactly 11 deliveries, newest first

	engine, _ := newTestEngine(t)
	asha := addCustomer(t, engine, "Asha", "60")
	for _, day := range (ledger.Period{Start: "2024-01-01", End: "2024-01-31"}).Days() {
		addDelivery(t, engine, asha.ID, day, "1", "60")
	}

	got := engine.DeliveriesForRange(asha.ID, "2024-01-10", "2024-01-20")

	require.Len(t, got, 11)
	assert.Equal(t, ledger.Date("2024-01-20"), got[0].Date)
	assert.Equal(t, ledger.Date("2024-01-10"), got[10].Date)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Date.After(got[i].Date))
	}
}

func TestEngine_DeliveriesForRange_AllCustomers(t *testing.T) {
	engine, _ := newTestEngine(t)
	asha := addCustomer(t, engine, "Asha", "60")
	ravi := addCustomer(t, engine, "Ravi", "55")

	a := addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")
	r := addDelivery(t, engine, ravi.ID, "2024-03-01", "2", "55")
	addDelivery(t, engine, ravi.ID, "2024-02-28", "2", "55")

	got := engine.DeliveriesForRange(ledger.AllCustomers, "2024-03-01", "2024-03-31")
	require.Len(t, got, 2)
	// Same date keeps insertion order
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, r.ID, got[1].ID)

	assert.Len(t, engine.DeliveriesForRange(ravi.ID, "2024-02-01", "2024-03-31"), 2)
}

func TestEngine_DeliveriesForRange_FreshSlice(t *testing.T) {
	engine, _ := newTestEngine(t)
	asha := addCustomer(t, engine, "Asha", "60")
	addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")

	first := engine.DeliveriesForRange(asha.ID, "2024-03-01", "2024-03-01")
	first[0].Quantity = dec("100")

	second := engine.DeliveriesForRange(asha.ID, "2024-03-01", "2024-03-01")
	assert.True(t, second[0].Quantity.Equal(dec("1")))
}

func TestEngine_DeliveriesForRange_Empty(t *testing.T) {
	engine, _ := newTestEngine(t)
	assert.Empty(t, engine.DeliveriesForRange(ledger.AllCustomers, "2024-01-01", "2024-01-31"))
	assert.Empty(t, engine.DeliveriesForRange(ledger.AllCustomers, "2024-01-31", "2024-01-01"))
}

// =============================================================================
// PERSISTENCE TESTS
// =============================================================================

func TestEngine_WritesReachStore(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()

	asha := addCustomer(t, engine, "Asha", "60")
	d := addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")
	require.NoError(t, engine.Flush(ctx))

	customers, err := mem.LoadCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	deliveries, err := mem.LoadDeliveries(ctx)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, d.ID, deliveries[0].ID)
	assert.Equal(t, 0, engine.PendingWrites())
}

func TestEngine_PersistsAcrossRestart_SQLite(t *testing.T) {
	// GIVEN: A ledger on a SQLite file with one customer and one delivery
	// WHEN: The process restarts and loads the same file
	// THEN: Both records come back unchanged

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "milk.db")

	db, err := sqlite.New(path)
	require.NoError(t, err)
	engine := ledger.NewEngine(db, testOptions()...)
	require.NoError(t, engine.Load(ctx))

	asha := addCustomer(t, engine, "Asha", "60")
	d := addDelivery(t, engine, asha.ID, "2024-03-01", "1.25", "60")
	engine.Close()
	require.NoError(t, db.Close())

	db, err = sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	restarted := ledger.NewEngine(db, testOptions()...)
	t.Cleanup(restarted.Close)
	require.NoError(t, restarted.Load(ctx))

	customers := restarted.Customers()
	require.Len(t, customers, 1)
	assert.Equal(t, asha.ID, customers[0].ID)
	assert.Equal(t, asha.CreatedAt, customers[0].CreatedAt)
	assert.True(t, customers[0].DefaultPrice.Equal(dec("60")))

	got, ok := restarted.DeliveryOn(asha.ID, "2024-03-01")
	require.True(t, ok)
	assert.Equal(t, d.ID, got.ID)
	assert.True(t, got.TotalAmount.Equal(dec("75")))

	// Uniqueness holds after reload
	_, err = restarted.AddDelivery(ctx, ledger.DeliveryInput{
		CustomerID: asha.ID, Date: "2024-03-01", Quantity: dec("1"), PriceAtTime: dec("60"),
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateDelivery)
}

func TestEngine_StoreFailure_ReadsUnaffected(t *testing.T) {
	// GIVEN: A store that rejects every write
	// WHEN: Customers and deliveries are added
	// THEN: Reads see them, the failure is counted, nothing is stored

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	mem.SetWriteError(errors.New("disk full"))

	asha := addCustomer(t, engine, "Asha", "60")
	addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")

	assert.Len(t, engine.Customers(), 1)
	assert.Len(t, engine.DeliveriesForRange(asha.ID, "2024-03-01", "2024-03-01"), 1)

	require.NoError(t, engine.Flush(ctx))
	assert.Equal(t, 2, engine.FailedWrites())
	assert.Equal(t, 0, mem.Writes())
}

func TestEngine_StoreRecovers_LaterWritesLand(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()

	mem.SetWriteError(errors.New("locked"))
	addCustomer(t, engine, "Asha", "60")
	require.NoError(t, engine.Flush(ctx))

	mem.SetWriteError(nil)
	addCustomer(t, engine, "Ravi", "55")
	require.NoError(t, engine.Flush(ctx))

	stored, err := mem.LoadCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Ravi", stored[0].Name)
	assert.Equal(t, 1, engine.FailedWrites())
}

func TestEngine_Metrics_CountWritesByResult(t *testing.T) {
	// GIVEN: An engine whose store accepts one write and then fails
	// WHEN: A customer and then a delivery are added
	// THEN: The counter shows one ok write, three errored attempts and one failure

	registry := prometheus.NewRegistry()
	mem := store.NewTxMemory()
	engine := ledger.NewEngine(mem,
		ledger.WithClock(func() time.Time { return testNow }),
		ledger.WithRegisterer(registry),
		ledger.WithRetryBaseDelay(0),
		ledger.WithMaxAttempts(3),
	)
	t.Cleanup(engine.Close)
	ctx := context.Background()
	require.NoError(t, engine.Load(ctx))

	asha := addCustomer(t, engine, "Asha", "60")
	require.NoError(t, engine.Flush(ctx))
	mem.SetWriteError(errors.New("disk full"))
	addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")
	require.NoError(t, engine.Flush(ctx))

	expected := `
# HELP milk_ledger_store_pending_writes Store writes queued or in flight.
# TYPE milk_ledger_store_pending_writes gauge
milk_ledger_store_pending_writes 0
# HELP milk_ledger_store_writes_total Durable store writes grouped by operation and result.
# TYPE milk_ledger_store_writes_total counter
milk_ledger_store_writes_total{op="put_customer",result="ok"} 1
milk_ledger_store_writes_total{op="put_delivery",result="error"} 3
milk_ledger_store_writes_total{op="put_delivery",result="failed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"milk_ledger_store_writes_total", "milk_ledger_store_pending_writes"))
}

func TestEngine_Load_ReplacesMemory(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()
	require.NoError(t, mem.PutCustomer(ctx, ledger.Customer{ID: "c-1", Name: "Asha", DefaultPrice: dec("60")}))
	require.NoError(t, mem.PutDelivery(ctx, ledger.Delivery{
		ID: "d-1", CustomerID: "c-1", Date: "2024-03-01",
		Quantity: dec("1"), PriceAtTime: dec("60"), TotalAmount: dec("60"),
	}))

	engine := ledger.NewEngine(mem, testOptions()...)
	t.Cleanup(engine.Close)
	require.NoError(t, engine.Load(ctx))

	assert.Len(t, engine.Customers(), 1)
	_, ok := engine.DeliveryOn("c-1", "2024-03-01")
	assert.True(t, ok)
}

// =============================================================================
// SNAPSHOT / RESTORE TESTS
// =============================================================================

func TestEngine_Restore_ReplacesEverything(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()

	old := addCustomer(t, engine, "Old", "50")
	addDelivery(t, engine, old.ID, "2024-02-01", "1", "50")

	snap := ledger.Snapshot{
		Customers: []ledger.Customer{{ID: "c-1", Name: "Asha", DefaultPrice: dec("60"), CreatedAt: 1700000000000}},
		Deliveries: []ledger.Delivery{{
			ID: "d-1", CustomerID: "c-1", Date: "2024-03-01",
			Quantity: dec("2"), PriceAtTime: dec("60"), TotalAmount: dec("120"),
		}},
	}
	require.NoError(t, engine.Restore(ctx, snap))

	assert.Equal(t, snap, engine.Snapshot())
	_, ok := engine.Customer(old.ID)
	assert.False(t, ok)

	stored, err := mem.LoadDeliveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Deliveries, stored)
}

func restoreDuplicateDay(t *testing.T, engine *ledger.Engine) {
	t.Helper()
	snap := ledger.Snapshot{
		Customers: []ledger.Customer{{ID: "c-1", Name: "Asha", DefaultPrice: dec("60")}},
		Deliveries: []ledger.Delivery{
			{ID: "d-1", CustomerID: "c-1", Date: "2024-03-01", Quantity: dec("1"), PriceAtTime: dec("60"), TotalAmount: dec("60")},
			{ID: "d-2", CustomerID: "c-1", Date: "2024-03-01", Quantity: dec("2"), PriceAtTime: dec("60"), TotalAmount: dec("120")},
		},
	}
	require.NoError(t, engine.Restore(context.Background(), snap))
}

func TestEngine_RestoredDuplicateDay_DeleteKeepsSlotTaken(t *testing.T) {
	// GIVEN: A restored ledger with two deliveries for Asha on 2024-03-01
	// WHEN: The first one is deleted and a new delivery is added for that day
	// THEN: The second one still fills the day and the add is rejected

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	restoreDuplicateDay(t, engine)

	require.NoError(t, engine.DeleteDelivery(ctx, "d-1"))

	got, ok := engine.DeliveryOn("c-1", "2024-03-01")
	require.True(t, ok)
	assert.Equal(t, ledger.DeliveryID("d-2"), got.ID)
	assert.True(t, engine.DaySummary("2024-03-01").Customers[0].Delivered)

	_, err := engine.AddDelivery(ctx, ledger.DeliveryInput{
		CustomerID: "c-1", Date: "2024-03-01", Quantity: dec("3"), PriceAtTime: dec("60"),
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateDelivery)
	assert.Len(t, engine.DeliveriesForRange("c-1", "2024-03-01", "2024-03-01"), 1)
}

func TestEngine_RestoredDuplicateDay_MoveKeepsSlotTaken(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	restoreDuplicateDay(t, engine)

	moved := ledger.Delivery{ID: "d-1", CustomerID: "c-1", Date: "2024-03-02", Quantity: dec("1"), PriceAtTime: dec("60")}
	require.NoError(t, engine.UpdateDelivery(ctx, moved))

	got, ok := engine.DeliveryOn("c-1", "2024-03-01")
	require.True(t, ok)
	assert.Equal(t, ledger.DeliveryID("d-2"), got.ID)

	_, err := engine.AddDelivery(ctx, ledger.DeliveryInput{
		CustomerID: "c-1", Date: "2024-03-01", Quantity: dec("3"), PriceAtTime: dec("60"),
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateDelivery)
}

func TestEngine_RestoredDuplicateDay_UpdateInPlaceAllowed(t *testing.T) {
	// GIVEN: A restored ledger with two deliveries for Asha on 2024-03-01
	// WHEN: The second one is updated without changing customer or date
	// THEN: The update succeeds and its total is recomputed

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	restoreDuplicateDay(t, engine)

	d := ledger.Delivery{ID: "d-2", CustomerID: "c-1", Date: "2024-03-01", Quantity: dec("2.5"), PriceAtTime: dec("60")}
	require.NoError(t, engine.UpdateDelivery(ctx, d))

	for _, got := range engine.Deliveries() {
		if got.ID == "d-2" {
			assert.True(t, got.TotalAmount.Equal(dec("150")))
		}
	}
	got, ok := engine.DeliveryOn("c-1", "2024-03-01")
	require.True(t, ok)
	assert.Equal(t, ledger.DeliveryID("d-1"), got.ID)
}

func TestEngine_Restore_StoreFailure_KeepsState(t *testing.T) {
	// GIVEN: A populated ledger over a store that starts failing
	// WHEN: A restore is attempted
	// THEN: It fails and the in-memory ledger is unchanged

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	asha := addCustomer(t, engine, "Asha", "60")
	addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")
	require.NoError(t, engine.Flush(ctx))
	before := engine.Snapshot()

	mem.SetWriteError(errors.New("read-only filesystem"))
	err := engine.Restore(ctx, ledger.Snapshot{})
	require.Error(t, err)

	assert.Equal(t, before, engine.Snapshot())
}

func TestEngine_SnapshotRoundTrip_SQLite(t *testing.T) {
	ctx := context.Background()

	src, _ := newTestEngine(t)
	for i := 1; i <= 3; i++ {
		c := addCustomer(t, src, fmt.Sprintf("Customer %d", i), "60")
		addDelivery(t, src, c.ID, ledger.NewDate(2024, time.March, i), "1.5", "60")
	}
	snap := src.Snapshot()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	dst := ledger.NewEngine(db, testOptions()...)
	t.Cleanup(dst.Close)
	require.NoError(t, dst.Load(ctx))

	require.NoError(t, dst.Restore(ctx, snap))

	got := dst.Snapshot()
	require.Len(t, got.Customers, 3)
	require.Len(t, got.Deliveries, 3)
	for i := range snap.Customers {
		assert.Equal(t, snap.Customers[i].ID, got.Customers[i].ID)
		assert.Equal(t, snap.Customers[i].Name, got.Customers[i].Name)
	}
	for i := range snap.Deliveries {
		assert.Equal(t, snap.Deliveries[i].ID, got.Deliveries[i].ID)
		assert.True(t, snap.Deliveries[i].TotalAmount.Equal(got.Deliveries[i].TotalAmount))
	}
}

// =============================================================================
// SUMMARY TESTS
// =============================================================================

func TestEngine_DaySummary(t *testing.T) {
	engine, _ := newTestEngine(t)
	asha := addCustomer(t, engine, "Asha", "60")
	ravi := addCustomer(t, engine, "Ravi", "55")
	addCustomer(t, engine, "Meena", "58")

	addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")
	addDelivery(t, engine, ravi.ID, "2024-03-01", "2", "55")
	addDelivery(t, engine, ravi.ID, "2024-03-02", "2", "55")

	summary := engine.DaySummary("2024-03-01")

	assert.Equal(t, 2, summary.Totals.Deliveries)
	assert.True(t, summary.Totals.Litres.Equal(dec("3")))
	assert.True(t, summary.Totals.Amount.Equal(dec("170")))
	assert.Equal(t, 1, summary.Remaining)
	require.Len(t, summary.Customers, 3)
	assert.True(t, summary.Customers[0].Delivered)
	assert.True(t, summary.Customers[1].Delivered)
	assert.False(t, summary.Customers[2].Delivered)
}

func TestEngine_RangeSummary(t *testing.T) {
	engine, _ := newTestEngine(t)
	asha := addCustomer(t, engine, "Asha", "60")

	addDelivery(t, engine, asha.ID, "2024-03-01", "1", "60")
	addDelivery(t, engine, asha.ID, "2024-03-02", "1.5", "62")
	addDelivery(t, engine, asha.ID, "2024-04-01", "1", "60")

	totals := engine.RangeSummary(asha.ID, "2024-03-01", "2024-03-31")

	assert.Equal(t, 2, totals.Deliveries)
	assert.True(t, totals.Litres.Equal(dec("2.5")))
	assert.True(t, totals.Amount.Equal(dec("153")))
}
