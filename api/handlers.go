/*
handlers.go - HTTP API handlers for the milk delivery ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine, the report builder and
  the backup codec.

ENDPOINTS:
  Customers:
    GET    /api/customers                 List customers
    POST   /api/customers                 Create customer
    GET    /api/customers/{id}            Get customer
    PUT    /api/customers/{id}            Update customer
    DELETE /api/customers/{id}            Delete customer and its deliveries

  Deliveries:
    GET    /api/deliveries?customer=&from=&to=   Range query (newest first)
    POST   /api/deliveries                Record a delivery
    PUT    /api/deliveries/{id}           Update a delivery
    DELETE /api/deliveries/{id}           Delete a delivery

  Summaries:
    GET    /api/summary/day?date=         Totals and per-customer status
    GET    /api/summary/range?customer=&from=&to=

  Export / import:
    GET    /api/reports/register?customer=&from=&to=   CSV register
    GET    /api/backup                    Download backup JSON
    POST   /api/backup                    Restore from backup JSON

RANGES:
  customer defaults to "all"; from/to default to the current calendar
  month by the engine clock.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, malformed backup
  - 404: Unknown customer or delivery, nothing to export
  - 409: A delivery already exists for that customer and date
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The server is meant to run on the owner's machine.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data sets
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/warp/milk-ledger/backup"
	"github.com/warp/milk-ledger/ledger"
	"github.com/warp/milk-ledger/report"
)

// maxBackupBytes bounds the size of an uploaded backup.
const maxBackupBytes = 32 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Logger *log.Entry

	// AppName prefixes backup downloads, ReportName register downloads.
	AppName    string
	ReportName string

	// Gatherer backs /metrics. Defaults to the Prometheus default registry.
	Gatherer prometheus.Gatherer

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over engine.
func NewHandler(engine *ledger.Engine, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "api")
	}
	return &Handler{
		Engine:     engine,
		Logger:     logger,
		AppName:    backup.DefaultAppName,
		ReportName: report.DefaultName,
	}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns all customers in the order they were added.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toCustomerDTOs(h.Engine.Customers()))
}

// GetCustomer returns a single customer.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	c, ok := h.Engine.Customer(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// CreateCustomer adds a customer to the round.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c, err := h.Engine.AddCustomer(r.Context(), ledger.CustomerInput{
		Name:         req.Name,
		Phone:        req.Phone,
		Address:      req.Address,
		DefaultPrice: req.DefaultPrice,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to create customer", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// UpdateCustomer replaces a customer's details.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	var req CustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	existing, ok := h.Engine.Customer(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}

	existing.Name = req.Name
	existing.Phone = req.Phone
	existing.Address = req.Address
	existing.DefaultPrice = req.DefaultPrice
	if err := h.Engine.UpdateCustomer(r.Context(), existing); err != nil {
		h.writeLedgerError(w, "Failed to update customer", err)
		return
	}

	updated, _ := h.Engine.Customer(id)
	writeJSON(w, http.StatusOK, toCustomerDTO(updated))
}

// DeleteCustomer removes a customer and every delivery recorded for them.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	if _, ok := h.Engine.Customer(id); !ok {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}
	if err := h.Engine.DeleteCustomer(r.Context(), id); err != nil {
		h.writeLedgerError(w, "Failed to delete customer", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// DELIVERY HANDLERS
// =============================================================================

// ListDeliveries returns the deliveries in a range, most recent first.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := h.rangeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return
	}

	deliveries := h.Engine.DeliveriesForRange(customerID, period.Start, period.End)
	writeJSON(w, http.StatusOK, toDeliveryDTOs(deliveries, h.customerNames()))
}

// CreateDelivery records a delivery. One per customer per day.
func (h *Handler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	var req CreateDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	customer, ok := h.Engine.Customer(ledger.CustomerID(req.CustomerID))
	if !ok {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}

	date := ledger.Date(req.Date)
	if date == "" {
		date = h.Engine.Today()
	}
	price := customer.DefaultPrice
	if req.PriceAtTime != nil {
		price = *req.PriceAtTime
	}

	d, err := h.Engine.AddDelivery(r.Context(), ledger.DeliveryInput{
		CustomerID:  customer.ID,
		Date:        date,
		Quantity:    req.Quantity,
		PriceAtTime: price,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to record delivery", err)
		return
	}

	writeJSON(w, http.StatusCreated, toDeliveryDTO(d, map[ledger.CustomerID]string{customer.ID: customer.Name}))
}

// UpdateDelivery replaces a delivery. Its total is recomputed.
func (h *Handler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	id := ledger.DeliveryID(chi.URLParam(r, "id"))

	var req UpdateDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if !h.deliveryExists(id) {
		writeError(w, http.StatusNotFound, "Delivery not found", nil)
		return
	}
	if _, ok := h.Engine.Customer(ledger.CustomerID(req.CustomerID)); !ok {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}

	d := ledger.Delivery{
		ID:          id,
		CustomerID:  ledger.CustomerID(req.CustomerID),
		Date:        ledger.Date(req.Date),
		Quantity:    req.Quantity,
		PriceAtTime: req.PriceAtTime,
	}
	if err := h.Engine.UpdateDelivery(r.Context(), d); err != nil {
		h.writeLedgerError(w, "Failed to update delivery", err)
		return
	}

	updated, _ := h.Engine.DeliveryOn(d.CustomerID, d.Date)
	writeJSON(w, http.StatusOK, toDeliveryDTO(updated, h.customerNames()))
}

// DeleteDelivery removes a delivery.
func (h *Handler) DeleteDelivery(w http.ResponseWriter, r *http.Request) {
	id := ledger.DeliveryID(chi.URLParam(r, "id"))

	if !h.deliveryExists(id) {
		writeError(w, http.StatusNotFound, "Delivery not found", nil)
		return
	}
	if err := h.Engine.DeleteDelivery(r.Context(), id); err != nil {
		h.writeLedgerError(w, "Failed to delete delivery", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// SUMMARY HANDLERS
// =============================================================================

// GetDaySummary returns totals for a date and which customers are done.
func (h *Handler) GetDaySummary(w http.ResponseWriter, r *http.Request) {
	date := h.Engine.Today()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := ledger.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
			return
		}
		date = parsed
	}

	summary := h.Engine.DaySummary(date)
	dto := DaySummaryDTO{
		Date:      string(summary.Date),
		Totals:    toTotalsDTO(summary.Totals),
		Remaining: summary.Remaining,
		Customers: make([]CustomerDayDTO, len(summary.Customers)),
	}
	for i, status := range summary.Customers {
		item := CustomerDayDTO{
			Customer:  toCustomerDTO(status.Customer),
			Delivered: status.Delivered,
		}
		if status.Delivered {
			d := toDeliveryDTO(status.Delivery, nil)
			item.Delivery = &d
		}
		dto.Customers[i] = item
	}

	writeJSON(w, http.StatusOK, dto)
}

// GetRangeSummary totals litres and amount over a range.
func (h *Handler) GetRangeSummary(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := h.rangeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return
	}

	totals := h.Engine.RangeSummary(customerID, period.Start, period.End)
	writeJSON(w, http.StatusOK, RangeSummaryDTO{
		CustomerID: string(customerID),
		From:       string(period.Start),
		To:         string(period.End),
		Totals:     toTotalsDTO(totals),
	})
}

// =============================================================================
// EXPORT / IMPORT HANDLERS
// =============================================================================

// ExportRegister streams the customer by day register as CSV.
func (h *Handler) ExportRegister(w http.ResponseWriter, r *http.Request) {
	customerID, period, err := h.rangeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return
	}

	reg, err := report.ForRange(h.Engine, customerID, period)
	switch {
	case errors.Is(err, report.ErrNothingToExport):
		writeError(w, http.StatusNotFound, "No data to export for the selected range", nil)
		return
	case errors.Is(err, report.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return
	case err != nil:
		h.writeLedgerError(w, "Failed to build register", err)
		return
	}

	var buf bytes.Buffer
	if err := reg.WriteCSV(&buf); err != nil {
		h.writeLedgerError(w, "Failed to write register", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", attachment(report.FileName(h.ReportName, period)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ExportBackup downloads the whole ledger as a backup file.
func (h *Handler) ExportBackup(w http.ResponseWriter, r *http.Request) {
	data, err := backup.Marshal(h.Engine.Snapshot())
	if err != nil {
		h.writeLedgerError(w, "Failed to create backup", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", attachment(backup.FileName(h.AppName, h.Engine.Today())))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportBackup replaces the whole ledger with an uploaded backup file.
func (h *Handler) ImportBackup(w http.ResponseWriter, r *http.Request) {
	codec := backup.Codec{Logger: h.Logger.WithField("component", "backup")}

	snap, err := codec.Decode(http.MaxBytesReader(w, r.Body, maxBackupBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid backup file", err)
		return
	}

	if err := h.Engine.Restore(r.Context(), snap); err != nil {
		h.writeLedgerError(w, "Failed to restore backup", err)
		return
	}
	h.setScenario("")

	h.Logger.WithFields(log.Fields{
		"customers":  len(snap.Customers),
		"deliveries": len(snap.Deliveries),
	}).Info("backup imported")
	writeJSON(w, http.StatusOK, h.status())
}

// GetStatus reports ledger size and pending store writes.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) status() StatusDTO {
	snap := h.Engine.Snapshot()
	return StatusDTO{
		Customers:     len(snap.Customers),
		Deliveries:    len(snap.Deliveries),
		PendingWrites: h.Engine.PendingWrites(),
		FailedWrites:  h.Engine.FailedWrites(),
		Today:         string(h.Engine.Today()),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// rangeQuery reads customer, from and to. Missing bounds default to the
// current month.
func (h *Handler) rangeQuery(r *http.Request) (ledger.CustomerID, ledger.Period, error) {
	q := r.URL.Query()

	customerID := ledger.CustomerID(q.Get("customer"))
	if customerID == "" {
		customerID = ledger.AllCustomers
	}

	period := ledger.MonthOf(h.Engine.Today())
	if from := q.Get("from"); from != "" {
		period.Start = ledger.Date(from)
	}
	if to := q.Get("to"); to != "" {
		period.End = ledger.Date(to)
	}
	if err := period.Validate(); err != nil {
		return "", ledger.Period{}, err
	}
	return customerID, period, nil
}

func (h *Handler) customerNames() map[ledger.CustomerID]string {
	customers := h.Engine.Customers()
	names := make(map[ledger.CustomerID]string, len(customers))
	for _, c := range customers {
		names[c.ID] = c.Name
	}
	return names
}

func (h *Handler) deliveryExists(id ledger.DeliveryID) bool {
	for _, d := range h.Engine.Deliveries() {
		if d.ID == id {
			return true
		}
	}
	return false
}

// writeLedgerError maps engine errors to HTTP status codes.
func (h *Handler) writeLedgerError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, "Entry already exists for this date", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.WithError(err).Error(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}
