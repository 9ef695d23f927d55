/*
Package backup encodes and decodes ledger snapshots as portable JSON files.

PURPOSE:
  A backup file is the whole ledger in one JSON document. It can be saved
  anywhere and restored later with Engine.Restore, replacing everything.

FORMAT:
  {
    "customers": [
      {"id": "...", "name": "Asha", "phone": "", "address": "",
       "defaultPrice": 60, "createdAt": 1709251200000}
    ],
    "deliveries": [
      {"id": "...", "customerId": "...", "date": "2024-03-01",
       "quantity": 1, "priceAtTime": 60, "totalAmount": 60}
    ]
  }

  Quantities and money are plain JSON numbers. Files are indented with two
  spaces.

VALIDATION:
  The envelope is checked, the records are trusted. Decode fails with
  ErrMalformed if the text is not JSON, is not an object, or lacks either
  array. A record field of the wrong JSON type is left zero, logged, and
  the record kept.

USAGE:
  snap := engine.Snapshot()
  if err := backup.Encode(w, snap); err != nil { ... }

  snap, err := backup.Decode(r)
  if err != nil { ... }           // nothing was changed
  err = engine.Restore(ctx, snap)

SEE ALSO:
  - ledger/engine.go: Snapshot and Restore
*/
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/warp/milk-ledger/ledger"
)

// DefaultAppName prefixes backup file names.
const DefaultAppName = "MooMoo"

// ErrMalformed is returned when a backup file does not have the expected
// envelope. Decode wraps it with the reason.
var ErrMalformed = errors.New("invalid backup file")

// FileName returns the download name of a backup taken on date, e.g.
// "MooMoo_Backup_2024-03-01.json".
func FileName(appName string, date ledger.Date) string {
	if appName == "" {
		appName = DefaultAppName
	}
	return fmt.Sprintf("%s_Backup_%s.json", appName, date)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type customerRecord struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Phone        string      `json:"phone"`
	Address      string      `json:"address"`
	DefaultPrice json.Number `json:"defaultPrice"`
	CreatedAt    json.Number `json:"createdAt"`
}

type deliveryRecord struct {
	ID          string      `json:"id"`
	CustomerID  string      `json:"customerId"`
	Date        string      `json:"date"`
	Quantity    json.Number `json:"quantity"`
	PriceAtTime json.Number `json:"priceAtTime"`
	TotalAmount json.Number `json:"totalAmount"`
}

type document struct {
	Customers  []customerRecord `json:"customers"`
	Deliveries []deliveryRecord `json:"deliveries"`
}

// =============================================================================
// CODEC
// =============================================================================

// Codec encodes and decodes backups. The zero value is ready to use.
type Codec struct {
	Logger *log.Entry
}

func (c Codec) logger() *log.Entry {
	if c.Logger == nil {
		return log.WithField("component", "backup")
	}
	return c.Logger
}

// Marshal renders snap as an indented backup document.
func (c Codec) Marshal(snap ledger.Snapshot) ([]byte, error) {
	doc := document{
		Customers:  make([]customerRecord, 0, len(snap.Customers)),
		Deliveries: make([]deliveryRecord, 0, len(snap.Deliveries)),
	}
	for _, cust := range snap.Customers {
		doc.Customers = append(doc.Customers, customerRecord{
			ID:           string(cust.ID),
			Name:         cust.Name,
			Phone:        cust.Phone,
			Address:      cust.Address,
			DefaultPrice: number(cust.DefaultPrice),
			CreatedAt:    json.Number(fmt.Sprint(cust.CreatedAt)),
		})
	}
	for _, d := range snap.Deliveries {
		doc.Deliveries = append(doc.Deliveries, deliveryRecord{
			ID:          string(d.ID),
			CustomerID:  string(d.CustomerID),
			Date:        string(d.Date),
			Quantity:    number(d.Quantity),
			PriceAtTime: number(d.PriceAtTime),
			TotalAmount: number(d.TotalAmount),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal backup: %w", err)
	}
	return data, nil
}

// Encode writes snap to w.
func (c Codec) Encode(w io.Writer, snap ledger.Snapshot) error {
	data, err := c.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Unmarshal parses a backup document. Only the envelope is validated.
func (c Codec) Unmarshal(data []byte) (ledger.Snapshot, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope == nil {
		return ledger.Snapshot{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	customers, err := elements(envelope, "customers")
	if err != nil {
		return ledger.Snapshot{}, err
	}
	deliveries, err := elements(envelope, "deliveries")
	if err != nil {
		return ledger.Snapshot{}, err
	}

	snap := ledger.Snapshot{
		Customers:  make([]ledger.Customer, 0, len(customers)),
		Deliveries: make([]ledger.Delivery, 0, len(deliveries)),
	}
	for i, raw := range customers {
		var rec customerRecord
		c.lenient(json.Unmarshal(raw, &rec), "customers", i)
		snap.Customers = append(snap.Customers, ledger.Customer{
			ID:           ledger.CustomerID(rec.ID),
			Name:         rec.Name,
			Phone:        rec.Phone,
			Address:      rec.Address,
			DefaultPrice: c.parseNumber(rec.DefaultPrice, "customers", i, "defaultPrice"),
			CreatedAt:    c.millis(rec.CreatedAt, i),
		})
	}
	for i, raw := range deliveries {
		var rec deliveryRecord
		c.lenient(json.Unmarshal(raw, &rec), "deliveries", i)
		snap.Deliveries = append(snap.Deliveries, ledger.Delivery{
			ID:          ledger.DeliveryID(rec.ID),
			CustomerID:  ledger.CustomerID(rec.CustomerID),
			Date:        ledger.Date(rec.Date),
			Quantity:    c.parseNumber(rec.Quantity, "deliveries", i, "quantity"),
			PriceAtTime: c.parseNumber(rec.PriceAtTime, "deliveries", i, "priceAtTime"),
			TotalAmount: c.parseNumber(rec.TotalAmount, "deliveries", i, "totalAmount"),
		})
	}
	return snap, nil
}

// Decode reads a backup document from r.
func (c Codec) Decode(r io.Reader) (ledger.Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("read backup: %w", err)
	}
	return c.Unmarshal(bytes.TrimSpace(data))
}

// =============================================================================
// PACKAGE-LEVEL HELPERS
// =============================================================================

// Marshal renders snap with the default codec.
func Marshal(snap ledger.Snapshot) ([]byte, error) { return Codec{}.Marshal(snap) }

// Encode writes snap to w with the default codec.
func Encode(w io.Writer, snap ledger.Snapshot) error { return Codec{}.Encode(w, snap) }

// Unmarshal parses data with the default codec.
func Unmarshal(data []byte) (ledger.Snapshot, error) { return Codec{}.Unmarshal(data) }

// Decode reads r with the default codec.
func Decode(r io.Reader) (ledger.Snapshot, error) { return Codec{}.Decode(r) }

// Helper functions

func elements(envelope map[string]json.RawMessage, key string) ([]json.RawMessage, error) {
	raw, ok := envelope[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformed, key)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, fmt.Errorf("%w: %q is not an array", ErrMalformed, key)
	}
	return items, nil
}

// lenient logs a record whose fields did not all decode. The record is kept
// with whatever was decoded.
func (c Codec) lenient(err error, collection string, index int) {
	if err == nil {
		return
	}
	c.logger().WithError(err).WithFields(log.Fields{
		"collection": collection,
		"index":      index,
	}).Warn("backup record field has unexpected type, using zero value")
}

func (c Codec) parseNumber(n json.Number, collection string, index int, field string) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		c.logger().WithFields(log.Fields{
			"collection": collection,
			"index":      index,
			"field":      field,
			"value":      string(n),
		}).Warn("backup record field is not a number, using zero")
		return decimal.Zero
	}
	return d
}

func (c Codec) millis(n json.Number, index int) int64 {
	if n == "" {
		return 0
	}
	if v, err := n.Int64(); err == nil {
		return v
	}
	if f, err := n.Float64(); err == nil {
		return int64(f)
	}
	c.logger().WithFields(log.Fields{
		"collection": "customers",
		"index":      index,
		"field":      "createdAt",
		"value":      string(n),
	}).Warn("backup record field is not a number, using zero")
	return 0
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
