/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

NUMBERS:
  Requests take decimal.Decimal, which accepts both 1.5 and "1.5".
  Responses carry float64 so browsers get plain numbers; amounts are
  already rounded to two places by the ledger.

TYPES:
  Customer:  CustomerDTO, CustomerRequest
  Delivery:  DeliveryDTO, CreateDeliveryRequest, UpdateDeliveryRequest
  Summary:   TotalsDTO, DaySummaryDTO, CustomerDayDTO, RangeSummaryDTO
  Scenarios: ScenarioDTO, LoadScenarioRequest
  Status:    StatusDTO

VALIDATION:
  Validation is done by the ledger engine, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/milk-ledger/ledger"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Phone        string  `json:"phone"`
	Address      string  `json:"address"`
	DefaultPrice float64 `json:"default_price"`
	CreatedAt    string  `json:"created_at"`
}

// CustomerRequest is the body of create and update customer calls.
type CustomerRequest struct {
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	Address      string          `json:"address"`
	DefaultPrice decimal.Decimal `json:"default_price"`
}

func toCustomerDTO(c ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:           string(c.ID),
		Name:         c.Name,
		Phone:        c.Phone,
		Address:      c.Address,
		DefaultPrice: c.DefaultPrice.InexactFloat64(),
		CreatedAt:    c.Created().Format(time.RFC3339),
	}
}

func toCustomerDTOs(customers []ledger.Customer) []CustomerDTO {
	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	return dtos
}

// =============================================================================
// DELIVERIES
// =============================================================================

// DeliveryDTO represents a delivery in API responses.
type DeliveryDTO struct {
	ID           string  `json:"id"`
	CustomerID   string  `json:"customer_id"`
	CustomerName string  `json:"customer_name,omitempty"`
	Date         string  `json:"date"`
	Quantity     float64 `json:"quantity"`
	PriceAtTime  float64 `json:"price_at_time"`
	TotalAmount  float64 `json:"total_amount"`
}

// CreateDeliveryRequest records a delivery. Date defaults to today and
// PriceAtTime to the customer's default price.
type CreateDeliveryRequest struct {
	CustomerID  string           `json:"customer_id"`
	Date        string           `json:"date"`
	Quantity    decimal.Decimal  `json:"quantity"`
	PriceAtTime *decimal.Decimal `json:"price_at_time"`
}

// UpdateDeliveryRequest replaces a delivery's fields.
type UpdateDeliveryRequest struct {
	CustomerID  string          `json:"customer_id"`
	Date        string          `json:"date"`
	Quantity    decimal.Decimal `json:"quantity"`
	PriceAtTime decimal.Decimal `json:"price_at_time"`
}

func toDeliveryDTO(d ledger.Delivery, names map[ledger.CustomerID]string) DeliveryDTO {
	return DeliveryDTO{
		ID:           string(d.ID),
		CustomerID:   string(d.CustomerID),
		CustomerName: names[d.CustomerID],
		Date:         string(d.Date),
		Quantity:     d.Quantity.InexactFloat64(),
		PriceAtTime:  d.PriceAtTime.InexactFloat64(),
		TotalAmount:  d.TotalAmount.InexactFloat64(),
	}
}

func toDeliveryDTOs(deliveries []ledger.Delivery, names map[ledger.CustomerID]string) []DeliveryDTO {
	dtos := make([]DeliveryDTO, len(deliveries))
	for i, d := range deliveries {
		dtos[i] = toDeliveryDTO(d, names)
	}
	return dtos
}

// =============================================================================
// SUMMARIES
// =============================================================================

// TotalsDTO is litres, amount and delivery count over a set of deliveries.
type TotalsDTO struct {
	Litres     float64 `json:"litres"`
	Amount     float64 `json:"amount"`
	Deliveries int     `json:"deliveries"`
}

func toTotalsDTO(t ledger.Totals) TotalsDTO {
	return TotalsDTO{
		Litres:     t.Litres.InexactFloat64(),
		Amount:     t.Amount.InexactFloat64(),
		Deliveries: t.Deliveries,
	}
}

// CustomerDayDTO is one customer's status on a summary date.
type CustomerDayDTO struct {
	Customer  CustomerDTO  `json:"customer"`
	Delivered bool         `json:"delivered"`
	Delivery  *DeliveryDTO `json:"delivery,omitempty"`
}

// DaySummaryDTO is the round at a glance for one date.
type DaySummaryDTO struct {
	Date      string           `json:"date"`
	Totals    TotalsDTO        `json:"totals"`
	Remaining int              `json:"remaining"`
	Customers []CustomerDayDTO `json:"customers"`
}

// RangeSummaryDTO totals a customer's (or everyone's) deliveries in a range.
type RangeSummaryDTO struct {
	CustomerID string    `json:"customer_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Totals     TotalsDTO `json:"totals"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a demo data set to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// STATUS / ERRORS
// =============================================================================

// StatusDTO reports ledger size and the durable writer's state.
type StatusDTO struct {
	Customers     int    `json:"customers"`
	Deliveries    int    `json:"deliveries"`
	PendingWrites int    `json:"pending_writes"`
	FailedWrites  int    `json:"failed_writes"`
	Today         string `json:"today"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
