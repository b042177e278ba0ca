// Package providers contains ProviderAdapter implementations. Adapters are
// pure translators: they parse one raw provider record into a canonical order
// and never perform I/O.
package providers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/einvoice/connector/internal/domain/canonical"
	"github.com/einvoice/connector/internal/domain/connector"
	infraconn "github.com/einvoice/connector/internal/infrastructure/connector"
)

// GenericProviderID is the provider ID handled by the generic adapter
const GenericProviderID = "generic"

// genericParty is the wire form of a party in the generic order format
type genericParty struct {
	Name    string `json:"name"`
	TaxID   string `json:"tax_id"`
	Address string `json:"address"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

// genericLine is the wire form of a line item in the generic order format
type genericLine struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
	TaxRate     string `json:"tax_rate"`
	TaxAmount   string `json:"tax_amount"`
}

// genericOrder is the wire form of the generic JSON order format. Monetary
// fields are decimal strings; numbers would lose precision in float64.
type genericOrder struct {
	ID            string        `json:"id"`
	Number        string        `json:"number"`
	IssuedAt      string        `json:"issued_at"`
	Currency      string        `json:"currency"`
	Supplier      genericParty  `json:"supplier"`
	Customer      genericParty  `json:"customer"`
	Lines         []genericLine `json:"lines"`
	Shipping      string        `json:"shipping"`
	Discount      string        `json:"discount"`
	PaymentMethod string        `json:"payment_method"`
}

// genericEnvelope is the webhook envelope wrapping a generic order
type genericEnvelope struct {
	EventID string `json:"event_id"`
}

// GenericAdapter implements ProviderAdapter for the generic JSON order format.
// It serves as the reference implementation for provider-specific adapters.
type GenericAdapter struct {
	pagination connector.PaginationStrategy
}

// NewGenericAdapter creates a generic adapter using cursor pagination
func NewGenericAdapter() *GenericAdapter {
	return &GenericAdapter{pagination: connector.PaginationCursor}
}

// NewGenericAdapterWithPagination creates a generic adapter with the given
// pagination strategy
func NewGenericAdapterWithPagination(strategy connector.PaginationStrategy) (*GenericAdapter, error) {
	if !strategy.IsValid() {
		return nil, connector.ErrNotConfigured
	}
	return &GenericAdapter{pagination: strategy}, nil
}

// ProviderID returns the provider ID this adapter handles
func (a *GenericAdapter) ProviderID() string {
	return GenericProviderID
}

// Pagination returns the pagination strategy of the provider's list endpoints
func (a *GenericAdapter) Pagination() connector.PaginationStrategy {
	return a.pagination
}

// ListEndpoint describes the order list endpoint for pull runs
func (a *GenericAdapter) ListEndpoint() infraconn.ListEndpoint {
	return infraconn.ListEndpoint{
		Path:         "/orders",
		RecordsField: "orders",
		CursorField:  "next_cursor",
	}
}

// ToCanonicalOrder converts a raw generic record into a canonical order.
// Missing or malformed fields yield ValidationErrors, never silent defaults.
func (a *GenericAdapter) ToCanonicalOrder(record connector.RawRecord) (*canonical.Order, error) {
	var raw genericOrder
	if err := json.Unmarshal(record, &raw); err != nil {
		return nil, canonical.NewValidationError("payload", "not a valid JSON order")
	}

	if raw.ID == "" {
		return nil, canonical.NewValidationError("id", "is required")
	}
	if raw.Currency == "" {
		return nil, canonical.NewValidationError("currency", "is required")
	}
	if len(raw.Lines) == 0 {
		return nil, canonical.NewValidationError("lines", "must contain at least one line")
	}

	issueDate, err := parseIssueDate(raw.IssuedAt)
	if err != nil {
		return nil, err
	}

	currency := canonical.Currency(raw.Currency)
	lines := make([]canonical.LineItem, 0, len(raw.Lines))
	for i, rawLine := range raw.Lines {
		line, err := a.toCanonicalLine(rawLine, currency)
		if err != nil {
			return nil, canonical.NewValidationError("lines["+strconv.Itoa(i)+"]", err.Error())
		}
		lines = append(lines, *line)
	}

	shipping, err := parseAmount(raw.Shipping, "shipping", currency)
	if err != nil {
		return nil, err
	}
	discount, err := parseAmount(raw.Discount, "discount", currency)
	if err != nil {
		return nil, err
	}

	return &canonical.Order{
		ExternalID:    raw.ID,
		Number:        raw.Number,
		IssueDate:     issueDate,
		Currency:      currency,
		Supplier:      toCanonicalParty(raw.Supplier),
		Customer:      toCanonicalParty(raw.Customer),
		Lines:         lines,
		Shipping:      shipping,
		Discount:      discount,
		PaymentMethod: raw.PaymentMethod,
		RawPayload:    append([]byte(nil), record...),
	}, nil
}

// EventKey extracts the event_id from a webhook envelope. Returns an empty
// string when the payload carries no event ID.
func (a *GenericAdapter) EventKey(payload []byte) string {
	var envelope genericEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	return envelope.EventID
}

// toCanonicalLine converts one wire line item, validating every field
func (a *GenericAdapter) toCanonicalLine(raw genericLine, currency canonical.Currency) (*canonical.LineItem, error) {
	if raw.Description == "" {
		return nil, canonical.NewValidationError("description", "is required")
	}
	quantity, err := decimal.NewFromString(raw.Quantity)
	if err != nil {
		return nil, canonical.NewValidationError("quantity", "is not a valid decimal")
	}

	if raw.UnitPrice == "" {
		return nil, canonical.NewValidationError("unit_price", "is required")
	}
	if raw.LineTotal == "" {
		return nil, canonical.NewValidationError("line_total", "is required")
	}
	unitPrice, err := parseAmount(raw.UnitPrice, "unit_price", currency)
	if err != nil {
		return nil, err
	}
	lineTotal, err := parseAmount(raw.LineTotal, "line_total", currency)
	if err != nil {
		return nil, err
	}

	taxRate := decimal.Zero
	if raw.TaxRate != "" {
		taxRate, err = decimal.NewFromString(raw.TaxRate)
		if err != nil {
			return nil, canonical.NewValidationError("tax_rate", "is not a valid decimal")
		}
	}
	taxAmount := canonical.Zero(currency)
	if raw.TaxAmount != "" {
		taxAmount, err = parseAmount(raw.TaxAmount, "tax_amount", currency)
		if err != nil {
			return nil, err
		}
	}

	return &canonical.LineItem{
		Description: raw.Description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		LineTotal:   lineTotal,
		TaxRate:     taxRate,
		TaxAmount:   taxAmount,
		TaxPresent:  raw.TaxRate != "" || raw.TaxAmount != "",
	}, nil
}

// toCanonicalParty maps a wire party onto the canonical shape
func toCanonicalParty(raw genericParty) canonical.Party {
	return canonical.Party{
		Name:    raw.Name,
		TaxID:   raw.TaxID,
		Address: raw.Address,
		Email:   raw.Email,
		Phone:   raw.Phone,
	}
}

// parseIssueDate accepts RFC 3339 timestamps and bare dates
func parseIssueDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, canonical.NewValidationError("issued_at", "is required")
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse("2006-01-02", value); err == nil {
		return ts, nil
	}
	return time.Time{}, canonical.NewValidationError("issued_at", "is not a valid timestamp")
}

// parseAmount parses a decimal-string money field; empty means zero
func parseAmount(value, field string, currency canonical.Currency) (canonical.Money, error) {
	if value == "" {
		return canonical.Zero(currency), nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return canonical.Money{}, canonical.NewValidationError(field, "is not a valid decimal")
	}
	money, err := canonical.NewMoney(amount, currency)
	if err != nil {
		return canonical.Money{}, canonical.NewValidationError(field, err.Error())
	}
	return money, nil
}
