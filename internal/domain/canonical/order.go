package canonical

import (
	"time"

	"github.com/shopspring/decimal"
)

// lineItemEpsilon is the tolerance for line-level arithmetic checks
var lineItemEpsilon = decimal.NewFromFloat(0.01)

// Party represents a party to an invoice (supplier or customer)
type Party struct {
	// Name is the registered or trading name
	Name string
	// TaxID is the tax identification number (TIN), optional
	TaxID string
	// Address is the postal address
	Address string
	// Email is the contact email address
	Email string
	// Phone is the contact phone number
	Phone string
}

// LineItem represents a single billable line on an order
type LineItem struct {
	// Description is the product or service description
	Description string
	// Quantity is the billed quantity
	Quantity decimal.Decimal
	// UnitPrice is the price per unit
	UnitPrice Money
	// LineTotal is quantity * unit price
	LineTotal Money
	// TaxRate is the tax rate as a decimal percent (e.g. 7.5)
	TaxRate decimal.Decimal
	// TaxAmount is the tax levied on this line
	TaxAmount Money
	// TaxPresent marks that the source record carried explicit tax
	// information, distinguishing a zero-rated line from an untaxed one
	TaxPresent bool
}

// Validate checks the line item arithmetic invariants:
// lineTotal == quantity * unitPrice and taxAmount == lineTotal * taxRate/100,
// both within one minor currency unit.
func (li *LineItem) Validate() error {
	if li.Quantity.IsZero() || li.Quantity.IsNegative() {
		return NewValidationError("quantity", "must be positive")
	}
	if li.TaxRate.IsNegative() {
		return NewValidationError("taxRate", "must not be negative")
	}

	expectedTotal := li.UnitPrice.Multiply(li.Quantity)
	diff := expectedTotal.Amount().Sub(li.LineTotal.Amount()).Abs()
	if diff.GreaterThan(lineItemEpsilon) {
		return NewValidationError("lineTotal", "does not equal quantity * unitPrice")
	}

	expectedTax := li.LineTotal.CalculatePercentage(li.TaxRate)
	diff = expectedTax.Amount().Sub(li.TaxAmount.Amount()).Abs()
	if diff.GreaterThan(lineItemEpsilon) {
		return NewValidationError("taxAmount", "does not equal lineTotal * taxRate/100")
	}

	return nil
}

// Order represents a provider order normalized into the canonical shape.
// Orders are value objects with no shared mutable state and are safe to pass
// across concurrency boundaries.
type Order struct {
	// ExternalID is the order identifier on the source platform
	ExternalID string
	// Number is the human-readable order/invoice number
	Number string
	// IssueDate is when the order was issued on the platform
	IssueDate time.Time
	// Currency is the order currency; empty means the connection default applies
	Currency Currency
	// Supplier is the selling party
	Supplier Party
	// Customer is the buying party
	Customer Party
	// Lines contains the ordered line items
	Lines []LineItem
	// Shipping is the shipping/freight charge
	Shipping Money
	// Discount is the total order-level discount
	Discount Money
	// PaymentMethod describes how the order was or will be paid
	PaymentMethod string
	// RawPayload is the original provider record, kept opaque for audit
	RawPayload []byte
}
